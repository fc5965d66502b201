package api

// Issues a single DELETE call per resource against the resources API.
// Called by the retry policy with (model.RunContext, resourceID).
// Returns a model.DeleteOutcome: either the raw status & body, or the error that
// prevented the exchange from completing. It never returns an error on its own.
import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/rudderlabs/bulk-delete/internal/model"
	"github.com/rudderlabs/bulk-delete/utils/httputil"
)

type APIManager struct {
	Client  *http.Client
	BaseURL string
	Logger  logger.Logger
	Stats   stats.Stats
}

// Delete prepares the endpoint from (site, resource) & makes the DELETE call.
func (m *APIManager) Delete(ctx context.Context, rc model.RunContext, resourceID string) model.DeleteOutcome {
	endpoint := m.endpoint(rc.SiteID, resourceID)
	log := m.Logger.Withn(
		logger.NewStringField("runId", rc.RunID),
		logger.NewStringField("resourceId", resourceID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		log.Errorn("creating delete request", obskit.Error(err))
		return m.failed(rc, fmt.Errorf("creating delete request: %w", err))
	}
	req.Header.Set("Authorization", rc.AuthHeader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	log.Debugn("sending delete request", logger.NewStringField("url", endpoint))
	start := time.Now()
	resp, err := m.Client.Do(req)
	m.Stats.NewTaggedStat("bulk_delete_api_request_latency", stats.TimerType, stats.Tags{
		"siteId": rc.SiteID,
	}).Since(start)
	if err != nil {
		log.Warnn("delete request did not complete", obskit.Error(err))
		return m.failed(rc, err)
	}

	body, err := httputil.ReadAndClose(resp)
	if err != nil {
		log.Warnn("reading delete response body", obskit.Error(err))
		return m.failed(rc, fmt.Errorf("reading response body: %w", err))
	}

	log.Debugn("delete response received", logger.NewIntField("statusCode", int64(resp.StatusCode)))
	m.countRequest(rc, strconv.Itoa(resp.StatusCode))
	return model.DeleteOutcome{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

func (m *APIManager) endpoint(siteID, resourceID string) string {
	return fmt.Sprintf("%s/%s/resources/%s",
		strings.TrimRight(m.BaseURL, "/"),
		url.PathEscape(siteID),
		url.PathEscape(resourceID),
	)
}

func (m *APIManager) failed(rc model.RunContext, err error) model.DeleteOutcome {
	m.countRequest(rc, "0")
	return model.DeleteOutcome{Err: err}
}

func (m *APIManager) countRequest(rc model.RunContext, statusCode string) {
	m.Stats.NewTaggedStat("bulk_delete_api_requests", stats.CountType, stats.Tags{
		"siteId":     rc.SiteID,
		"statusCode": statusCode,
	}).Increment()
}
