package delete

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/bulk-delete/internal/model"
	"github.com/rudderlabs/bulk-delete/utils/httputil"
	"github.com/rudderlabs/bulk-delete/utils/misc"
)

// maxRetries is the number of extra attempts after the first one.
const maxRetries = 1

// DefaultRetryDelay is the wait between the two attempts when nothing else is configured.
const DefaultRetryDelay = time.Second

type deleter interface {
	Delete(ctx context.Context, rc model.RunContext, resourceID string) model.DeleteOutcome
}

// Retrier calls the deleter once and, unless the outcome is a 2xx, once more after rc.RetryDelay.
type Retrier struct {
	deleter deleter
	log     logger.Logger
	stats   stats.Stats
}

// NewRetrier wraps d with a single retry.
func NewRetrier(d deleter, log logger.Logger, stat stats.Stats) *Retrier {
	return &Retrier{
		deleter: d,
		log:     log.Child("retry"),
		stats:   stat,
	}
}

// Delete returns the first successful outcome or the outcome of the last attempt.
// If ctx is cancelled while waiting, the first outcome is returned.
func (r *Retrier) Delete(ctx context.Context, rc model.RunContext, resourceID string) model.DeleteOutcome {
	schedule := backoff.WithMaxRetries(backoff.NewConstantBackOff(rc.RetryDelay), maxRetries)

	for attempt := 1; ; attempt++ {
		outcome := r.deleter.Delete(ctx, rc, resourceID)
		if outcome.Success() {
			return outcome
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			return outcome
		}

		r.log.Warnn("attempt failed, retrying",
			logger.NewStringField("runId", rc.RunID),
			logger.NewStringField("resourceId", resourceID),
			logger.NewIntField("attempt", int64(attempt)),
			logger.NewIntField("statusCode", int64(outcome.StatusCode)),
			logger.NewBoolField("retriable", !outcome.HasStatus() || httputil.RetriableStatus(outcome.StatusCode)),
			logger.NewDurationField("retryIn", wait),
		)
		r.stats.NewTaggedStat("bulk_delete_retries", stats.CountType, stats.Tags{"siteId": rc.SiteID}).Increment()

		if err := misc.SleepCtx(ctx, wait); err != nil {
			return outcome
		}
	}
}

var _ deleter = (*Retrier)(nil)
