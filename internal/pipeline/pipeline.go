package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"
	obskit "github.com/rudderlabs/rudder-observability-kit/go/labels"

	"github.com/rudderlabs/bulk-delete/internal/model"
	"github.com/rudderlabs/bulk-delete/utils/httputil"
)

const emptyResourceID = "empty resource_id"

type deleter interface {
	Delete(ctx context.Context, rc model.RunContext, resourceID string) model.DeleteOutcome
}

// Pipeline processes input records one at a time, in input order.
type Pipeline struct {
	deleter deleter
	log     logger.Logger
	stats   stats.Stats
}

// New returns a pipeline that deletes every record through d.
func New(d deleter, log logger.Logger, stat stats.Stats) *Pipeline {
	return &Pipeline{
		deleter: d,
		log:     log.Child("pipeline"),
		stats:   stat,
	}
}

// RunFile validates the input schema before creating outputPath, so a fatal schema error leaves no output behind.
// The output file is closed when RunFile returns.
func (p *Pipeline) RunFile(ctx context.Context, rc model.RunContext, inputPath, outputPath string) (summary model.RunSummary, err error) {
	summary = model.RunSummary{SiteID: rc.SiteID, OutputPath: outputPath}

	in, err := os.Open(inputPath)
	if err != nil {
		return summary, fmt.Errorf("opening input %q: %w", inputPath, err)
	}
	defer func() { _ = in.Close() }()

	reader, err := NewReader(in)
	if err != nil {
		return summary, err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return summary, fmt.Errorf("creating output %q: %w", outputPath, err)
	}
	defer func() {
		if syncErr := out.Sync(); syncErr != nil && err == nil {
			err = fmt.Errorf("syncing output %q: %w", outputPath, syncErr)
		}
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing output %q: %w", outputPath, closeErr)
		}
	}()

	writer, err := NewWriter(out)
	if err != nil {
		return summary, err
	}

	summary, err = p.process(ctx, rc, reader, writer)
	summary.OutputPath = outputPath
	return summary, err
}

// Run fails with model.ErrMissingResourceIDColumn before writing anything if the input has no resource_id column.
func (p *Pipeline) Run(ctx context.Context, rc model.RunContext, r io.Reader, w io.Writer) (model.RunSummary, error) {
	reader, err := NewReader(r)
	if err != nil {
		return model.RunSummary{SiteID: rc.SiteID}, err
	}
	writer, err := NewWriter(w)
	if err != nil {
		return model.RunSummary{SiteID: rc.SiteID}, err
	}
	return p.process(ctx, rc, reader, writer)
}

func (p *Pipeline) process(ctx context.Context, rc model.RunContext, reader *Reader, writer *Writer) (model.RunSummary, error) {
	summary := model.RunSummary{SiteID: rc.SiteID}
	log := p.log.Withn(
		logger.NewStringField("runId", rc.RunID),
		logger.NewStringField("siteId", rc.SiteID),
	)

	for {
		if err := ctx.Err(); err != nil {
			log.Warnn("Run interrupted",
				logger.NewIntField("total", int64(summary.Total)),
				obskit.Error(err),
			)
			return summary, fmt.Errorf("run interrupted after %d records: %w", summary.Total, err)
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}

		summary.Total++
		out := p.deleteRecord(ctx, rc, record)
		if out.ResponseCode != nil && httputil.SuccessStatus(*out.ResponseCode) {
			summary.Success++
			p.countRecord(rc, "success")
		} else {
			summary.Failed++
			p.countRecord(rc, "failed")
		}

		if err := writer.Write(out); err != nil {
			return summary, err
		}

		log.Infon("Processed record",
			logger.NewIntField("record", int64(summary.Total)),
			logger.NewStringField("resourceId", record.ResourceID),
			logger.NewIntField("statusCode", int64(lo.FromPtr(out.ResponseCode))),
			logger.NewIntField("success", int64(summary.Success)),
			logger.NewIntField("failed", int64(summary.Failed)),
		)
	}
}

func (p *Pipeline) deleteRecord(ctx context.Context, rc model.RunContext, record model.InputRecord) model.OutputRecord {
	out := model.OutputRecord{ResourceID: record.ResourceID, SiteID: rc.SiteID}
	resourceID := strings.TrimSpace(record.ResourceID)
	if resourceID == "" {
		p.log.Warnn("Skipping record without resource_id", logger.NewIntField("line", int64(record.Line)))
		out.ResponseText = emptyResourceID
		return out
	}

	outcome := p.deleter.Delete(ctx, rc, resourceID)
	if outcome.HasStatus() {
		out.ResponseCode = lo.ToPtr(outcome.StatusCode)
	}
	out.ResponseText = Sanitize(outcome.Diagnostic())
	return out
}

func (p *Pipeline) countRecord(rc model.RunContext, status string) {
	p.stats.NewTaggedStat("bulk_delete_records", stats.CountType, stats.Tags{
		"siteId": rc.SiteID,
		"status": status,
	}).Increment()
}
