package model

import (
	"errors"
	"time"
)

// ErrMissingResourceIDColumn aborts a run before any record is processed.
var ErrMissingResourceIDColumn = errors.New("input must contain a 'resource_id' column")

// ResourceIDColumn is the only input column the pipeline reads.
const ResourceIDColumn = "resource_id"

// InputRecord is one row of the input table.
type InputRecord struct {
	// Line is the 1-based position of the row in the input, header included.
	Line int
	// ResourceID is the cell as read; surrounding whitespace is kept.
	ResourceID string
}

// RunContext is the immutable configuration of a single run.
type RunContext struct {
	RunID      string
	SiteID     string
	AuthHeader string
	RetryDelay time.Duration
}

// DeleteOutcome is the result of a single delete attempt.
// Err is set when the exchange did not complete; StatusCode and Body are then empty.
type DeleteOutcome struct {
	StatusCode int
	Body       string
	Err        error
}

// HasStatus reports whether the exchange completed with an HTTP status.
func (o DeleteOutcome) HasStatus() bool {
	return o.Err == nil
}

// Success reports whether the status is present and in the 2xx band.
func (o DeleteOutcome) Success() bool {
	return o.HasStatus() && o.StatusCode >= 200 && o.StatusCode < 300
}

// Diagnostic returns the response body or, for incomplete exchanges, the error text.
func (o DeleteOutcome) Diagnostic() string {
	if o.Err != nil {
		return o.Err.Error()
	}
	return o.Body
}

// OutputRecord is one row of the output table. ResponseCode is nil when no status was received.
type OutputRecord struct {
	ResourceID   string
	SiteID       string
	ResponseCode *int
	ResponseText string
}

// RunSummary holds the counters of a run. Success + Failed always equals Total.
type RunSummary struct {
	SiteID     string
	OutputPath string
	Total      int
	Success    int
	Failed     int
}
