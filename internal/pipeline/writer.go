package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rudderlabs/bulk-delete/internal/model"
)

var outputHeader = []string{"resource_id", "site_id", "response_code", "response_text"}

var sanitizer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ", ",", ";")

// Sanitize makes free text safe for a single CSV cell: line breaks become spaces and commas become semicolons.
func Sanitize(s string) string {
	return sanitizer.Replace(s)
}

// Writer writes output records, flushing after every row.
type Writer struct {
	csv *csv.Writer
}

// NewWriter writes the header row.
func NewWriter(w io.Writer) (*Writer, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(outputHeader); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("writing header: %w", err)
	}
	return &Writer{csv: cw}, nil
}

func (w *Writer) Write(record model.OutputRecord) error {
	code := ""
	if record.ResponseCode != nil {
		code = strconv.Itoa(*record.ResponseCode)
	}
	if err := w.csv.Write([]string{record.ResourceID, record.SiteID, code, record.ResponseText}); err != nil {
		return fmt.Errorf("writing record %q: %w", record.ResourceID, err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("writing record %q: %w", record.ResourceID, err)
	}
	return nil
}
