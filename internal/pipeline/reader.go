package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"

	"github.com/rudderlabs/bulk-delete/internal/model"
)

const utf8BOM = "\ufeff"

// Reader streams input records. Only the resource_id column is read.
type Reader struct {
	csv     *csv.Reader
	idIndex int
	line    int
}

// NewReader consumes the header row and fails with model.ErrMissingResourceIDColumn
// if no column is named resource_id.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, model.ErrMissingResourceIDColumn
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	_, idIndex, found := lo.FindIndexOf(header, func(column string) bool {
		return strings.EqualFold(normalizeColumn(column), model.ResourceIDColumn)
	})
	if !found {
		return nil, model.ErrMissingResourceIDColumn
	}
	return &Reader{csv: cr, idIndex: idIndex, line: 1}, nil
}

// Read returns the next record or io.EOF once the input is exhausted.
func (r *Reader) Read() (model.InputRecord, error) {
	row, err := r.csv.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.InputRecord{}, io.EOF
		}
		return model.InputRecord{}, fmt.Errorf("reading row %d: %w", r.line+1, err)
	}
	r.line++

	record := model.InputRecord{Line: r.line}
	if r.idIndex < len(row) {
		record.ResourceID = row[r.idIndex]
	}
	return record, nil
}

func normalizeColumn(column string) string {
	return strings.TrimSpace(strings.TrimPrefix(column, utf8BOM))
}
