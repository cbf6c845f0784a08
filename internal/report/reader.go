// Package report ingests settlement report files: it streams CSV rows into
// the reconciliation dispatcher, tracks processed files for idempotent
// re-delivery, and publishes run outcomes.
package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"reconplatform/internal/settlement"
)

// CSVSource streams settlement rows from a CSV report. The first record is
// the header; every later record becomes one row keyed by the header's
// column names.
type CSVSource struct {
	reader       *csv.Reader
	liableHolder string
	header       []string
	line         int
}

// NewCSVSource creates a row source over a CSV report. liableHolder is the
// processor's own account holder in this report; rows are classified as
// processor-side or merchant-side against it at read time.
func NewCSVSource(r io.Reader, liableHolder string) *CSVSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return &CSVSource{
		reader:       cr,
		liableHolder: liableHolder,
	}
}

// Next implements settlement.RowSource.
func (s *CSVSource) Next(ctx context.Context) (settlement.Row, bool, error) {
	if err := ctx.Err(); err != nil {
		return settlement.Row{}, false, err
	}

	if s.header == nil {
		header, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return settlement.Row{}, false, errors.New("report has no header")
			}
			return settlement.Row{}, false, fmt.Errorf("reading report header: %w", err)
		}
		s.header = normalizeHeader(header)
		s.line = 1
	}

	for {
		record, err := s.reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return settlement.Row{}, false, nil
			}
			return settlement.Row{}, false, fmt.Errorf("reading report line %d: %w", s.line+1, err)
		}
		s.line++

		if isBlank(record) {
			continue
		}

		fields := make(map[string]string, len(s.header))
		for i, name := range s.header {
			if i < len(record) {
				fields[name] = strings.TrimSpace(record[i])
			}
		}

		row, err := settlement.NewRow(fields, s.liableHolder)
		if err != nil {
			return settlement.Row{}, false, fmt.Errorf("report line %d: %w", s.line, err)
		}
		return row, true, nil
	}
}

// normalizeHeader lowercases column names and folds spaces to underscores
// so "Transfer ID", "transfer_id" and "Transfer Id" all address the same
// column.
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		name = strings.ToLower(name)
		name = strings.ReplaceAll(name, " ", "_")
		out[i] = name
	}
	return out
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
