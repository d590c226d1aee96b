package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jonathan/linkrisk/internal/types"
)

// CSVSink writes the flat report record, one row per URL, under the standard header.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
}

// NewCSVSink writes to w and writes the header immediately. Close does not close w.
func NewCSVSink(w io.Writer) (*CSVSink, error) {
	return newCSVSink(nopCloser{w})
}

// CreateCSV creates (or truncates) the file at path.
func CreateCSV(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", path, err)
	}
	s, err := newCSVSink(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func newCSVSink(wc io.WriteCloser) (*CSVSink, error) {
	s := &CSVSink{w: csv.NewWriter(wc), closer: wc}
	if err := s.writeRow(types.RecordHeader()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *CSVSink) Write(_ context.Context, report types.ScoreReport) error {
	return s.writeRow(report.Record())
}

func (s *CSVSink) writeRow(row []string) error {
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write csv row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	return errors.Join(s.w.Error(), s.closer.Close())
}

// JSONLSink writes each report as one JSON object per line, including rule status and detail.
type JSONLSink struct {
	enc    *json.Encoder
	closer io.Closer
}

// NewJSONLSink writes to w. Close does not close w.
func NewJSONLSink(w io.Writer) *JSONLSink {
	return &JSONLSink{enc: json.NewEncoder(w), closer: nopCloser{w}}
}

// CreateJSONL creates (or truncates) the file at path.
func CreateJSONL(path string) (*JSONLSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", path, err)
	}
	return &JSONLSink{enc: json.NewEncoder(f), closer: f}, nil
}

func (s *JSONLSink) Write(_ context.Context, report types.ScoreReport) error {
	if err := s.enc.Encode(report); err != nil {
		return fmt.Errorf("failed to encode report for %s: %w", report.URL, err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	return s.closer.Close()
}
