// Package report writes score reports to files, databases and terminals.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/linkrisk/internal/types"
)

// Sink receives score reports as they complete. Reports may arrive out of
// input order; Index recovers it. Implementations need not be safe for
// concurrent use: the scoring engine serialises calls.
type Sink interface {
	Write(ctx context.Context, report types.ScoreReport) error
	Close() error
}

// RunStarter is implemented by sinks that group reports by batch run.
type RunStarter interface {
	StartRun(ctx context.Context, runID uuid.UUID) error
}

// Open creates a file sink chosen by the extension of path: .csv, .jsonl
// (or .ndjson) and .xlsx. "-" writes CSV to stdout.
func Open(path string) (Sink, error) {
	var (
		sink Sink
		err  error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); {
	case path == "-":
		sink, err = NewCSVSink(os.Stdout)
	case ext == ".csv":
		sink, err = CreateCSV(path)
	case ext == ".jsonl", ext == ".ndjson":
		sink, err = CreateJSONL(path)
	case ext == ".xlsx":
		sink = NewXLSXSink(path)
	default:
		return nil, fmt.Errorf("unsupported report format %q (want .csv, .jsonl or .xlsx)", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Multi fans every report out to all sinks. A failing sink does not stop the others.
type Multi []Sink

func (m Multi) Write(ctx context.Context, report types.ScoreReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) StartRun(ctx context.Context, runID uuid.UUID) error {
	var errs []error
	for _, s := range m {
		if rs, ok := s.(RunStarter); ok {
			if err := rs.StartRun(ctx, runID); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Collector keeps every report in memory.
type Collector struct {
	Reports []types.ScoreReport
}

func (c *Collector) Write(_ context.Context, report types.ScoreReport) error {
	c.Reports = append(c.Reports, report)
	return nil
}

func (c *Collector) Close() error { return nil }

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
