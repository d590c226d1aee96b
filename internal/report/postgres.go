package report

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/jonathan/linkrisk/internal/db"
	"github.com/jonathan/linkrisk/internal/types"
)

// ReportSaver stores one report of a run. *db.DB implements it.
type ReportSaver interface {
	SaveReport(ctx context.Context, runID uuid.UUID, report *types.ScoreReport) error
}

var _ ReportSaver = (*db.DB)(nil)

// PostgresSink stores reports in the score_reports table under the current run.
type PostgresSink struct {
	saver ReportSaver
	runID uuid.UUID
}

// NewPostgresSink stores reports through saver. Reports written before
// StartRun are grouped under a fresh run ID.
func NewPostgresSink(saver ReportSaver) *PostgresSink {
	return &PostgresSink{saver: saver, runID: uuid.New()}
}

func (s *PostgresSink) StartRun(_ context.Context, runID uuid.UUID) error {
	if runID == uuid.Nil {
		return errors.New("run ID is nil")
	}
	s.runID = runID
	return nil
}

// RunID returns the run reports are currently stored under.
func (s *PostgresSink) RunID() uuid.UUID {
	return s.runID
}

func (s *PostgresSink) Write(ctx context.Context, report types.ScoreReport) error {
	return s.saver.SaveReport(ctx, s.runID, &report)
}

// Close leaves the connection open; its owner closes it.
func (s *PostgresSink) Close() error {
	return nil
}
