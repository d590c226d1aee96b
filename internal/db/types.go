package db

import (
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/linkrisk/internal/types"
)

// StoredReport is a score report row
type StoredReport struct {
	ID          int64               `json:"id"`
	RunID       uuid.UUID           `json:"run_id"`
	Index       int                 `json:"index"`
	URL         string              `json:"url"`
	TotalScore  int                 `json:"total_score"`
	Tier        string              `json:"tier"`
	Outcomes    []types.RuleOutcome `json:"outcomes"`
	EvaluatedAt time.Time           `json:"evaluated_at"`
	CreatedAt   time.Time           `json:"created_at"`
}

// Report converts the row back into a score report.
func (r *StoredReport) Report() (*types.ScoreReport, error) {
	tier, err := types.ParseRiskTier(r.Tier)
	if err != nil {
		return nil, err
	}
	return &types.ScoreReport{
		Index:       r.Index,
		URL:         r.URL,
		Outcomes:    r.Outcomes,
		TotalScore:  r.TotalScore,
		Tier:        tier,
		EvaluatedAt: r.EvaluatedAt,
	}, nil
}
