// Package scoring aggregates rule outcomes into risk reports for single URLs and batches.
package scoring

import (
	"fmt"

	"github.com/jonathan/linkrisk/internal/types"
)

// Thresholds are the inclusive upper bounds of the lower risk tiers.
// Totals above MediumMax are critical.
type Thresholds struct {
	NoRiskMax int `json:"no_risk_max"`
	LowMax    int `json:"low_max"`
	MediumMax int `json:"medium_max"`
}

// DefaultThresholds returns the bands tuned for the stock rule weights:
// 0 or less is no risk, 1 is low, 2 to 3 is medium, above 3 is critical.
func DefaultThresholds() Thresholds {
	return Thresholds{NoRiskMax: 0, LowMax: 1, MediumMax: 3}
}

// Validate rejects bands that are not strictly increasing.
func (t Thresholds) Validate() error {
	if t.LowMax <= t.NoRiskMax {
		return fmt.Errorf("low_max (%d) must be greater than no_risk_max (%d)", t.LowMax, t.NoRiskMax)
	}
	if t.MediumMax <= t.LowMax {
		return fmt.Errorf("medium_max (%d) must be greater than low_max (%d)", t.MediumMax, t.LowMax)
	}
	return nil
}

// Classify maps a total score to its tier.
func (t Thresholds) Classify(total int) types.RiskTier {
	switch {
	case total <= t.NoRiskMax:
		return types.TierNoRisk
	case total <= t.LowMax:
		return types.TierLow
	case total <= t.MediumMax:
		return types.TierMedium
	default:
		return types.TierCritical
	}
}
