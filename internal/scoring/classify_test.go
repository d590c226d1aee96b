package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/linkrisk/internal/types"
)

func TestClassify_DefaultBands(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		total int
		want  types.RiskTier
	}{
		{-1, types.TierNoRisk},
		{0, types.TierNoRisk},
		{1, types.TierLow},
		{2, types.TierMedium},
		{3, types.TierMedium},
		{4, types.TierCritical},
		{14, types.TierCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, th.Classify(tt.total), "total %d", tt.total)
	}
}

func TestClassify_CustomBands(t *testing.T) {
	th := Thresholds{NoRiskMax: 1, LowMax: 3, MediumMax: 6}

	assert.Equal(t, types.TierNoRisk, th.Classify(1))
	assert.Equal(t, types.TierLow, th.Classify(2))
	assert.Equal(t, types.TierMedium, th.Classify(6))
	assert.Equal(t, types.TierCritical, th.Classify(7))
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, DefaultThresholds().Validate())
	assert.ErrorContains(t, Thresholds{NoRiskMax: 1, LowMax: 1, MediumMax: 3}.Validate(), "low_max")
	assert.ErrorContains(t, Thresholds{NoRiskMax: 0, LowMax: 2, MediumMax: 2}.Validate(), "medium_max")
}
