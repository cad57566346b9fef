package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCostModel_Schedule verifies the per-slot reveal costs against the
// authoritative schedule, with the echo booked once at the first reveal.
func TestCostModel_Schedule(t *testing.T) {
	m, err := NewCostModel(CostWeights{Echo: 2, Tuner: 1, Exp: 1}, 0)
	require.NoError(t, err)

	// slot 1: 1 tuner + 0 exp + 2 echo weight
	assert.InDelta(t, 1*1+0+2, m.RevealCost(0), 1e-12)
	assert.InDelta(t, 1.0, m.RevealCost(1), 1e-12)
	assert.InDelta(t, 3+1600.0, m.RevealCost(2), 1e-12)
	assert.InDelta(t, 6+2000.0, m.RevealCost(3), 1e-12)
	assert.InDelta(t, 9+2800.0, m.RevealCost(4), 1e-12)

	assert.Equal(t, 0.0, m.ExpSpent(0))
	assert.Equal(t, 0.0, m.ExpSpent(2))
	assert.Equal(t, 1600.0, m.ExpSpent(3))
	assert.Equal(t, 6400.0, m.ExpSpent(5))
}

// TestCostModel_AbandonRefund verifies the refund covers the exp axis only
// and scales with the embedded exp.
func TestCostModel_AbandonRefund(t *testing.T) {
	m, err := NewCostModel(CostWeights{Echo: 1, Tuner: 1, Exp: 2}, 0.5)
	require.NoError(t, err)

	assert.Equal(t, 0.0, m.AbandonRefund(0))
	assert.Equal(t, 0.0, m.AbandonRefund(2))
	assert.InDelta(t, 2*0.5*1600, m.AbandonRefund(3), 1e-12)
	assert.InDelta(t, 2*0.5*3600, m.AbandonRefund(4), 1e-12)

	// Tuner-only weights never see a refund.
	tunerOnly, err := NewCostModel(CostWeights{Tuner: 1}, 0.66)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tunerOnly.AbandonRefund(4))
}

// TestCostModel_RefundClamp verifies out-of-range ratios clamp to [0, 0.75].
func TestCostModel_RefundClamp(t *testing.T) {
	m, err := NewCostModel(CostWeights{Tuner: 1}, 0.9)
	require.NoError(t, err)
	assert.Equal(t, RefundRatioMax, m.RefundRatio())

	m, err = NewCostModel(CostWeights{Tuner: 1}, -0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.RefundRatio())
}

// TestCostModel_Validation covers negative and all-zero weights.
func TestCostModel_Validation(t *testing.T) {
	var invalid *InvalidInputError

	_, err := NewCostModel(CostWeights{Tuner: -1}, 0)
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "wTuner", invalid.Field)

	_, err = NewCostModel(CostWeights{}, 0)
	require.ErrorAs(t, err, &invalid)
}
