package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rerollWeights = map[string]float64{
	"Crit. Rate":   2,
	"Crit. DMG":    2,
	"ATK%":         2,
	"HP%":          2,
	"Energy Regen": 2,
}

func computeReroll(t *testing.T, svc *Service, target float64) *RerollAck {
	t.Helper()
	ack, err := svc.ComputeRerollPolicy(context.Background(), RerollComputeInput{
		BuffWeights:     rerollWeights,
		TargetScore:     target,
		LambdaTolerance: testTol,
	})
	require.NoError(t, err)
	return ack
}

// TestReroll_RankingInvariants verifies the lock choices are sorted by
// expected cost, rank-1 regret is zero, and slot indices are well formed.
func TestReroll_RankingInvariants(t *testing.T) {
	svc := NewService()
	computeReroll(t, svc, 8)

	result, err := svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Crit. DMG", "ATK%", "ATK", "DEF"},
	})
	require.NoError(t, err)
	require.True(t, result.Valid, result.Reason)
	require.NotEmpty(t, result.RecommendedLockChoices)

	assert.Zero(t, result.RecommendedLockChoices[0].Regret)
	prev := result.RecommendedLockChoices[0].ExpectedCost
	for _, choice := range result.RecommendedLockChoices {
		assert.GreaterOrEqual(t, choice.ExpectedCost, prev)
		prev = choice.ExpectedCost
		assert.InDelta(t, choice.ExpectedCost-result.RecommendedLockChoices[0].ExpectedCost, choice.Regret, 1e-12)
		assert.GreaterOrEqual(t, choice.SuccessProbability, 0.0)
		assert.LessOrEqual(t, choice.SuccessProbability, 1.0)

		seen := map[int]bool{}
		for _, idx := range choice.LockSlotIndices {
			assert.GreaterOrEqual(t, idx, 1)
			assert.LessOrEqual(t, idx, MaxSlots)
			assert.False(t, seen[idx])
			seen[idx] = true
		}
	}

	// ATK and DEF carry no weight: no partial lock-set may contain slots 4
	// or 5, but the full keep-everything option may.
	for _, choice := range result.RecommendedLockChoices {
		if len(choice.LockSlotIndices) == MaxSlots {
			continue
		}
		for _, idx := range choice.LockSlotIndices {
			assert.LessOrEqual(t, idx, 3)
		}
	}

	// AcceptCandidate is null without a candidate.
	assert.Nil(t, result.AcceptCandidate)
	assert.Nil(t, result.CandidateScore)
}

// TestReroll_PerfectBaseline covers S6: a baseline already at target keeps
// all five slots; every real reroll has non-negative regret.
func TestReroll_PerfectBaseline(t *testing.T) {
	svc := NewService()
	computeReroll(t, svc, 10)

	result, err := svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "Energy Regen"},
	})
	require.NoError(t, err)
	require.True(t, result.Valid, result.Reason)

	assert.InDelta(t, 10.0, result.BaselineScore, 1e-9)
	best := result.RecommendedLockChoices[0]
	assert.Len(t, best.LockSlotIndices, MaxSlots)
	assert.Equal(t, 1.0, best.SuccessProbability)
	for _, choice := range result.RecommendedLockChoices[1:] {
		assert.GreaterOrEqual(t, choice.Regret, 0.0)
	}
	assert.Nil(t, result.AcceptCandidate)
}

// TestReroll_AcceptCandidate verifies the accept decision for fully
// specified candidates.
func TestReroll_AcceptCandidate(t *testing.T) {
	svc := NewService()
	computeReroll(t, svc, 10)

	// Candidate identical to a perfect baseline: accepted.
	result, err := svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames:  []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "Energy Regen"},
		CandidateBuffNames: []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "Energy Regen"},
	})
	require.NoError(t, err)
	require.True(t, result.Valid, result.Reason)
	require.NotNil(t, result.AcceptCandidate)
	require.NotNil(t, result.CandidateScore)
	assert.InDelta(t, 10.0, *result.CandidateScore, 1e-9)
	assert.True(t, *result.AcceptCandidate)

	// Candidate scoring below the baseline: rejected.
	result, err = svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames:  []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "Energy Regen"},
		CandidateBuffNames: []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "ATK"},
	})
	require.NoError(t, err)
	require.NotNil(t, result.AcceptCandidate)
	assert.False(t, *result.AcceptCandidate)
}

// TestReroll_TopK verifies the ranked list truncates.
func TestReroll_TopK(t *testing.T) {
	svc := NewService()
	computeReroll(t, svc, 8)

	full, err := svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "Energy Regen"},
	})
	require.NoError(t, err)
	limited, err := svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Crit. DMG", "ATK%", "HP%", "Energy Regen"},
		TopK:              3,
	})
	require.NoError(t, err)

	require.True(t, len(full.RecommendedLockChoices) > 3)
	assert.Len(t, limited.RecommendedLockChoices, 3)
	assert.Equal(t, full.RecommendedLockChoices[:3], limited.RecommendedLockChoices)
}

// TestReroll_InvalidInputs verifies shape problems surface as Valid=false.
func TestReroll_InvalidInputs(t *testing.T) {
	svc := NewService()
	computeReroll(t, svc, 8)

	result, err := svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Crit. DMG"},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)

	result, err = svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Crit. Rate", "ATK%", "HP%", "Energy Regen"},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)

	result, err = svc.QueryRerollRecommendation(RerollQueryInput{
		BaselineBuffNames: []string{"Crit. Rate", "Mystery Stat", "ATK%", "HP%", "Energy Regen"},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
}
