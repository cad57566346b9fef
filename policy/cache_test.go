package policy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeSolve(counter *atomic.Int32) func(context.Context, ComputeRequest) (*SolvedPolicy, error) {
	return func(ctx context.Context, req ComputeRequest) (*SolvedPolicy, error) {
		counter.Add(1)
		return &SolvedPolicy{Request: req, Summary: Summary{TargetScore: req.TargetScore}}, nil
	}
}

func reqWithTarget(target float64) ComputeRequest {
	return ComputeRequest{
		Weights:     make([]float64, NumBuffs),
		TargetScore: target,
		Scorer:      ScorerLinear,
		Costs:       DefaultCostWeights(),
	}
}

// TestCache_Determinism verifies identical requests return the identical
// solved policy: same pointer, same id, no second solve.
func TestCache_Determinism(t *testing.T) {
	cache := NewCache(4)
	var solves atomic.Int32

	a, err := cache.Compute(context.Background(), reqWithTarget(50), fakeSolve(&solves))
	require.NoError(t, err)
	b, err := cache.Compute(context.Background(), reqWithTarget(50), fakeSolve(&solves))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, int32(1), solves.Load())
}

// TestCache_FingerprintRounding verifies weight noise below 1e-9 lands on
// the same entry while real differences do not.
func TestCache_FingerprintRounding(t *testing.T) {
	cache := NewCache(4)
	var solves atomic.Int32

	base := reqWithTarget(50)
	base.Weights[0] = 1
	noisy := reqWithTarget(50)
	noisy.Weights[0] = 1 + 1e-12

	a, err := cache.Compute(context.Background(), base, fakeSolve(&solves))
	require.NoError(t, err)
	b, err := cache.Compute(context.Background(), noisy, fakeSolve(&solves))
	require.NoError(t, err)
	assert.Same(t, a, b)

	different := reqWithTarget(50)
	different.Weights[0] = 1.5
	c, err := cache.Compute(context.Background(), different, fakeSolve(&solves))
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), solves.Load())
}

// TestCache_LRUEviction verifies the oldest entry falls out at the bound.
func TestCache_LRUEviction(t *testing.T) {
	cache := NewCache(2)
	var solves atomic.Int32

	first, err := cache.Compute(context.Background(), reqWithTarget(10), fakeSolve(&solves))
	require.NoError(t, err)
	_, err = cache.Compute(context.Background(), reqWithTarget(20), fakeSolve(&solves))
	require.NoError(t, err)
	_, err = cache.Compute(context.Background(), reqWithTarget(30), fakeSolve(&solves))
	require.NoError(t, err)

	assert.Equal(t, 2, cache.Len())
	// The first entry was evicted; its id no longer resolves.
	_, err = cache.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotReady)

	// Recomputing it solves again.
	_, err = cache.Compute(context.Background(), reqWithTarget(10), fakeSolve(&solves))
	require.NoError(t, err)
	assert.Equal(t, int32(4), solves.Load())
}

// TestCache_SingleFlight verifies concurrent computes for one fingerprint
// collapse into one solve.
func TestCache_SingleFlight(t *testing.T) {
	cache := NewCache(4)
	var solves atomic.Int32
	gate := make(chan struct{})
	slowSolve := func(ctx context.Context, req ComputeRequest) (*SolvedPolicy, error) {
		solves.Add(1)
		<-gate
		return &SolvedPolicy{Request: req}, nil
	}

	const callers = 8
	results := make([]*SolvedPolicy, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = cache.Compute(context.Background(), reqWithTarget(50), slowSolve)
		}()
	}
	close(gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), solves.Load())
	for i := 1; i < callers; i++ {
		assert.Same(t, results[0], results[i])
	}
}

// TestCache_ErrorLeavesNoEntry verifies a failed solve is not cached.
func TestCache_ErrorLeavesNoEntry(t *testing.T) {
	cache := NewCache(4)
	calls := 0
	failing := func(ctx context.Context, req ComputeRequest) (*SolvedPolicy, error) {
		calls++
		return nil, fmt.Errorf("boom %d", calls)
	}

	_, err := cache.Compute(context.Background(), reqWithTarget(50), failing)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	_, err = cache.Compute(context.Background(), reqWithTarget(50), failing)
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

// TestCache_GetDefaultsToLatest verifies the empty id resolves to the most
// recent compute and errors before any compute.
func TestCache_GetDefaultsToLatest(t *testing.T) {
	cache := NewCache(4)
	var solves atomic.Int32

	_, err := cache.Get("")
	assert.ErrorIs(t, err, ErrNotReady)

	first, err := cache.Compute(context.Background(), reqWithTarget(10), fakeSolve(&solves))
	require.NoError(t, err)
	second, err := cache.Compute(context.Background(), reqWithTarget(20), fakeSolve(&solves))
	require.NoError(t, err)

	got, err := cache.Get("")
	require.NoError(t, err)
	assert.Same(t, second, got)

	got, err = cache.Get(first.ID)
	require.NoError(t, err)
	assert.Same(t, first, got)
}
