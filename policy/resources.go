package policy

import (
	"math"
	"math/bits"
	"sort"
)

// resourceTable carries, per DP state, the success probability and the
// expected raw tuner/exp consumption from that state to the end of the
// attempt under the derived policy. Entries parallel the maskCache value
// slices; the root totals summarise one whole attempt.
type resourceTable struct {
	succ  [][]float64
	tuner [][]float64
	exp   [][]float64

	rootSucc  float64
	rootTuner float64
	rootExp   float64
}

// ResourceSummary is the per-success decomposition reported to callers.
type ResourceSummary struct {
	SuccessProbability float64
	EchoPerSuccess     float64
	TunerPerSuccess    float64
	ExpPerSuccess      float64
}

// BuildResources runs the fixed-policy expectation pass over every state
// the value recursion touched. Masks are processed by descending slot
// count so children are always resolved first. Must run after the final
// DerivePolicy; the table is retained for per-state queries.
func (s *Solver) BuildResources() (*ResourceSummary, error) {
	if !s.derived {
		return nil, ErrNotReady
	}

	res := &resourceTable{
		succ:  make([][]float64, len(s.caches)),
		tuner: make([][]float64, len(s.caches)),
		exp:   make([][]float64, len(s.caches)),
	}

	order := make([]int, 0, len(s.touched))
	order = append(order, s.touched...)
	sort.Slice(order, func(i, j int) bool {
		return usedSlots(partialMasks[order[i]]) > usedSlots(partialMasks[order[j]])
	})

	for _, cacheIdx := range order {
		mask := partialMasks[cacheIdx]
		c := s.caches[cacheIdx]
		n := usedSlots(mask)

		succ := make([]float64, len(c.values))
		tuner := make([]float64, len(c.values))
		exp := make([]float64, len(c.values))
		for i := range succ {
			succ[i] = nan
		}
		res.succ[cacheIdx] = succ
		res.tuner[cacheIdx] = tuner
		res.exp[cacheIdx] = exp

		for _, idx := range c.touched {
			score := c.minScore + idx
			if !c.decision(score) {
				// Abandoned here: no further spend, the embedded exp is
				// partially refunded.
				succ[idx] = 0
				exp[idx] = -s.costs.RefundRatio() * s.costs.ExpSpent(n)
				continue
			}
			sc, tn, ex, err := s.expectChildren(res, mask, n, score)
			if err != nil {
				return nil, err
			}
			succ[idx] = sc
			tuner[idx] = tn + s.costs.TunerAt(n)
			exp[idx] = ex + s.costs.ExpAt(n)
		}
	}

	// The root attempt always proceeds: abandoning before the first reveal
	// is a restart, not an outcome.
	rootSucc, rootTuner, rootExp, err := s.expectChildren(res, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	res.rootSucc = rootSucc
	res.rootTuner = rootTuner + s.costs.TunerAt(0)
	res.rootExp = rootExp + s.costs.ExpAt(0)
	s.res = res

	if rootSucc <= 0 {
		return nil, &UnreachableTargetError{Target: ScoreFromUnits(s.target), MaxScore: ScoreFromUnits(s.maxPossible)}
	}
	return &ResourceSummary{
		SuccessProbability: rootSucc,
		EchoPerSuccess:     echoPerAttempt / rootSucc,
		TunerPerSuccess:    res.rootTuner / rootSucc,
		ExpPerSuccess:      res.rootExp / rootSucc,
	}, nil
}

// expectChildren averages the child outcomes of a Continue state over the
// uniform buff draw and each buff's score PMF.
func (s *Solver) expectChildren(res *resourceTable, mask uint16, n, score int) (succ, tuner, exp float64, err error) {
	remaining := maskAll ^ mask
	for remaining != 0 {
		lsb := remaining & -remaining
		b := bits.TrailingZeros16(lsb)
		remaining ^= lsb
		next := mask | lsb
		for _, sp := range s.pmfs[b] {
			cs, ct, ce, cerr := s.stateOutcome(res, next, score+sp.Score)
			if cerr != nil {
				return 0, 0, 0, cerr
			}
			succ += sp.Prob * cs
			tuner += sp.Prob * ct
			exp += sp.Prob * ce
		}
	}
	scale := 1 / float64(NumBuffs-n)
	return succ * scale, tuner * scale, exp * scale, nil
}

// stateOutcome reads one child state's (success, tuner, exp) triple.
func (s *Solver) stateOutcome(res *resourceTable, mask uint16, score int) (float64, float64, float64, error) {
	n := usedSlots(mask)
	if n >= MaxSlots {
		if score >= s.target {
			return 1, 0, 0, nil
		}
		return 0, 0, 0, nil
	}
	cacheIdx := partialIndex[mask]
	score = s.clampScore(cacheIdx, score)
	c := s.caches[cacheIdx]
	if !c.decision(score) {
		return 0, 0, -s.costs.RefundRatio() * s.costs.ExpSpent(n), nil
	}
	succ := res.succ[cacheIdx]
	if succ == nil {
		return 0, 0, 0, &NumericError{Op: "resource pass", Value: nan}
	}
	idx := score - c.minScore
	if math.IsNaN(succ[idx]) {
		return 0, 0, 0, &NumericError{Op: "resource pass", Value: nan}
	}
	return succ[idx], res.tuner[cacheIdx][idx], res.exp[cacheIdx][idx], nil
}

// SuccessProb is the probability of finishing at or above target from the
// given state while following the derived policy.
func (s *Solver) SuccessProb(mask uint16, score int) (float64, error) {
	if !s.derived || s.res == nil {
		return 0, ErrNotReady
	}
	n := usedSlots(mask)
	if n >= MaxSlots {
		if !isFullMask(mask) {
			return 0, &InvalidInputError{Field: "state", Reason: "invalid buff mask"}
		}
		if score >= s.target {
			return 1, nil
		}
		return 0, nil
	}
	if !isPartialMask(mask) {
		return 0, &InvalidInputError{Field: "state", Reason: "invalid buff mask"}
	}
	if mask == 0 {
		return s.res.rootSucc, nil
	}
	if score >= s.target {
		return 1, nil
	}
	cacheIdx := partialIndex[mask]
	c := s.caches[cacheIdx]
	score = c.clampRange(score)
	if !c.decision(score) {
		return 0, nil
	}
	succ := s.res.succ[cacheIdx]
	if succ == nil || math.IsNaN(succ[score-c.minScore]) {
		return 0, &InvalidInputError{Field: "state", Reason: "score not reachable under the catalogue grid"}
	}
	return succ[score-c.minScore], nil
}
