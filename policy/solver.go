package policy

import (
	"context"
	"math"
	"math/bits"

	"github.com/sirupsen/logrus"
)

var nan = math.NaN()

func isNaN(f float64) bool { return f != f }

// Lambda search defaults and the hard bracket ceiling. A target whose root
// cannot be bracketed below lambdaHardCap has no finite cost per success.
const (
	DefaultLambdaTolerance = 1e-6
	DefaultLambdaMaxIter   = 120
	lambdaHardCap          = 1e12
)

// Solver evaluates the enhancement value function for one (score PMFs,
// target, cost model) triple. It owns the per-mask DP caches; evaluating a
// new lambda resets only the touched entries.
//
// The Bellman equation, in cost form:
//
//	terminal (5 slots):  V = -lambda if score >= target, else 0
//	otherwise:           Qc = c(n+1) + E[V(child)]
//	                     Qa = -refund(n)
//	                     V  = min(Qc, Qa), exact ties decide Abandon
//
// The -lambda term is the Lagrangian reward for one success; at the root of
// the lambda search the expected cost per success equals lambda itself.
type Solver struct {
	pmfs   [][]ScoreProb
	target int // centi-score
	costs  *CostModel

	lambda  float64
	derived bool

	buffMaxScore [NumBuffs]int
	maxPossible  int
	caches       []*maskCache
	touched      []int

	res *resourceTable // lazily built after the final derive
}

// NewSolver validates the score PMFs and prepares the mask caches.
// targetScore is in points; it is bucketed onto the centi grid. A target
// above the bucketed maximum but not above the scorer's max (plus 1e-9) is
// clamped down to the bucketed maximum: the gap is a rounding artifact of
// uneven weights.
func NewSolver(pmfs [][]ScoreProb, targetScore, scorerMax float64, costs *CostModel) (*Solver, error) {
	if math.IsNaN(targetScore) || math.IsInf(targetScore, 0) {
		return nil, &InvalidInputError{Field: "targetScore", Reason: "must be finite"}
	}
	if targetScore < 0 {
		return nil, &InvalidInputError{Field: "targetScore", Reason: "must be non-negative"}
	}
	if len(pmfs) != NumBuffs {
		return nil, &InvalidInputError{Field: "scorePMFs", Reason: "wrong buff count"}
	}

	s := &Solver{pmfs: pmfs, costs: costs}
	var buffMinScore [NumBuffs]int
	for b := 0; b < NumBuffs; b++ {
		pmf := pmfs[b]
		if len(pmf) == 0 {
			return nil, &InvalidInputError{Field: "scorePMFs", Reason: "empty PMF"}
		}
		sum := 0.0
		for _, sp := range pmf {
			if math.IsNaN(sp.Prob) || sp.Prob < 0 {
				return nil, &NumericError{Op: "scorePMF", Value: sp.Prob}
			}
			sum += sp.Prob
		}
		if math.Abs(sum-1.0) > 1e-9 {
			return nil, &NumericError{Op: "scorePMF mass", Value: sum}
		}
		buffMinScore[b] = pmf[0].Score
		s.buffMaxScore[b] = pmf[len(pmf)-1].Score
	}

	s.maxPossible = bestCaseRemaining(0, s.buffMaxScore[:])
	s.target = ScoreUnits(targetScore)
	if s.target > s.maxPossible {
		if targetScore <= scorerMax+1e-9 {
			s.target = s.maxPossible
		} else {
			return nil, &UnreachableTargetError{Target: targetScore, MaxScore: scorerMax}
		}
	}

	s.caches = make([]*maskCache, len(partialMasks))
	for i, mask := range partialMasks {
		minScore, maxScore := 0, 0
		for b := 0; b < NumBuffs; b++ {
			if mask&(1<<b) == 0 {
				continue
			}
			minScore += buffMinScore[b]
			maxScore += s.buffMaxScore[b]
		}
		s.caches[i] = newMaskCache(minScore, maxScore, bestCaseRemaining(mask, s.buffMaxScore[:]))
	}
	return s, nil
}

// Target returns the bucketed target in centi-score units.
func (s *Solver) Target() int { return s.target }

// Lambda returns the multiplier of the last derived policy.
func (s *Solver) Lambda() float64 { return s.lambda }

// Derived reports whether a policy is available for queries.
func (s *Solver) Derived() bool { return s.derived }

// CostModel returns the cost model the solver prices reveals with.
func (s *Solver) CostModel() *CostModel { return s.costs }

func (s *Solver) clearCaches() {
	for _, idx := range s.touched {
		s.caches[idx].clear()
	}
	s.touched = s.touched[:0]
	s.res = nil
}

func (s *Solver) cacheSet(cacheIdx int, score int, value float64, decision bool) {
	c := s.caches[cacheIdx]
	if len(c.touched) == 0 {
		s.touched = append(s.touched, cacheIdx)
	}
	c.set(score, value, decision)
}

// clampScore folds all at-or-above-target scores into one bucket: the value
// function is constant there. The clamp stays within the mask's score range.
func (s *Solver) clampScore(cacheIdx int, score int) int {
	if score >= s.target {
		if min := s.caches[cacheIdx].minScore; s.target < min {
			return min
		}
		return s.target
	}
	return score
}

// valueRec computes V(mask, score), memoised per mask.
func (s *Solver) valueRec(mask uint16, score int) float64 {
	n := usedSlots(mask)
	if n >= MaxSlots {
		if score >= s.target {
			return -s.lambda
		}
		return 0
	}

	cacheIdx := partialIndex[mask]
	score = s.clampScore(cacheIdx, score)
	c := s.caches[cacheIdx]
	if v := c.get(score); !isNaN(v) {
		return v
	}

	qAbandon := -s.costs.AbandonRefund(n)

	// Hopeless states: the target is out of reach, so continuing only adds
	// cost that the refund cannot recover. Children are never expanded.
	if score+c.bestRemaining < s.target {
		s.cacheSet(cacheIdx, score, qAbandon, false)
		return qAbandon
	}

	total := 0.0
	remaining := maskAll ^ mask
	for remaining != 0 {
		lsb := remaining & -remaining
		b := bits.TrailingZeros16(lsb)
		remaining ^= lsb
		next := mask | lsb
		for _, sp := range s.pmfs[b] {
			total += sp.Prob * s.valueRec(next, score+sp.Score)
		}
	}
	qContinue := s.costs.RevealCost(n) + total/float64(NumBuffs-n)

	decision := qContinue < qAbandon
	v := qAbandon
	if decision {
		v = qContinue
	}
	s.cacheSet(cacheIdx, score, v, decision)
	return v
}

// rootContinueValue derives the policy at lambda and returns V(s0), the
// Lagrangian value of one attempt. The stage-0 abandon option is a no-op
// restart (Qa(s0) = 0), so V(s0) = min(Qc(s0), 0): it is zero while
// Qc(s0) >= 0 and equals Qc(s0) once that turns negative. The search keys
// on its sign.
func (s *Solver) rootContinueValue(lambda float64) float64 {
	s.clearCaches()
	s.lambda = lambda
	s.derived = true
	return s.valueRec(0, 0)
}

// DerivePolicy evaluates the value function at one lambda.
func (s *Solver) DerivePolicy(lambda float64) error {
	v := s.rootContinueValue(lambda)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &NumericError{Op: "value function", Value: v}
	}
	return nil
}

// RootValue returns V(s0) = min(Qc(s0), 0) of the currently derived policy.
func (s *Solver) RootValue() float64 {
	return s.caches[partialIndex[0]].get(s.clampScore(partialIndex[0], 0))
}

// LambdaSearch brackets and bisects lambda until the root value is within
// tol of zero. With free early reveals Qc(s0) can sit exactly at zero for a
// range of small lambdas, so the search only accepts a near-zero root from
// the negative side; the interval-collapse exit covers the plateau.
func (s *Solver) LambdaSearch(ctx context.Context, tol float64, maxIter int) (float64, error) {
	if math.IsNaN(tol) || tol <= 0 {
		return 0, &InvalidInputError{Field: "lambdaTolerance", Reason: "must be positive"}
	}
	if maxIter <= 0 {
		return 0, &InvalidInputError{Field: "lambdaMaxIter", Reason: "must be positive"}
	}

	lo, hi := 0.0, 1.0
	fLo := s.rootContinueValue(lo)
	if math.IsNaN(fLo) || math.IsInf(fLo, 0) {
		return 0, &NumericError{Op: "root value", Value: fLo}
	}
	if fLo < 0 {
		// Success is free at lambda 0; the optimum is a zero-cost policy.
		s.lambda = 0
		return 0, nil
	}

	fHi := s.rootContinueValue(hi)
	for fHi >= 0 {
		if err := ctx.Err(); err != nil {
			return 0, ErrCancelled
		}
		hi *= 2
		if hi > lambdaHardCap {
			return 0, &UnreachableTargetError{Target: ScoreFromUnits(s.target), MaxScore: ScoreFromUnits(s.maxPossible)}
		}
		fHi = s.rootContinueValue(hi)
	}

	lambda := hi
	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return 0, ErrCancelled
		}
		mid := 0.5 * (lo + hi)
		f := s.rootContinueValue(mid)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, &NumericError{Op: "root value", Value: f}
		}
		logrus.Debugf("lambda search iter=%d lambda=%.9g root=%.9g", iter, mid, f)
		if f < 0 {
			hi = mid
			if -f <= tol {
				lambda = mid
				break
			}
		} else {
			lo = mid
		}
		lambda = hi
		if hi-lo <= tol*(1+mid) {
			lambda = 0.5 * (lo + hi)
			break
		}
	}

	if err := s.DerivePolicy(lambda); err != nil {
		return 0, err
	}
	return lambda, nil
}

// Decision answers Continue/Abandon for a canonical state. The empty state
// always continues (restarting is a no-op); full states have nothing left
// to decide and report Abandon-equivalent false.
func (s *Solver) Decision(mask uint16, score int) (bool, error) {
	if !s.derived {
		return false, ErrNotReady
	}
	if isFullMask(mask) {
		return false, nil
	}
	if !isPartialMask(mask) {
		return false, &InvalidInputError{Field: "state", Reason: "invalid buff mask"}
	}
	if mask == 0 {
		return true, nil
	}
	cacheIdx := partialIndex[mask]
	return s.caches[cacheIdx].decision(s.clampScore(cacheIdx, score)), nil
}

// Value returns V(mask, score) under the derived policy. States the root
// recursion never reached are hopeless by construction and take the
// abandon refund.
func (s *Solver) Value(mask uint16, score int) (float64, error) {
	if !s.derived {
		return 0, ErrNotReady
	}
	n := usedSlots(mask)
	if n >= MaxSlots {
		if !isFullMask(mask) {
			return 0, &InvalidInputError{Field: "state", Reason: "invalid buff mask"}
		}
		if score >= s.target {
			return -s.lambda, nil
		}
		return 0, nil
	}
	if !isPartialMask(mask) {
		return 0, &InvalidInputError{Field: "state", Reason: "invalid buff mask"}
	}
	cacheIdx := partialIndex[mask]
	score = s.caches[cacheIdx].clampRange(s.clampScore(cacheIdx, score))
	if v := s.caches[cacheIdx].get(score); !isNaN(v) {
		return v, nil
	}
	return -s.costs.AbandonRefund(n), nil
}
