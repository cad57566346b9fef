package policy

import (
	"fmt"
	"math"
	"math/bits"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// SimulationSummary reports a seeded replay of a solved policy. The figures
// must agree with the analytic summary within statistical bounds; the
// standard errors let callers judge that.
type SimulationSummary struct {
	TotalRuns              int     `json:"totalRuns"`
	Successes              int     `json:"successes"`
	SuccessRate            float64 `json:"successRate"`
	SuccessRateStdErr      float64 `json:"successRateStdErr"`
	EchoPerSuccess         float64 `json:"echoPerSuccess"`
	TunerPerSuccess        float64 `json:"tunerPerSuccess"`
	ExpPerSuccess          float64 `json:"expPerSuccess"`
	WeightedCostPerSuccess float64 `json:"weightedCostPerSuccess"`
	CostPerAttemptStdErr   float64 `json:"costPerAttemptStdErr"`
}

type shardResult struct {
	attempts  int
	successes int
	tuner     float64
	exp       float64
	costs     []float64 // weighted cost per attempt
}

// Simulate replays the derived policy for runs independent attempts with a
// seeded RNG: draw per the reveal rule, stop on the table's decision, book
// the schedule costs and the abandon refund.
func Simulate(sp *SolvedPolicy, runs int, seed int64) (*SimulationSummary, error) {
	if runs <= 0 {
		return nil, &InvalidInputError{Field: "simulationRuns", Reason: "must be positive"}
	}
	solver := sp.Solver
	if !solver.Derived() {
		return nil, ErrNotReady
	}

	shards := runtime.GOMAXPROCS(0)
	if shards > runs {
		shards = 1
	}
	results := make([]shardResult, shards)

	var g errgroup.Group
	for i := 0; i < shards; i++ {
		i := i
		n := runs / shards
		if i == shards-1 {
			n = runs - (shards-1)*(runs/shards)
		}
		g.Go(func() error {
			rng := rand.New(rand.NewSource(seed + int64(i)))
			results[i] = replayShard(solver, rng, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := shardResult{}
	costs := make([]float64, 0, runs)
	for _, r := range results {
		total.attempts += r.attempts
		total.successes += r.successes
		total.tuner += r.tuner
		total.exp += r.exp
		costs = append(costs, r.costs...)
	}
	if total.successes == 0 {
		return nil, fmt.Errorf("monte carlo: no successes in %d attempts", runs)
	}

	p := float64(total.successes) / float64(total.attempts)
	meanCost := stat.Mean(costs, nil)
	costStdErr := stat.StdDev(costs, nil) / math.Sqrt(float64(len(costs)))
	succ := float64(total.successes)
	return &SimulationSummary{
		TotalRuns:              total.attempts,
		Successes:              total.successes,
		SuccessRate:            p,
		SuccessRateStdErr:      math.Sqrt(p * (1 - p) / float64(total.attempts)),
		EchoPerSuccess:         float64(total.attempts) / succ,
		TunerPerSuccess:        total.tuner / succ,
		ExpPerSuccess:          total.exp / succ,
		WeightedCostPerSuccess: meanCost * float64(total.attempts) / succ,
		CostPerAttemptStdErr:   costStdErr,
	}, nil
}

// replayShard runs n attempts on one RNG stream.
func replayShard(s *Solver, rng *rand.Rand, n int) shardResult {
	r := shardResult{costs: make([]float64, 0, n)}
	w := s.costs.Weights()
	for i := 0; i < n; i++ {
		var mask uint16
		score, slots := 0, 0
		tuner, exp, weighted := 0.0, 0.0, 0.0
		success := false

		for {
			if slots >= MaxSlots {
				success = score >= s.target
				break
			}
			if slots > 0 {
				continueHere, _ := s.Decision(mask, score)
				if !continueHere {
					refund := s.costs.RefundRatio() * s.costs.ExpSpent(slots)
					exp -= refund
					weighted -= w.Exp * refund
					break
				}
			}
			tuner += s.costs.TunerAt(slots)
			exp += s.costs.ExpAt(slots)
			weighted += s.costs.RevealCost(slots)

			buff := drawBuff(rng, mask)
			mask |= 1 << buff
			score += drawScore(rng, s.pmfs[buff])
			slots++
		}

		r.attempts++
		if success {
			r.successes++
		}
		r.tuner += tuner
		r.exp += exp
		r.costs = append(r.costs, weighted)
	}
	return r
}

// drawBuff picks uniformly among the unrevealed buff types.
func drawBuff(rng *rand.Rand, mask uint16) int {
	remaining := NumBuffs - bits.OnesCount16(mask)
	pick := rng.Intn(remaining)
	for b := 0; b < NumBuffs; b++ {
		if mask&(1<<b) != 0 {
			continue
		}
		if pick == 0 {
			return b
		}
		pick--
	}
	return NumBuffs - 1
}

// drawScore samples one bucket of a score PMF.
func drawScore(rng *rand.Rand, pmf []ScoreProb) int {
	u := rng.Float64()
	acc := 0.0
	for _, sp := range pmf {
		acc += sp.Prob
		if u < acc {
			return sp.Score
		}
	}
	return pmf[len(pmf)-1].Score
}
