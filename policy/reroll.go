package policy

import (
	"context"
	"fmt"
	"math/bits"
	"sort"
)

// Reroll currency cost by lock-set size. Locking more slots makes the
// reroll itself dearer; keeping all five is not a reroll at all.
func lockCost(locked int) float64 {
	switch {
	case locked <= 2:
		return 1
	case locked == 3:
		return 2
	case locked == 4:
		return 3
	default:
		return 0
	}
}

// LockChoice is one ranked reroll option.
type LockChoice struct {
	LockSlotIndices    []int   `json:"lockSlotIndices"` // 1-based baseline slots
	ExpectedCost       float64 `json:"expectedCost"`
	SuccessProbability float64 `json:"successProbability"`
	Regret             float64 `json:"regret"`
}

// RerollComputeInput mirrors compute_reroll_policy. Reroll queries carry
// buff names without values, so the policy always uses the fixed scorer
// and the default cost model.
type RerollComputeInput struct {
	BuffWeights     map[string]float64
	TargetScore     float64
	LambdaTolerance float64
	LambdaMaxIter   int
}

// RerollAck acknowledges a reroll policy compute.
type RerollAck struct {
	PolicyID       string  `json:"policyId"`
	LambdaStar     float64 `json:"lambdaStar"`
	ComputeSeconds float64 `json:"computeSeconds"`
}

// ComputeRerollPolicy solves the fixed-scorer upgrade policy backing
// reroll recommendations and remembers it as the default reroll target.
func (s *Service) ComputeRerollPolicy(ctx context.Context, in RerollComputeInput) (*RerollAck, error) {
	req, err := s.canonicalRequest(ComputePolicyInput{
		BuffWeights:     in.BuffWeights,
		TargetScore:     in.TargetScore,
		ScorerType:      ScorerFixed,
		CostWeights:     DefaultCostWeights(),
		LambdaTolerance: in.LambdaTolerance,
		LambdaMaxIter:   in.LambdaMaxIter,
	})
	if err != nil {
		return nil, err
	}
	sp, err := s.cache.Compute(ctx, req, s.solve)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.lastRerollID = sp.ID
	s.mu.Unlock()
	return &RerollAck{PolicyID: sp.ID, LambdaStar: sp.Summary.LambdaStar, ComputeSeconds: sp.Summary.ComputeSeconds}, nil
}

// RerollQueryInput mirrors query_reroll_recommendation.
type RerollQueryInput struct {
	PolicyID           string
	BaselineBuffNames  []string
	CandidateBuffNames []string
	TopK               int
}

// RerollResult ranks the admissible lock-sets for a baseline echo.
// Input-shape problems surface as Valid=false with a reason instead of an
// error, matching the front-end contract.
type RerollResult struct {
	Valid                  bool         `json:"valid"`
	Reason                 string       `json:"reason,omitempty"`
	BaselineScore          float64      `json:"baselineScore"`
	CandidateScore         *float64     `json:"candidateScore,omitempty"`
	AcceptCandidate        *bool        `json:"acceptCandidate"`
	RecommendedLockChoices []LockChoice `json:"recommendedLockChoices"`
}

// resolveSlots maps a name list to catalogue indices, rejecting unknowns
// and duplicates.
func (s *Service) resolveSlots(field string, names []string) ([]int, error) {
	seen := make(map[int]bool, len(names))
	slots := make([]int, len(names))
	for i, name := range names {
		idx, ok := s.catalog.Index(name)
		if !ok {
			return nil, fmt.Errorf("%s: unknown buff %q", field, name)
		}
		if seen[idx] {
			return nil, fmt.Errorf("%s: duplicate buff %q", field, name)
		}
		seen[idx] = true
		slots[i] = idx
	}
	return slots, nil
}

// QueryRerollRecommendation ranks every admissible lock-set of the baseline
// by the expected Lagrangian cost of continuing from the locked seed.
func (s *Service) QueryRerollRecommendation(in RerollQueryInput) (*RerollResult, error) {
	s.mu.Lock()
	defaultID := s.lastRerollID
	s.mu.Unlock()
	id := in.PolicyID
	if id == "" {
		id = defaultID
	}
	if id == "" {
		return nil, ErrNotReady
	}
	sp, err := s.cache.Get(id)
	if err != nil {
		return nil, err
	}
	if sp.Scorer.Type != ScorerFixed {
		return &RerollResult{Valid: false, Reason: "policy is not a reroll (fixed-scorer) policy"}, nil
	}

	baseline, err := s.resolveSlots("baselineBuffNames", in.BaselineBuffNames)
	if err != nil {
		return &RerollResult{Valid: false, Reason: err.Error()}, nil
	}
	if len(baseline) != MaxSlots {
		return &RerollResult{Valid: false, Reason: fmt.Sprintf("baseline must have exactly %d buffs", MaxSlots)}, nil
	}
	candidate, err := s.resolveSlots("candidateBuffNames", in.CandidateBuffNames)
	if err != nil {
		return &RerollResult{Valid: false, Reason: err.Error()}, nil
	}
	if len(candidate) > MaxSlots {
		return &RerollResult{Valid: false, Reason: fmt.Sprintf("candidate has more than %d buffs", MaxSlots)}, nil
	}

	cat := s.activeCatalog(sp.Request.BlendUserData)
	slotScore := make([]int, MaxSlots)
	baselineScore := 0.0
	for i, idx := range baseline {
		sc := sp.Scorer.BuffScore(cat, idx, 0)
		baselineScore += sc
		slotScore[i] = ScoreUnits(sc)
	}

	choices, err := s.rankLockSets(sp, baseline, slotScore)
	if err != nil {
		return nil, err
	}

	result := &RerollResult{
		Valid:                  true,
		BaselineScore:          baselineScore,
		RecommendedLockChoices: choices,
	}
	if len(candidate) == MaxSlots {
		candidateScore := 0.0
		for _, idx := range candidate {
			candidateScore += sp.Scorer.BuffScore(cat, idx, 0)
		}
		result.CandidateScore = &candidateScore
		accept := candidateScore >= baselineScore && len(choices) > 0 && len(choices[0].LockSlotIndices) == MaxSlots
		result.AcceptCandidate = &accept
	}

	if in.TopK > 0 && in.TopK < len(result.RecommendedLockChoices) {
		result.RecommendedLockChoices = result.RecommendedLockChoices[:in.TopK]
	}
	return result, nil
}

// rankLockSets evaluates every subset of the baseline's positively
// weighted slots (size <= 4) plus the full keep-everything option, and
// sorts them by expected cost.
func (s *Service) rankLockSets(sp *SolvedPolicy, baseline []int, slotScore []int) ([]LockChoice, error) {
	const fullSet = 1<<MaxSlots - 1
	choices := make([]LockChoice, 0, 1<<MaxSlots)

	for subset := 0; subset <= fullSet; subset++ {
		k := bits.OnesCount(uint(subset))
		if k < MaxSlots {
			lockable := true
			for slot := 0; slot < MaxSlots; slot++ {
				if subset&(1<<slot) != 0 && sp.Scorer.Weight(baseline[slot]) <= 0 {
					lockable = false
					break
				}
			}
			if !lockable {
				continue
			}
		}

		var seedMask uint16
		seedScore := 0
		indices := make([]int, 0, k)
		for slot := 0; slot < MaxSlots; slot++ {
			if subset&(1<<slot) == 0 {
				continue
			}
			seedMask |= 1 << baseline[slot]
			seedScore += slotScore[slot]
			indices = append(indices, slot+1)
		}

		value, err := sp.Solver.Value(seedMask, seedScore)
		if err != nil {
			return nil, err
		}
		var prob float64
		if k == MaxSlots {
			if seedScore >= sp.Solver.Target() {
				prob = 1
			}
		} else {
			prob, err = sp.Solver.SuccessProb(seedMask, seedScore)
			if err != nil {
				return nil, err
			}
		}
		choices = append(choices, LockChoice{
			LockSlotIndices:    indices,
			ExpectedCost:       lockCost(k) + value,
			SuccessProbability: prob,
		})
	}

	sort.Slice(choices, func(i, j int) bool {
		if choices[i].ExpectedCost != choices[j].ExpectedCost {
			return choices[i].ExpectedCost < choices[j].ExpectedCost
		}
		if len(choices[i].LockSlotIndices) != len(choices[j].LockSlotIndices) {
			return len(choices[i].LockSlotIndices) < len(choices[j].LockSlotIndices)
		}
		for k := range choices[i].LockSlotIndices {
			if choices[i].LockSlotIndices[k] != choices[j].LockSlotIndices[k] {
				return choices[i].LockSlotIndices[k] < choices[j].LockSlotIndices[k]
			}
		}
		return false
	})
	best := choices[0].ExpectedCost
	for i := range choices {
		choices[i].Regret = choices[i].ExpectedCost - best
	}
	return choices, nil
}
