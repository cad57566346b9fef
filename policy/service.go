package policy

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/sirupsen/logrus"
)

// Default request parameters surfaced by Bootstrap.
const (
	DefaultTargetScore = 50.0
	DefaultScorerType  = ScorerLinear
)

// DefaultBuffWeights is the crit-focused starting preset.
var DefaultBuffWeights = map[string]float64{
	"Crit. Rate": 1,
	"Crit. DMG":  1,
	"ATK%":       0.5,
	"ATK":        0.5,
}

// Service is the core query surface: it owns the catalogue, the policy
// cache and the user-count blend, and validates every request before the
// solver sees it.
type Service struct {
	catalog *Catalog
	cache   *Cache

	mu           sync.Mutex
	userCounts   UserCounts
	blended      *Catalog // rebuilt when userCounts change
	lastRerollID string
}

// NewService builds a service around the built-in catalogue.
func NewService() *Service {
	return &Service{catalog: NewCatalog(), cache: NewCache(DefaultCacheSize)}
}

// SetUserCounts installs user-observed roll counts for blended computes.
// Passing nil clears them.
func (s *Service) SetUserCounts(counts UserCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if counts == nil {
		s.userCounts = nil
		s.blended = nil
		return nil
	}
	blended, err := s.catalog.Blend(counts)
	if err != nil {
		return err
	}
	s.userCounts = counts
	s.blended = blended
	return nil
}

// activeCatalog picks the blended catalogue when requested and available.
func (s *Service) activeCatalog(blend bool) *Catalog {
	s.mu.Lock()
	defer s.mu.Unlock()
	if blend && s.blended != nil {
		return s.blended
	}
	return s.catalog
}

// BootstrapData is the static payload a front-end needs to initialise.
type BootstrapData struct {
	BuffTypes             []string           `json:"buffTypes"`
	BuffLabels            []string           `json:"buffLabels"`
	BuffTypeMaxValues     []int              `json:"buffTypeMaxValues"`
	BuffValueOptions      map[string][]int   `json:"buffValueOptions"`
	MaxSelectedTypes      int                `json:"maxSelectedTypes"`
	DefaultBuffWeights    map[string]float64 `json:"defaultBuffWeights"`
	DefaultTargetScore    float64            `json:"defaultTargetScore"`
	DefaultExpRefundRatio float64            `json:"defaultExpRefundRatio"`
	DefaultScorerType     ScorerType         `json:"defaultScorerType"`
	DefaultCostWeights    CostWeights        `json:"defaultCostWeights"`
	UserCountsAvailable   bool               `json:"userCountsAvailable"`
}

// Bootstrap returns the catalogue-derived constants and defaults.
func (s *Service) Bootstrap() BootstrapData {
	names := s.catalog.Names()
	maxValues := make([]int, NumBuffs)
	options := make(map[string][]int, NumBuffs)
	for i, b := range s.catalog.Buffs() {
		maxValues[i] = b.MaxValue
		values := make([]int, len(b.Histogram))
		for j, vc := range b.Histogram {
			values[j] = vc.Value
		}
		options[b.Name] = values
	}
	weights := make(map[string]float64, len(DefaultBuffWeights))
	for k, v := range DefaultBuffWeights {
		weights[k] = v
	}
	s.mu.Lock()
	userCountsAvailable := s.userCounts != nil
	s.mu.Unlock()
	return BootstrapData{
		BuffTypes:             names,
		BuffLabels:            names,
		BuffTypeMaxValues:     maxValues,
		BuffValueOptions:      options,
		MaxSelectedTypes:      MaxSlots,
		DefaultBuffWeights:    weights,
		DefaultTargetScore:    DefaultTargetScore,
		DefaultExpRefundRatio: RefundRatioDefault,
		DefaultScorerType:     DefaultScorerType,
		DefaultCostWeights:    DefaultCostWeights(),
		UserCountsAvailable:   userCountsAvailable,
	}
}

// ComputePolicyInput mirrors the compute_policy operation.
type ComputePolicyInput struct {
	BuffWeights     map[string]float64
	TargetScore     float64
	ScorerType      ScorerType
	CostWeights     CostWeights
	ExpRefundRatio  *float64 // nil takes the default
	BlendUserData   bool
	LambdaTolerance float64 // 0 takes the default
	LambdaMaxIter   int     // 0 takes the default
	SimulationRuns  int     // optional Monte-Carlo validation
	SimulationSeed  int64
}

// ComputePolicyResult carries the summary plus an id for follow-up queries.
type ComputePolicyResult struct {
	PolicyID       string             `json:"policyId"`
	Summary        Summary            `json:"summary"`
	Validation     *SimulationSummary `json:"validation,omitempty"`
	ValidationNote string             `json:"validationNote,omitempty"`
}

// weightVector resolves a name-keyed weight map into catalogue order.
func (s *Service) weightVector(weights map[string]float64) ([]float64, error) {
	vec := make([]float64, NumBuffs)
	for name, w := range weights {
		i, ok := s.catalog.Index(name)
		if !ok {
			return nil, &InvalidInputError{Field: "buffWeights", Reason: fmt.Sprintf("unknown buff %q", name)}
		}
		vec[i] = w
	}
	return vec, nil
}

func (s *Service) canonicalRequest(in ComputePolicyInput) (ComputeRequest, error) {
	vec, err := s.weightVector(in.BuffWeights)
	if err != nil {
		return ComputeRequest{}, err
	}
	scorerType := in.ScorerType
	if scorerType == "" {
		scorerType = DefaultScorerType
	}
	refund := RefundRatioDefault
	if in.ExpRefundRatio != nil {
		refund = *in.ExpRefundRatio
	}
	tol := in.LambdaTolerance
	if tol == 0 {
		tol = DefaultLambdaTolerance
	}
	maxIter := in.LambdaMaxIter
	if maxIter == 0 {
		maxIter = DefaultLambdaMaxIter
	}
	return ComputeRequest{
		Weights:         vec,
		TargetScore:     in.TargetScore,
		Scorer:          scorerType,
		Costs:           in.CostWeights,
		ExpRefundRatio:  refund,
		BlendUserData:   in.BlendUserData,
		LambdaTolerance: tol,
		LambdaMaxIter:   maxIter,
	}, nil
}

// solve runs the full pipeline for one canonical request.
func (s *Service) solve(ctx context.Context, req ComputeRequest) (*SolvedPolicy, error) {
	scorer, err := NewScorer(req.Scorer, req.Weights)
	if err != nil {
		return nil, err
	}
	costs, err := NewCostModel(req.Costs, req.ExpRefundRatio)
	if err != nil {
		return nil, err
	}
	cat := s.activeCatalog(req.BlendUserData)
	solver, err := NewSolver(scorer.BuildScorePMFs(cat), req.TargetScore, scorer.MaxScore(), costs)
	if err != nil {
		return nil, err
	}
	lambda, err := solver.LambdaSearch(ctx, req.LambdaTolerance, req.LambdaMaxIter)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, ErrCancelled
	}
	resources, err := solver.BuildResources()
	if err != nil {
		return nil, err
	}
	return &SolvedPolicy{
		Request: req,
		Scorer:  scorer,
		Solver:  solver,
		Summary: Summary{
			LambdaStar:             lambda,
			ExpectedCostPerSuccess: lambda,
			SuccessProbability:     resources.SuccessProbability,
			EchoPerSuccess:         resources.EchoPerSuccess,
			TunerPerSuccess:        resources.TunerPerSuccess,
			ExpPerSuccess:          resources.ExpPerSuccess,
			TargetScore:            req.TargetScore,
		},
	}, nil
}

// ComputePolicy solves (or returns the cached) policy for the request.
func (s *Service) ComputePolicy(ctx context.Context, in ComputePolicyInput) (*ComputePolicyResult, error) {
	req, err := s.canonicalRequest(in)
	if err != nil {
		return nil, err
	}
	sp, err := s.cache.Compute(ctx, req, s.solve)
	if err != nil {
		return nil, err
	}
	result := &ComputePolicyResult{PolicyID: sp.ID, Summary: sp.Summary}
	if in.SimulationRuns > 0 {
		sim, simErr := Simulate(sp, in.SimulationRuns, in.SimulationSeed)
		if simErr != nil {
			// Validation is advisory; a failed replay never fails the compute.
			result.ValidationNote = simErr.Error()
			logrus.WithError(simErr).Warn("monte carlo validation failed")
		} else {
			result.Validation = sim
		}
	}
	return result, nil
}

// SuggestionInput is a reveal list to advise on. TotalScore is accepted for
// front-end parity; the canonical score is recomputed from the pairs.
type SuggestionInput struct {
	PolicyID   string
	BuffNames  []string
	BuffValues []int
	TotalScore float64
}

// SuggestionResult is the per-state advice.
type SuggestionResult struct {
	Suggestion         string  `json:"suggestion"` // "Continue" or "Abandon"
	Stage              int     `json:"stage"`
	SuccessProbability float64 `json:"successProbability"`
}

// canonicalState folds a reveal list into the DP key: the buff mask and the
// bucketed score. Values are snapped to the nearest grid bucket first.
func (s *Service) canonicalState(scorer *Scorer, cat *Catalog, names []string, values []int) (uint16, int, error) {
	if len(names) != len(values) {
		return 0, 0, &InvalidInputError{Field: "buffValues", Reason: "length mismatch with buffNames"}
	}
	if len(names) > MaxSlots {
		return 0, 0, &InvalidInputError{Field: "buffNames", Reason: fmt.Sprintf("at most %d slots", MaxSlots)}
	}
	var mask uint16
	score := 0
	for i, name := range names {
		idx, ok := s.catalog.Index(name)
		if !ok {
			return 0, 0, &InvalidInputError{Field: "buffNames", Reason: fmt.Sprintf("unknown buff %q", name)}
		}
		if mask&(1<<idx) != 0 {
			return 0, 0, &InvalidInputError{Field: "buffNames", Reason: fmt.Sprintf("duplicate buff %q", name)}
		}
		mask |= 1 << idx
		score += ScoreUnits(scorer.BuffScore(cat, idx, snapToGrid(cat.Buff(idx), values[i])))
	}
	return mask, score, nil
}

// snapToGrid maps an arbitrary value onto the closest histogram bucket.
func snapToGrid(b Buff, value int) int {
	best := b.Histogram[0].Value
	bestDist := math.Abs(float64(value - best))
	for _, vc := range b.Histogram[1:] {
		if d := math.Abs(float64(value - vc.Value)); d < bestDist {
			best, bestDist = vc.Value, d
		}
	}
	return best
}

// PolicySuggestion answers Continue/Abandon for a reveal list against a
// solved policy (the most recent one when PolicyID is empty).
func (s *Service) PolicySuggestion(in SuggestionInput) (*SuggestionResult, error) {
	sp, err := s.cache.Get(in.PolicyID)
	if err != nil {
		return nil, err
	}
	cat := s.activeCatalog(sp.Request.BlendUserData)
	mask, score, err := s.canonicalState(sp.Scorer, cat, in.BuffNames, in.BuffValues)
	if err != nil {
		return nil, err
	}
	decision, err := sp.Solver.Decision(mask, score)
	if err != nil {
		return nil, err
	}
	prob, err := sp.Solver.SuccessProb(mask, score)
	if err != nil {
		return nil, err
	}
	suggestion := "Abandon"
	if decision {
		suggestion = "Continue"
	}
	return &SuggestionResult{Suggestion: suggestion, Stage: len(in.BuffNames), SuccessProbability: prob}, nil
}

// PolicySummary re-reads a solved policy's summary by id.
func (s *Service) PolicySummary(policyID string) (*Summary, error) {
	sp, err := s.cache.Get(policyID)
	if err != nil {
		return nil, err
	}
	summary := sp.Summary
	return &summary, nil
}
