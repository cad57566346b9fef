package policy

import (
	"fmt"
	"math"
)

// Authoritative per-slot cost schedule. One echo is drawn per attempt and its
// cost is booked with the first reveal.
var (
	tunerSchedule = [MaxSlots]float64{1, 1, 3, 6, 9}
	expSchedule   = [MaxSlots]float64{0, 0, 1600, 2000, 2800}
)

const (
	echoPerAttempt = 1.0
	// RefundRatioMax bounds the exp refund; the game never returns more.
	RefundRatioMax = 0.75
	// RefundRatioDefault is the refund at the commonly owned upgrade level.
	RefundRatioDefault = 0.66
)

// CostWeights prices the three resource axes relative to each other.
type CostWeights struct {
	Echo  float64 `json:"wEcho" yaml:"wEcho"`
	Tuner float64 `json:"wTuner" yaml:"wTuner"`
	Exp   float64 `json:"wExp" yaml:"wExp"`
}

// DefaultCostWeights counts tuners only, the scarce resource for most players.
func DefaultCostWeights() CostWeights { return CostWeights{Echo: 0, Tuner: 1, Exp: 0} }

// CostModel combines the axis weights with the exp refund ratio and caches
// the weighted per-reveal costs.
type CostModel struct {
	weights CostWeights
	refund  float64

	revealCost [MaxSlots]float64   // weighted cost to reveal slot i (echo booked in slot 0)
	expSpent   [MaxSlots + 1]float64 // raw exp embedded after n reveals
}

// NewCostModel validates the weights and clamps the refund ratio to
// [0, RefundRatioMax]. At least one axis must carry weight.
func NewCostModel(w CostWeights, refundRatio float64) (*CostModel, error) {
	for _, f := range []struct {
		name  string
		value float64
	}{{"wEcho", w.Echo}, {"wTuner", w.Tuner}, {"wExp", w.Exp}} {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return nil, &InvalidInputError{Field: f.name, Reason: fmt.Sprintf("must be finite and non-negative, got %v", f.value)}
		}
	}
	if w.Echo == 0 && w.Tuner == 0 && w.Exp == 0 {
		return nil, &InvalidInputError{Field: "costWeights", Reason: "all cost weights are zero"}
	}
	if math.IsNaN(refundRatio) {
		return nil, &InvalidInputError{Field: "expRefundRatio", Reason: "must be a number"}
	}
	if refundRatio < 0 {
		refundRatio = 0
	}
	if refundRatio > RefundRatioMax {
		refundRatio = RefundRatioMax
	}

	m := &CostModel{weights: w, refund: refundRatio}
	for i := 0; i < MaxSlots; i++ {
		m.revealCost[i] = w.Tuner*tunerSchedule[i] + w.Exp*expSchedule[i]
		m.expSpent[i+1] = m.expSpent[i] + expSchedule[i]
	}
	m.revealCost[0] += w.Echo * echoPerAttempt
	return m, nil
}

// Weights returns the axis weights.
func (m *CostModel) Weights() CostWeights { return m.weights }

// RefundRatio returns the clamped exp refund ratio.
func (m *CostModel) RefundRatio() float64 { return m.refund }

// RevealCost is the weighted immediate cost of revealing slot n+1 when n
// slots are already filled.
func (m *CostModel) RevealCost(n int) float64 { return m.revealCost[n] }

// AbandonRefund is the weighted refund for abandoning after n reveals:
// the exp axis only, scaled by the refund ratio. Abandoning before any
// reveal refunds nothing.
func (m *CostModel) AbandonRefund(n int) float64 {
	return m.weights.Exp * m.refund * m.expSpent[n]
}

// TunerAt and ExpAt expose the raw schedule for the resource pass and the
// Monte-Carlo replay.
func (m *CostModel) TunerAt(n int) float64 { return tunerSchedule[n] }
func (m *CostModel) ExpAt(n int) float64   { return expSchedule[n] }

// ExpSpent is the raw exp embedded after n reveals.
func (m *CostModel) ExpSpent(n int) float64 { return m.expSpent[n] }
