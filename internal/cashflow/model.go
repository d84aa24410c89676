// Package cashflow defines the single-item lot sizing dynamics under a hard cash
// balance constraint: what can be ordered, what a period earns, and where the
// system moves next.
package cashflow

import (
	"math"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// Model evaluates the period dynamics of one instance.
type Model struct {
	params  domain.Parameters
	horizon int
}

// New returns a model for p. p must already be validated.
func New(p domain.Parameters) *Model {
	return &Model{params: p, horizon: p.Horizon()}
}

// Parameters returns the instance the model was built for.
func (m *Model) Parameters() domain.Parameters {
	return m.params
}

// MaxAffordable is the largest order on the action grid that cash can pay for
// while keeping MinCashRequired, capped by MaxOrderQuantity.
func (m *Model) MaxAffordable(cash float64) float64 {
	p := m.params
	q := math.Max(0, (cash-p.MinCashRequired-p.FixedOrderCost)/p.VariableCost)
	q = math.Min(p.MaxOrderQuantity, q)
	return math.Floor(q/p.StepSize+1e-9) * p.StepSize
}

// FeasibleActions lists admissible order quantities in ascending order; 0 is
// always first.
func (m *Model) FeasibleActions(s domain.DecisionState) []float64 {
	maxQ := m.MaxAffordable(s.Cash)
	n := int(math.Round(maxQ/m.params.StepSize)) + 1
	actions := make([]float64, n)
	for i := range actions {
		actions[i] = float64(i) * m.params.StepSize
	}
	return actions
}

// ImmediateValue is the cash increment of a period: revenue minus ordering and
// holding costs, plus salvage of leftovers in the last period.
func (m *Model) ImmediateValue(s domain.DecisionState, action, demand float64) float64 {
	p := m.params
	revenue := p.Price * math.Min(s.Inventory+action, demand)
	fixed := 0.0
	if action > 0 {
		fixed = p.FixedOrderCost
	}
	variable := p.VariableCost * action
	leftover := math.Max(s.Inventory+action-demand, 0)
	holding := p.HoldingCost * leftover

	value := revenue - fixed - variable - holding
	if s.Period == m.horizon {
		value += p.SalvageValue * leftover
	}
	return value
}

// Transition returns the state of the next period. Unmet demand is lost. Cash
// is rounded to the configured granularity and both coordinates saturate at
// their bounds.
func (m *Model) Transition(s domain.DecisionState, action, demand float64) domain.DecisionState {
	p := m.params
	inventory := math.Max(0, s.Inventory+action-demand)
	cash := s.Cash + m.ImmediateValue(s, action, demand)

	return domain.DecisionState{
		Period:    s.Period + 1,
		Inventory: clip(inventory, p.MinInventoryState, p.MaxInventoryState),
		Cash:      clip(RoundCash(cash, p.CashGranularity), p.MinCashState, p.MaxCashState),
	}
}

// RoundCash rounds v to the nearest multiple of granularity.
func RoundCash(v, granularity float64) float64 {
	if granularity <= 0 {
		return v
	}
	return math.Round(v/granularity) * granularity
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
