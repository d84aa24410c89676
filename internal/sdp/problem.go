// internal/sdp/problem.go
package sdp

import (
	"github.com/andresuchdata/cashflow-sdp/internal/cashflow"
	"github.com/andresuchdata/cashflow-sdp/internal/demand"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// FeasibleActionFunc returns the admissible order quantities of a state in
// ascending order, always starting with 0.
type FeasibleActionFunc func(state domain.DecisionState) []float64

// ImmediateValueFunc returns the reward of taking action in state when demand
// realises.
type ImmediateValueFunc func(state domain.DecisionState, action, demand float64) float64

// TransitionFunc returns the successor state.
type TransitionFunc func(state domain.DecisionState, action, demand float64) domain.DecisionState

// Problem is a finite-horizon stochastic dynamic program.
type Problem struct {
	// Demand holds one pmf per period, indexed by period-1.
	Demand          []demand.PMF
	FeasibleActions FeasibleActionFunc
	ImmediateValue  ImmediateValueFunc
	Transition      TransitionFunc
	DiscountFactor  float64
	Direction       domain.Direction
}

// Horizon is the last period T.
func (p Problem) Horizon() int {
	return len(p.Demand)
}

// NewCashProblem wires the cash-constrained lot sizing dynamics of params over
// the discretised demand of dm.
func NewCashProblem(params domain.Parameters, dm demand.Model) Problem {
	model := cashflow.New(params)
	return Problem{
		Demand:          demand.Discretize(dm, params.TruncationQuantile, params.StepSize),
		FeasibleActions: model.FeasibleActions,
		ImmediateValue:  model.ImmediateValue,
		Transition:      model.Transition,
		DiscountFactor:  params.DiscountFactor,
		Direction:       params.Direction,
	}
}
