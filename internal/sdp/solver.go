// internal/sdp/solver.go
package sdp

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/rs/zerolog"
)

// ErrStateNotSolved is returned by lookups for states no solve has visited.
var ErrStateNotSolved = errors.New("state not solved")

// Decision is the memoized outcome of one state.
type Decision struct {
	Value  float64 `json:"value"`
	Action float64 `json:"action"`
}

// Solver runs backward induction over the states reachable from a root and
// memoizes every state it evaluates. A Solver is not safe for concurrent Solve
// calls; Lookup and OptTable may be shared once solving is done.
type Solver struct {
	problem Problem
	memo    map[domain.DecisionState]Decision
	log     zerolog.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Solver) { s.log = l }
}

// NewSolver returns a solver with an empty memo.
func NewSolver(p Problem, opts ...Option) *Solver {
	s := &Solver{
		problem: p,
		memo:    make(map[domain.DecisionState]Decision),
		log:     logger.Log.With().Str("component", "sdp").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const (
	// cancelCheckEvery is how many states are evaluated between context checks.
	cancelCheckEvery = 1024
	// expandCheckEvery is how many states are expanded between context checks
	// of the reachability pass.
	expandCheckEvery = 64
)

// Solve returns the optimal expected value and action of initial. States
// already memoized by earlier calls are reused, never recomputed.
func (s *Solver) Solve(initial domain.DecisionState) Decision {
	d, _ := s.SolveContext(context.Background(), initial)
	return d
}

// SolveContext is Solve with cancellation. ctx is checked periodically in both
// the reachability and the backward pass; on cancellation it returns
// ctx.Err(). States finished before that stay memoized, so a later call
// resumes the work.
func (s *Solver) SolveContext(ctx context.Context, initial domain.DecisionState) (Decision, error) {
	if initial.Period < 1 || initial.Period > s.problem.Horizon() {
		panic(fmt.Sprintf("sdp: period %d outside horizon 1..%d", initial.Period, s.problem.Horizon()))
	}
	if d, ok := s.memo[initial]; ok {
		return d, nil
	}

	start := time.Now()
	layers, err := s.reachable(ctx, initial)
	if err != nil {
		return Decision{}, err
	}
	evaluated := 0
	for i := len(layers) - 1; i >= 0; i-- {
		for _, st := range layers[i] {
			if evaluated%cancelCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					s.log.Warn().
						Int("period", initial.Period+i).
						Int("evaluated", evaluated).
						Msg("backward induction cancelled")
					return Decision{}, err
				}
			}
			s.store(st, s.evaluate(st))
			evaluated++
		}
		s.log.Debug().
			Int("period", initial.Period+i).
			Int("states", len(layers[i])).
			Msg("period solved")
	}

	d := s.memo[initial]
	s.log.Info().
		Stringer("root", initial).
		Float64("value", d.Value).
		Float64("action", d.Action).
		Int("memo_size", len(s.memo)).
		Dur("elapsed", time.Since(start)).
		Msg("backward induction finished")
	return d, nil
}

// reachable enumerates, period by period, the states reachable from initial
// that are not memoized yet. Each layer is sorted so evaluation order is
// deterministic.
func (s *Solver) reachable(ctx context.Context, initial domain.DecisionState) ([][]domain.DecisionState, error) {
	layers := [][]domain.DecisionState{{initial}}
	for t := initial.Period; t < s.problem.Horizon(); t++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pmf := s.problem.Demand[t-1]
		seen := make(map[domain.DecisionState]struct{})
		var next []domain.DecisionState
		for i, st := range layers[len(layers)-1] {
			if i%expandCheckEvery == expandCheckEvery-1 {
				if err := ctx.Err(); err != nil {
					return nil, err
				}
			}
			for _, a := range s.problem.FeasibleActions(st) {
				for _, o := range pmf {
					n := s.problem.Transition(st, a, o.Value)
					if _, done := s.memo[n]; done {
						continue
					}
					if _, dup := seen[n]; dup {
						continue
					}
					seen[n] = struct{}{}
					next = append(next, n)
				}
			}
		}
		slices.SortFunc(next, domain.DecisionState.Compare)
		layers = append(layers, next)
	}
	return layers, nil
}

// evaluate computes the Bellman update of st. Every successor must already be
// memoized.
func (s *Solver) evaluate(st domain.DecisionState) Decision {
	pmf := s.problem.Demand[st.Period-1]
	terminal := st.Period == s.problem.Horizon()

	var best Decision
	for i, a := range s.problem.FeasibleActions(st) {
		v := 0.0
		for _, o := range pmf {
			v += o.Probability * s.problem.ImmediateValue(st, a, o.Value)
			if terminal {
				continue
			}
			next := s.problem.Transition(st, a, o.Value)
			succ, ok := s.memo[next]
			if !ok {
				panic(fmt.Sprintf("sdp: successor %v of %v evaluated before it was solved", next, st))
			}
			v += o.Probability * s.problem.DiscountFactor * succ.Value
		}
		if i == 0 || s.problem.Direction.Better(v, best.Value) {
			best = Decision{Value: v, Action: a}
		}
	}
	return best
}

// store memoizes d. Memoizing a state twice means the reachability pass handed
// out a state that was already solved, which is a bug.
func (s *Solver) store(st domain.DecisionState, d Decision) {
	if _, exists := s.memo[st]; exists {
		panic(fmt.Sprintf("sdp: state %v memoized twice", st))
	}
	s.memo[st] = d
}

// Lookup returns the memoized decision of st.
func (s *Solver) Lookup(st domain.DecisionState) (Decision, error) {
	d, ok := s.memo[st]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %v", ErrStateNotSolved, st)
	}
	return d, nil
}

// Len is the number of memoized states.
func (s *Solver) Len() int {
	return len(s.memo)
}

// Horizon is the last period of the underlying problem.
func (s *Solver) Horizon() int {
	return s.problem.Horizon()
}

// OptTable returns one record per memoized state ordered by period, inventory
// and cash.
func (s *Solver) OptTable() []domain.OptimalActionRecord {
	table := make([]domain.OptimalActionRecord, 0, len(s.memo))
	for st, d := range s.memo {
		table = append(table, domain.OptimalActionRecord{
			Period:        st.Period,
			Inventory:     st.Inventory,
			Cash:          st.Cash,
			OrderQuantity: d.Action,
		})
	}
	slices.SortFunc(table, func(a, b domain.OptimalActionRecord) int {
		return a.State().Compare(b.State())
	})
	return table
}
