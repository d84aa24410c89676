// Package simulation estimates the final cash of an ordering policy by Monte
// Carlo sampling of demand paths.
package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/policy"
	"github.com/andresuchdata/cashflow-sdp/internal/sdp"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// PolicyFunc returns the order quantity of a state.
type PolicyFunc func(st domain.DecisionState) (float64, error)

// Optimal replays the memoized decisions of a solved problem.
func Optimal(s *sdp.Solver) PolicyFunc {
	return func(st domain.DecisionState) (float64, error) {
		d, err := s.Lookup(st)
		if err != nil {
			return 0, err
		}
		return d.Action, nil
	}
}

// Threshold follows an extracted (s, C, S) rule.
func Threshold(r *policy.Rule) PolicyFunc {
	return func(st domain.DecisionState) (float64, error) {
		return r.Order(st), nil
	}
}

// Config controls a simulation run.
type Config struct {
	Samples    int
	Seed       uint64
	Workers    int
	Confidence float64
}

// DefaultConfig mirrors the sample size used for validation runs.
func DefaultConfig() Config {
	return Config{Samples: 10000, Seed: 1, Workers: runtime.NumCPU(), Confidence: 0.95}
}

// Simulator draws demand from the same truncated pmfs the solver used, so every
// state an optimal path visits is memoized.
type Simulator struct {
	problem sdp.Problem
	cfg     Config
	log     zerolog.Logger
}

// New returns a simulator over problem.
func New(problem sdp.Problem, cfg Config) *Simulator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Confidence <= 0 || cfg.Confidence >= 1 {
		cfg.Confidence = 0.95
	}
	return &Simulator{
		problem: problem,
		cfg:     cfg,
		log:     logger.Log.With().Str("component", "simulation").Logger(),
	}
}

// Run simulates cfg.Samples paths from initial under pol and summarises the
// final cash. Sample i always uses the same random stream, so two policies run
// with the same config see the same demand paths.
func (s *Simulator) Run(ctx context.Context, initial domain.DecisionState, pol PolicyFunc) (domain.SimulationSummary, error) {
	if s.cfg.Samples < 1 {
		return domain.SimulationSummary{}, fmt.Errorf("simulation needs at least one sample, got %d", s.cfg.Samples)
	}

	finals := make([]float64, s.cfg.Samples)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range finals {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(s.cfg.Seed, uint64(i)))
			v, err := s.path(initial, pol, rng)
			if err != nil {
				return fmt.Errorf("sample %d: %w", i, err)
			}
			finals[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.SimulationSummary{}, err
	}

	sum := summarize(finals, s.cfg.Confidence)
	s.log.Debug().
		Int("samples", sum.Samples).
		Float64("mean", sum.Mean).
		Float64("half_width", sum.HalfWidth).
		Msg("simulation finished")
	return sum, nil
}

// path returns the final cash of one sampled trajectory.
func (s *Simulator) path(initial domain.DecisionState, pol PolicyFunc, rng *rand.Rand) (float64, error) {
	st := initial
	total, discount := 0.0, 1.0
	for st.Period <= s.problem.Horizon() {
		a, err := pol(st)
		if err != nil {
			return 0, err
		}
		d := s.problem.Demand[st.Period-1].Sample(rng.Float64())
		total += discount * s.problem.ImmediateValue(st, a, d)
		st = s.problem.Transition(st, a, d)
		discount *= s.problem.DiscountFactor
	}
	return initial.Cash + total, nil
}

func summarize(xs []float64, confidence float64) domain.SimulationSummary {
	mean, sd := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 || math.IsNaN(sd) {
		sd = 0
	}
	z := distuv.UnitNormal.Quantile(1 - (1-confidence)/2)
	return domain.SimulationSummary{
		Samples:   len(xs),
		Mean:      mean,
		StdDev:    sd,
		HalfWidth: z * sd / math.Sqrt(float64(len(xs))),
	}
}

// Gap is the relative shortfall of a heuristic against the optimum.
func Gap(optimal, heuristic float64) float64 {
	if optimal == 0 {
		return 0
	}
	return (optimal - heuristic) / optimal
}
