package simulation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/andresuchdata/cashflow-sdp/internal/demand"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/policy"
	"github.com/andresuchdata/cashflow-sdp/internal/sdp"
	"github.com/rs/zerolog"
)

func smallInstance() (domain.Parameters, demand.Model) {
	p := domain.DefaultParameters()
	p.MeanDemand = []float64{5, 5, 5}
	p.InitialCash = 40
	p.MaxOrderQuantity = 20
	p.MaxInventoryState = 40
	p.MinCashState = -20
	p.MaxCashState = 120
	return p, demand.NewPoissonModel(p.MeanDemand)
}

func TestOptimalSimulationOfDeterministicDemand(t *testing.T) {
	p, _ := smallInstance()
	p.MeanDemand = []float64{3}
	p.InitialCash = 100
	p.SalvageValue = 0
	dm, err := demand.NewStationaryEmpiricalModel(1, []float64{3}, []float64{1})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	problem := sdp.NewCashProblem(p, dm)
	s := sdp.NewSolver(problem, sdp.WithLogger(zerolog.Nop()))
	s.Solve(p.InitialState())

	sum, err := New(problem, Config{Samples: 50, Seed: 7, Workers: 4}).Run(context.Background(), p.InitialState(), Optimal(s))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if sum.Mean != 111 || sum.StdDev != 0 || sum.HalfWidth != 0 {
		t.Fatalf("want exactly 100 + 11, got %+v", sum)
	}
}

func TestOptimalSimulationMatchesSolverValue(t *testing.T) {
	p, dm := smallInstance()
	problem := sdp.NewCashProblem(p, dm)
	s := sdp.NewSolver(problem, sdp.WithLogger(zerolog.Nop()))
	d := s.Solve(p.InitialState())

	sum, err := New(problem, Config{Samples: 4000, Seed: 42, Workers: 4}).Run(context.Background(), p.InitialState(), Optimal(s))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := p.InitialCash + d.Value
	if math.Abs(sum.Mean-want) > 4*sum.HalfWidth+1e-6 {
		t.Fatalf("simulated mean %v too far from %v (half width %v)", sum.Mean, want, sum.HalfWidth)
	}
}

func TestRunIsReproducible(t *testing.T) {
	p, dm := smallInstance()
	problem := sdp.NewCashProblem(p, dm)
	s := sdp.NewSolver(problem, sdp.WithLogger(zerolog.Nop()))
	s.Solve(p.InitialState())
	ex := policy.NewExtractor(p, dm, policy.WithExtractorLogger(zerolog.Nop())).
		Extract(s.OptTable(), p.MinCashRequired, p.Criteria)
	rule := policy.NewRule(ex, policy.LimitsFrom(p))

	cfg := Config{Samples: 300, Seed: 3, Workers: 3}
	a, err := New(problem, cfg).Run(context.Background(), p.InitialState(), Threshold(rule))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	cfg.Workers = 1
	b, err := New(problem, cfg).Run(context.Background(), p.InitialState(), Threshold(rule))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if a != b {
		t.Fatalf("same seed must give the same summary regardless of workers: %+v vs %+v", a, b)
	}
}

func TestRunPropagatesPolicyErrors(t *testing.T) {
	p, dm := smallInstance()
	problem := sdp.NewCashProblem(p, dm)
	unsolved := sdp.NewSolver(problem, sdp.WithLogger(zerolog.Nop()))

	_, err := New(problem, Config{Samples: 5, Seed: 1}).Run(context.Background(), p.InitialState(), Optimal(unsolved))
	if !errors.Is(err, sdp.ErrStateNotSolved) {
		t.Fatalf("want ErrStateNotSolved, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	p, dm := smallInstance()
	problem := sdp.NewCashProblem(p, dm)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	never := func(domain.DecisionState) (float64, error) { return 0, nil }
	_, err := New(problem, Config{Samples: 10, Seed: 1}).Run(ctx, p.InitialState(), never)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestGap(t *testing.T) {
	if g := Gap(200, 190); math.Abs(g-0.05) > 1e-12 {
		t.Fatalf("gap: got %v", g)
	}
	if Gap(0, 5) != 0 {
		t.Fatalf("zero optimum should give zero gap")
	}
}
