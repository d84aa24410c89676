package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/service"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
)

// Orchestrator validates a grid and runs its scenarios through a Worker.
type Orchestrator struct {
	repo     Repository
	cfg      SweepConfig
	evaluate EvaluateFunc
	onFlush  FlushFunc
}

// NewOrchestrator creates a new Orchestrator. A nil evaluate solves each
// scenario with service.Evaluate and cfg.Simulation.
func NewOrchestrator(repo Repository, cfg SweepConfig, evaluate EvaluateFunc) *Orchestrator {
	if evaluate == nil {
		evaluate = DefaultEvaluate(cfg)
	}
	return &Orchestrator{repo: repo, cfg: cfg, evaluate: evaluate}
}

// OnFlush registers a callback run after every result flush, e.g. to upload
// the partial CSV.
func (o *Orchestrator) OnFlush(f FlushFunc) { o.onFlush = f }

// DefaultEvaluate solves, verifies and optionally simulates a scenario.
func DefaultEvaluate(cfg SweepConfig) EvaluateFunc {
	log := logger.Component("sweep")
	return func(ctx context.Context, params domain.Parameters) (*domain.SolveResult, error) {
		ev, err := service.Evaluate(ctx, params, cfg.Simulation, log)
		if err != nil {
			return nil, err
		}
		ev.Result.Table = nil
		return ev.Result, nil
	}
}

// Run fills defaults into and validates every scenario of grid, then solves
// them. Invalid scenarios reject the whole grid before anything is recorded.
func (o *Orchestrator) Run(ctx context.Context, grid Grid) (*SweepRun, error) {
	scenarios := grid.Scenarios()
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("%w: sweep grid is empty", domain.ErrInvalidParameters)
	}

	var errs []error
	for i := range scenarios {
		scenarios[i].Params = scenarios[i].Params.WithDefaults()
		if err := scenarios[i].Params.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("scenario %s: %w", scenarios[i].Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return NewWorker(o.cfg, o.repo, o.evaluate, o.onFlush).ProcessSweep(ctx, scenarios)
}

// RetryFailed re-runs failed scenarios of earlier sweeps.
func (o *Orchestrator) RetryFailed(ctx context.Context) error {
	return NewWorker(o.cfg, o.repo, o.evaluate, o.onFlush).RetryFailed(ctx)
}
