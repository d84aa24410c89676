package service

import (
	"context"
	"fmt"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/demand"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/policy"
	"github.com/andresuchdata/cashflow-sdp/internal/sdp"
	"github.com/andresuchdata/cashflow-sdp/internal/simulation"
	"github.com/rs/zerolog"
)

// Evaluation is a solved instance together with the objects that produced it.
type Evaluation struct {
	Result     *domain.SolveResult
	Report     policy.Report
	Extraction policy.Extraction
}

// Evaluate solves params, extracts and verifies the (s, C, S) policy and, when
// sim.Samples is positive, simulates both the optimal and the threshold policy
// on the same demand paths. params must already be validated. Cancelling ctx
// stops the backward induction between states.
func Evaluate(ctx context.Context, params domain.Parameters, sim simulation.Config, log zerolog.Logger) (*Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dm := demand.NewPoissonModel(params.MeanDemand)
	problem := sdp.NewCashProblem(params, dm)
	solver := sdp.NewSolver(problem, sdp.WithLogger(log))

	start := time.Now()
	initial := params.InitialState()
	d, err := solver.SolveContext(ctx, initial)
	if err != nil {
		return nil, fmt.Errorf("solve %s: %w", params.Hash(), err)
	}
	table := solver.OptTable()
	elapsed := time.Since(start)

	ex := policy.NewExtractor(params, dm, policy.WithExtractorLogger(log)).
		Extract(table, params.MinCashRequired, params.Criteria)
	lim := policy.LimitsFrom(params)
	report := policy.Check(ex.Rows, ex.Cache, table, lim)

	result := &domain.SolveResult{
		ParamsHash:    params.Hash(),
		Parameters:    params,
		OptimalValue:  d.Value,
		FinalCash:     params.InitialCash + d.Value,
		FirstAction:   d.Action,
		StateCount:    solver.Len(),
		Policy:        ex.Rows,
		Thresholds:    ex.Cache.Entries(),
		Mismatches:    report.Mismatches,
		Table:         table,
		SolveDuration: elapsed,
		CreatedAt:     time.Now().UTC(),
	}

	log.Info().
		Str("params_hash", result.ParamsHash).
		Float64("optimal_value", d.Value).
		Float64("first_action", d.Action).
		Int("states", result.StateCount).
		Int("mismatches", report.Mismatches).
		Int("cache_misses", report.CacheMisses).
		Dur("elapsed", elapsed).
		Msg("instance solved")

	if sim.Samples > 0 {
		simulator := simulation.New(problem, sim)
		opt, err := simulator.Run(ctx, initial, simulation.Optimal(solver))
		if err != nil {
			return nil, fmt.Errorf("simulate optimal policy: %w", err)
		}
		heu, err := simulator.Run(ctx, initial, simulation.Threshold(policy.NewRule(ex, lim)))
		if err != nil {
			return nil, fmt.Errorf("simulate threshold policy: %w", err)
		}
		gap := simulation.Gap(opt.Mean, heu.Mean)
		result.OptimalSim = &opt
		result.PolicySim = &heu
		result.OptimalityGap = &gap
	}

	return &Evaluation{Result: result, Report: report, Extraction: ex}, nil
}

// Reextract derives the policy of a stored table under another criteria.
func Reextract(params domain.Parameters, table []domain.OptimalActionRecord, criteria domain.Criteria, log zerolog.Logger) (policy.Extraction, policy.Report) {
	dm := demand.NewPoissonModel(params.MeanDemand)
	ex := policy.NewExtractor(params, dm, policy.WithExtractorLogger(log)).
		Extract(table, params.MinCashRequired, criteria)
	return ex, policy.Check(ex.Rows, ex.Cache, table, policy.LimitsFrom(params))
}
