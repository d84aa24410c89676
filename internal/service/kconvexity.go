package service

import (
	"context"
	"fmt"

	"github.com/andresuchdata/cashflow-sdp/internal/demand"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/policy"
	"github.com/andresuchdata/cashflow-sdp/internal/sdp"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
)

// KConvexityReport is the period-1 cost curve of an instance over a range of
// initial inventories and the K-convexity violations found on it.
type KConvexityReport struct {
	K          float64            `json:"k"`
	Points     []policy.Point     `json:"points"`
	Violations []policy.Violation `json:"violations"`
}

// KConvexity solves params from every initial inventory in [minInv, maxInv]
// at params.StepSize spacing, sharing one memo, and checks G(x) = -V(1, x, cash)
// for K-convexity with K = params.FixedOrderCost.
func KConvexity(ctx context.Context, params domain.Parameters, minInv, maxInv float64) (*KConvexityReport, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if minInv > maxInv {
		return nil, fmt.Errorf("%w: inventory range [%v, %v] is empty", domain.ErrInvalidParameters, minInv, maxInv)
	}

	log := logger.Component("kconvexity")
	dm := demand.NewPoissonModel(params.MeanDemand)
	solver := sdp.NewSolver(sdp.NewCashProblem(params, dm), sdp.WithLogger(log))

	var (
		roots  []domain.DecisionState
		values []float64
	)
	for i := 0; ; i++ {
		x := minInv + float64(i)*params.StepSize
		if x > maxInv+1e-9 {
			break
		}
		root := domain.DecisionState{Period: 1, Inventory: x, Cash: params.InitialCash}
		d, err := solver.SolveContext(ctx, root)
		if err != nil {
			return nil, err
		}
		roots = append(roots, root)
		values = append(values, d.Value)
	}

	points := policy.CostCurve(roots, values, params.Direction)
	violations := policy.CheckKConvexity(points, params.FixedOrderCost)
	log.Info().
		Int("points", len(points)).
		Int("violations", len(violations)).
		Msg("k-convexity check finished")

	if violations == nil {
		violations = []policy.Violation{}
	}
	return &KConvexityReport{K: params.FixedOrderCost, Points: points, Violations: violations}, nil
}

// KConvexity runs the package-level check; it exists so handlers can depend
// on the service alone.
func (s *SolveService) KConvexity(ctx context.Context, params domain.Parameters, minInv, maxInv float64) (*KConvexityReport, error) {
	return KConvexity(ctx, params, minInv, maxInv)
}
