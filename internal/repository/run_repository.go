package repository

import (
	"context"
	"errors"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("solve run not found")

// RunRepository persists solve runs and the artifacts they produced.
type RunRepository interface {
	CreateRun(ctx context.Context, run *domain.SolveRun) error
	MarkRunFailed(ctx context.Context, id int64, reason string) error
	// CompleteRun stores the header, policy, thresholds and optimal table of
	// result atomically.
	CompleteRun(ctx context.Context, id int64, result *domain.SolveResult) error

	GetRun(ctx context.Context, id int64) (*domain.SolveRun, error)
	ListRuns(ctx context.Context, limit, offset int) ([]domain.SolveRun, error)
	FindCompletedRun(ctx context.Context, paramsHash string) (*domain.SolveRun, error)

	GetPolicy(ctx context.Context, id int64) ([]domain.ThresholdPolicyRow, error)
	GetThresholds(ctx context.Context, id int64) ([]domain.CashThreshold, error)
	GetTable(ctx context.Context, id int64, filter domain.TableFilter) ([]domain.OptimalActionRecord, int, error)
}
