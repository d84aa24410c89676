package pipeline

import (
	"context"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/simulation"
)

// EvaluateFunc solves one scenario.
type EvaluateFunc func(ctx context.Context, params domain.Parameters) (*domain.SolveResult, error)

// Scenario is one point of a sweep grid.
type Scenario struct {
	Name     string            `json:"name"`
	Pattern  string            `json:"pattern"`
	Capacity float64           `json:"capacity"`
	Params   domain.Parameters `json:"parameters"`
}

// ScenarioResult is the row a finished scenario contributes to the sweep CSV.
type ScenarioResult struct {
	Scenario     string
	Pattern      string
	FixedCost    float64
	VariableCost float64
	Price        float64
	MaxOrder     float64
	OptimalValue float64
	FirstAction  float64
	StateCount   int
	Mismatches   int
	OptimalMean  *float64
	PolicyMean   *float64
	Gap          *float64
	Duration     time.Duration
	Error        string
}

// SweepConfig holds configuration for a sweep run.
type SweepConfig struct {
	WorkerCount   int           // Number of concurrent workers
	OutputDir     string        // Directory for the result CSVs
	BatchSize     int           // Result rows to buffer before flushing
	FlushInterval time.Duration // Max time to wait before flushing
	RetryAttempts int           // Failures allowed before a scenario is given up
	RetryBackoff  time.Duration // Backoff duration between attempts
	Simulation    simulation.Config
}

// DefaultSweepConfig returns sensible defaults
func DefaultSweepConfig() SweepConfig {
	sim := simulation.DefaultConfig()
	sim.Samples = 1000
	sim.Workers = 1
	return SweepConfig{
		WorkerCount:   4,
		OutputDir:     "data/output/sweeps",
		BatchSize:     10,
		FlushInterval: time.Minute,
		RetryAttempts: 3,
		RetryBackoff:  time.Second,
		Simulation:    sim,
	}
}

// SweepStatus represents the current state of a sweep run
type SweepStatus string

const (
	StatusPending    SweepStatus = "pending"
	StatusProcessing SweepStatus = "processing"
	StatusCompleted  SweepStatus = "completed"
	StatusFailed     SweepStatus = "failed"
)

// ScenarioJobStatus represents the state of a single scenario job
type ScenarioJobStatus string

const (
	JobStatusQueued     ScenarioJobStatus = "queued"
	JobStatusProcessing ScenarioJobStatus = "processing"
	JobStatusCompleted  ScenarioJobStatus = "completed"
	JobStatusFailed     ScenarioJobStatus = "failed"
)

// SweepRun tracks a single execution of a scenario grid
type SweepRun struct {
	ID             int64
	Status         SweepStatus
	TotalScenarios int
	Completed      int
	Failed         int
	ResultPath     string
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// ScenarioJob tracks the solve of a single scenario
type ScenarioJob struct {
	ID           int64
	SweepID      int64
	Scenario     Scenario
	Status       ScenarioJobStatus
	OptimalValue float64
	Mismatches   int
	Gap          *float64
	ErrorMessage string
	Duration     time.Duration
	RetryCount   int
}
