// internal/domain/result.go
package domain

import "time"

// RunStatus represents the state of a persisted solve run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunSolving   RunStatus = "solving"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SimulationSummary holds the statistics of a Monte-Carlo evaluation.
type SimulationSummary struct {
	Samples   int     `json:"samples"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	HalfWidth float64 `json:"half_width"`
}

// SolveResult bundles everything one solve produces.
type SolveResult struct {
	RunID         int64                 `json:"run_id,omitempty"`
	ParamsHash    string                `json:"params_hash"`
	Parameters    Parameters            `json:"parameters"`
	OptimalValue  float64               `json:"optimal_value"`
	FinalCash     float64               `json:"final_cash"`
	FirstAction   float64               `json:"first_action"`
	StateCount    int                   `json:"state_count"`
	Policy        []ThresholdPolicyRow  `json:"policy"`
	Thresholds    []CashThreshold       `json:"thresholds"`
	Mismatches    int                   `json:"mismatches"`
	Table         []OptimalActionRecord `json:"table,omitempty"`
	OptimalSim    *SimulationSummary    `json:"optimal_simulation,omitempty"`
	PolicySim     *SimulationSummary    `json:"policy_simulation,omitempty"`
	OptimalityGap *float64              `json:"optimality_gap,omitempty"`
	SolveDuration time.Duration         `json:"solve_duration"`
	CreatedAt     time.Time             `json:"created_at"`
}

// SolveRun is the persisted header of a solve.
type SolveRun struct {
	ID           int64      `json:"id" db:"id"`
	ParamsHash   string     `json:"params_hash" db:"params_hash"`
	Parameters   []byte     `json:"-" db:"parameters"`
	Status       RunStatus  `json:"status" db:"status"`
	OptimalValue float64    `json:"optimal_value" db:"optimal_value"`
	FirstAction  float64    `json:"first_action" db:"first_action"`
	StateCount   int        `json:"state_count" db:"state_count"`
	Mismatches   int        `json:"mismatches" db:"mismatches"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// TableFilter pages through a persisted optimal table.
type TableFilter struct {
	Period   int `json:"period"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}
