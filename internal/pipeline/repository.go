package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// ErrSweepNotFound is returned when a sweep id has no record.
var ErrSweepNotFound = errors.New("sweep not found")

// Repository tracks sweeps and their scenario jobs.
type Repository interface {
	CreateSweep(ctx context.Context, run *SweepRun) error
	UpdateSweep(ctx context.Context, run *SweepRun) error
	GetSweep(ctx context.Context, id int64) (*SweepRun, error)
	RecordOutcome(ctx context.Context, sweepID int64, failed bool) error
	CreateJob(ctx context.Context, job *ScenarioJob) error
	UpdateJob(ctx context.Context, job *ScenarioJob) error
	ListJobs(ctx context.Context, sweepID int64) ([]*ScenarioJob, error)
	FailedJobs(ctx context.Context, maxRetries int) ([]*ScenarioJob, error)
}

// SQLRepository handles database operations for sweep tracking
type SQLRepository struct {
	db *sql.DB
}

// NewSQLRepository creates a new sweep repository
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// CreateSweep creates a new sweep run record
func (r *SQLRepository) CreateSweep(ctx context.Context, run *SweepRun) error {
	query := `
		INSERT INTO sweep_runs (status, total_scenarios, completed, failed, result_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	return r.db.QueryRowContext(
		ctx, query,
		string(run.Status), run.TotalScenarios, run.Completed, run.Failed, run.ResultPath,
	).Scan(&run.ID, &run.CreatedAt)
}

// UpdateSweep updates an existing sweep run
func (r *SQLRepository) UpdateSweep(ctx context.Context, run *SweepRun) error {
	query := `
		UPDATE sweep_runs
		SET status = $1, result_path = $2, completed_at = $3
		WHERE id = $4
	`

	res, err := r.db.ExecContext(ctx, query, string(run.Status), run.ResultPath, run.CompletedAt, run.ID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// GetSweep retrieves a sweep run by ID
func (r *SQLRepository) GetSweep(ctx context.Context, id int64) (*SweepRun, error) {
	query := `
		SELECT id, status, total_scenarios, completed, failed, result_path, created_at, completed_at
		FROM sweep_runs
		WHERE id = $1
	`

	run := &SweepRun{}
	var status string
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &status, &run.TotalScenarios, &run.Completed,
		&run.Failed, &run.ResultPath, &run.CreatedAt, &run.CompletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSweepNotFound
	}
	if err != nil {
		return nil, err
	}
	run.Status = SweepStatus(status)
	return run, nil
}

// RecordOutcome atomically bumps the completed or failed counter
func (r *SQLRepository) RecordOutcome(ctx context.Context, sweepID int64, failed bool) error {
	query := `UPDATE sweep_runs SET completed = completed + 1 WHERE id = $1`
	if failed {
		query = `UPDATE sweep_runs SET failed = failed + 1 WHERE id = $1`
	}
	_, err := r.db.ExecContext(ctx, query, sweepID)
	return err
}

// CreateJob creates a new scenario job record
func (r *SQLRepository) CreateJob(ctx context.Context, job *ScenarioJob) error {
	params, err := json.Marshal(job.Scenario.Params)
	if err != nil {
		return fmt.Errorf("marshal scenario parameters: %w", err)
	}

	query := `
		INSERT INTO sweep_scenarios (sweep_id, name, pattern, capacity, parameters, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	return r.db.QueryRowContext(
		ctx, query,
		job.SweepID, job.Scenario.Name, job.Scenario.Pattern, job.Scenario.Capacity,
		params, string(job.Status),
	).Scan(&job.ID)
}

// UpdateJob updates an existing scenario job
func (r *SQLRepository) UpdateJob(ctx context.Context, job *ScenarioJob) error {
	query := `
		UPDATE sweep_scenarios
		SET status = $1, optimal_value = $2, mismatches = $3, optimality_gap = $4,
		    error_message = $5, duration_ms = $6, retry_count = $7
		WHERE id = $8
	`

	_, err := r.db.ExecContext(
		ctx, query,
		string(job.Status), job.OptimalValue, job.Mismatches, job.Gap,
		job.ErrorMessage, job.Duration.Milliseconds(), job.RetryCount, job.ID,
	)
	return err
}

const jobColumns = `id, sweep_id, name, pattern, capacity, parameters, status,
		       optimal_value, mismatches, optimality_gap, error_message, duration_ms, retry_count`

// ListJobs retrieves all scenario jobs of a sweep
func (r *SQLRepository) ListJobs(ctx context.Context, sweepID int64) ([]*ScenarioJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sweep_scenarios
		WHERE sweep_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, sweepID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// FailedJobs retrieves failed scenario jobs that still have retries left
func (r *SQLRepository) FailedJobs(ctx context.Context, maxRetries int) ([]*ScenarioJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM sweep_scenarios
		WHERE status = $1
		  AND retry_count < $2
		ORDER BY sweep_id, id
	`

	rows, err := r.db.QueryContext(ctx, query, string(JobStatusFailed), maxRetries)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func scanJobs(rows *sql.Rows) ([]*ScenarioJob, error) {
	defer rows.Close()

	jobs := []*ScenarioJob{}
	for rows.Next() {
		job := &ScenarioJob{}
		var (
			params     []byte
			status     string
			durationMS int64
			gap        sql.NullFloat64
		)
		err := rows.Scan(
			&job.ID, &job.SweepID, &job.Scenario.Name, &job.Scenario.Pattern,
			&job.Scenario.Capacity, &params, &status, &job.OptimalValue,
			&job.Mismatches, &gap, &job.ErrorMessage, &durationMS, &job.RetryCount,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(params, &job.Scenario.Params); err != nil {
			return nil, fmt.Errorf("decode parameters of scenario %s: %w", job.Scenario.Name, err)
		}
		job.Status = ScenarioJobStatus(status)
		job.Duration = time.Duration(durationMS) * time.Millisecond
		if gap.Valid {
			g := gap.Float64
			job.Gap = &g
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSweepNotFound
	}
	return nil
}

// MemoryRepository keeps sweep tracking in process, for CLI runs without a
// database.
type MemoryRepository struct {
	mu     sync.Mutex
	sweeps map[int64]*SweepRun
	jobs   []*ScenarioJob
	nextID int64
}

// NewMemoryRepository returns an empty in-process repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sweeps: make(map[int64]*SweepRun)}
}

func (m *MemoryRepository) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) CreateSweep(_ context.Context, run *SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.ID = m.id()
	run.CreatedAt = time.Now().UTC()
	cp := *run
	m.sweeps[run.ID] = &cp
	return nil
}

func (m *MemoryRepository) UpdateSweep(_ context.Context, run *SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sweeps[run.ID]
	if !ok {
		return ErrSweepNotFound
	}
	stored.Status = run.Status
	stored.ResultPath = run.ResultPath
	stored.CompletedAt = run.CompletedAt
	return nil
}

func (m *MemoryRepository) GetSweep(_ context.Context, id int64) (*SweepRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sweeps[id]
	if !ok {
		return nil, ErrSweepNotFound
	}
	cp := *stored
	return &cp, nil
}

func (m *MemoryRepository) RecordOutcome(_ context.Context, sweepID int64, failed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sweeps[sweepID]
	if !ok {
		return ErrSweepNotFound
	}
	if failed {
		stored.Failed++
	} else {
		stored.Completed++
	}
	return nil
}

func (m *MemoryRepository) CreateJob(_ context.Context, job *ScenarioJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.ID = m.id()
	cp := *job
	m.jobs = append(m.jobs, &cp)
	return nil
}

func (m *MemoryRepository) UpdateJob(_ context.Context, job *ScenarioJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.jobs, func(j *ScenarioJob) bool { return j.ID == job.ID })
	if idx < 0 {
		return fmt.Errorf("scenario job %d not found", job.ID)
	}
	cp := *job
	m.jobs[idx] = &cp
	return nil
}

func (m *MemoryRepository) ListJobs(_ context.Context, sweepID int64) ([]*ScenarioJob, error) {
	return m.filter(func(j *ScenarioJob) bool { return j.SweepID == sweepID }), nil
}

func (m *MemoryRepository) FailedJobs(_ context.Context, maxRetries int) ([]*ScenarioJob, error) {
	return m.filter(func(j *ScenarioJob) bool {
		return j.Status == JobStatusFailed && j.RetryCount < maxRetries
	}), nil
}

func (m *MemoryRepository) filter(keep func(*ScenarioJob) bool) []*ScenarioJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*ScenarioJob{}
	for _, j := range m.jobs {
		if keep(j) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out
}
