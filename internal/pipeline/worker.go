package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/rs/zerolog"
)

// Worker solves the scenarios of a sweep
type Worker struct {
	config   SweepConfig
	repo     Repository
	evaluate EvaluateFunc
	onFlush  FlushFunc
	log      zerolog.Logger
}

// NewWorker creates a new sweep worker
func NewWorker(config SweepConfig, repo Repository, evaluate EvaluateFunc, onFlush FlushFunc) *Worker {
	return &Worker{
		config:   config,
		repo:     repo,
		evaluate: evaluate,
		onFlush:  onFlush,
		log:      logger.Component("sweep"),
	}
}

// ProcessSweep records a sweep over scenarios, solves them concurrently and
// writes one CSV row per scenario. A failing scenario is retried up to
// RetryAttempts times and then recorded as failed without stopping the sweep;
// only cancellation and tracking or output errors abort it.
func (w *Worker) ProcessSweep(ctx context.Context, scenarios []Scenario) (*SweepRun, error) {
	w.log.Info().Int("scenarios", len(scenarios)).Int("workers", w.config.WorkerCount).Msg("starting sweep")

	run := &SweepRun{Status: StatusPending, TotalScenarios: len(scenarios)}
	if err := w.repo.CreateSweep(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create sweep run: %w", err)
	}

	writer := NewResultWriter(w.config, run.ID, w.onFlush)
	if err := writer.Reset(); err != nil {
		return nil, err
	}
	run.ResultPath = writer.Path()

	jobs := make([]*ScenarioJob, len(scenarios))
	for i, sc := range scenarios {
		job := &ScenarioJob{SweepID: run.ID, Scenario: sc, Status: JobStatusQueued}
		if err := w.repo.CreateJob(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to create scenario job: %w", err)
		}
		jobs[i] = job
	}

	run.Status = StatusProcessing
	if err := w.repo.UpdateSweep(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to update sweep run: %w", err)
	}

	if err := w.processWithRetries(ctx, run, jobs, writer); err != nil {
		w.finish(ctx, run, StatusFailed)
		return nil, err
	}
	if err := writer.Finalize(ctx); err != nil {
		w.finish(ctx, run, StatusFailed)
		return nil, fmt.Errorf("failed to finalize results: %w", err)
	}
	if err := w.finish(ctx, run, StatusCompleted); err != nil {
		return nil, fmt.Errorf("failed to complete sweep run: %w", err)
	}

	done, err := w.repo.GetSweep(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	w.log.Info().
		Int64("sweep_id", done.ID).
		Int("completed", done.Completed).
		Int("failed", done.Failed).
		Str("results", done.ResultPath).
		Msg("sweep completed")
	return done, nil
}

// processWithRetries runs jobs, then re-runs failed ones with retries left
// after RetryBackoff until none remain.
func (w *Worker) processWithRetries(ctx context.Context, run *SweepRun, jobs []*ScenarioJob, writer *ResultWriter) error {
	pending := jobs
	for len(pending) > 0 {
		if err := w.processScenariosParallel(ctx, run, pending, writer); err != nil {
			return err
		}

		pending = pending[:0:0]
		for _, job := range jobs {
			if w.retryable(job) {
				pending = append(pending, job)
			}
		}
		if len(pending) == 0 {
			break
		}
		w.log.Info().Int("scenarios", len(pending)).Dur("backoff", w.config.RetryBackoff).Msg("retrying failed scenarios")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.config.RetryBackoff):
		}
	}
	return nil
}

func (w *Worker) retryable(job *ScenarioJob) bool {
	return job.Status == JobStatusFailed && job.RetryCount < w.config.RetryAttempts
}

// processScenariosParallel processes scenarios using a worker pool
func (w *Worker) processScenariosParallel(ctx context.Context, run *SweepRun, jobs []*ScenarioJob, writer *ResultWriter) error {
	workerCount := w.config.WorkerCount
	if workerCount < 1 {
		workerCount = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobChan := make(chan *ScenarioJob, len(jobs))
	errChan := make(chan error, workerCount)
	var wg sync.WaitGroup

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for job := range jobChan {
				if err := w.processScenario(ctx, run, job, writer); err != nil {
					w.log.Error().Err(err).Int("worker", workerID).Str("scenario", job.Scenario.Name).Msg("sweep aborted")
					select {
					case errChan <- err:
					default:
					}
					cancel()
					return
				}
			}
		}(i)
	}

	for _, job := range jobs {
		jobChan <- job
	}
	close(jobChan)

	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return err
	}
	return ctx.Err()
}

// processScenario solves a single scenario
func (w *Worker) processScenario(ctx context.Context, run *SweepRun, job *ScenarioJob, writer *ResultWriter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	job.Status = JobStatusProcessing
	if err := w.repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	res, err := w.evaluate(ctx, job.Scenario.Params)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return w.markJobFailed(ctx, run, job, err, time.Since(start), writer)
	}

	job.Status = JobStatusCompleted
	job.OptimalValue = res.OptimalValue
	job.Mismatches = res.Mismatches
	job.Gap = res.OptimalityGap
	job.ErrorMessage = ""
	job.Duration = time.Since(start)
	if err := w.repo.UpdateJob(ctx, job); err != nil {
		return err
	}
	if err := w.repo.RecordOutcome(ctx, run.ID, false); err != nil {
		w.log.Warn().Err(err).Int64("sweep_id", run.ID).Msg("failed to count completed scenario")
	}

	w.log.Debug().
		Str("scenario", job.Scenario.Name).
		Float64("optimal_value", res.OptimalValue).
		Int("mismatches", res.Mismatches).
		Dur("elapsed", job.Duration).
		Msg("scenario solved")

	return writer.Add(ctx, resultRow(job.Scenario, res, job.Duration, ""))
}

// markJobFailed records a failed attempt. Once the scenario is out of retries
// it is counted as failed and written with its error.
func (w *Worker) markJobFailed(ctx context.Context, run *SweepRun, job *ScenarioJob, cause error, elapsed time.Duration, writer *ResultWriter) error {
	job.Status = JobStatusFailed
	job.ErrorMessage = cause.Error()
	job.Duration = elapsed
	job.RetryCount++

	if err := w.repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	if w.retryable(job) {
		w.log.Warn().Err(cause).
			Str("scenario", job.Scenario.Name).
			Msgf("will retry (attempt %d/%d)", job.RetryCount, w.config.RetryAttempts)
		return nil
	}

	w.log.Error().Err(cause).Str("scenario", job.Scenario.Name).Msg("scenario failed")
	if err := w.repo.RecordOutcome(ctx, run.ID, true); err != nil {
		w.log.Warn().Err(err).Int64("sweep_id", run.ID).Msg("failed to count failed scenario")
	}
	return writer.Add(ctx, resultRow(job.Scenario, nil, elapsed, cause.Error()))
}

// finish stamps the final status. It runs even when ctx was cancelled.
func (w *Worker) finish(ctx context.Context, run *SweepRun, status SweepStatus) error {
	run.Status = status
	now := time.Now().UTC()
	run.CompletedAt = &now
	if err := w.repo.UpdateSweep(context.WithoutCancel(ctx), run); err != nil {
		w.log.Error().Err(err).Int64("sweep_id", run.ID).Msg("failed to update sweep status")
		return err
	}
	return nil
}

// RetryFailed re-runs every failed scenario that still has retries left,
// appending to the result file of its sweep.
func (w *Worker) RetryFailed(ctx context.Context) error {
	jobs, err := w.repo.FailedJobs(ctx, w.config.RetryAttempts)
	if err != nil {
		return fmt.Errorf("failed to get failed jobs: %w", err)
	}

	if len(jobs) == 0 {
		w.log.Info().Msg("no failed scenarios to retry")
		return nil
	}

	w.log.Info().Int("scenarios", len(jobs)).Msg("retrying failed scenarios")

	jobsBySweep := make(map[int64][]*ScenarioJob)
	var order []int64
	for _, job := range jobs {
		if _, seen := jobsBySweep[job.SweepID]; !seen {
			order = append(order, job.SweepID)
		}
		jobsBySweep[job.SweepID] = append(jobsBySweep[job.SweepID], job)
	}

	for _, sweepID := range order {
		run, err := w.repo.GetSweep(ctx, sweepID)
		if err != nil {
			w.log.Error().Err(err).Int64("sweep_id", sweepID).Msg("failed to load sweep")
			continue
		}

		writer := NewResultWriter(w.config, run.ID, w.onFlush)
		if err := w.processWithRetries(ctx, run, jobsBySweep[sweepID], writer); err != nil {
			return fmt.Errorf("retry sweep %d: %w", sweepID, err)
		}
		if err := writer.Finalize(ctx); err != nil {
			return fmt.Errorf("finalize sweep %d: %w", sweepID, err)
		}
		run.ResultPath = writer.Path()
		if err := w.finish(ctx, run, StatusCompleted); err != nil {
			return err
		}
	}
	return nil
}

func resultRow(sc Scenario, res *domain.SolveResult, elapsed time.Duration, errMsg string) ScenarioResult {
	row := ScenarioResult{
		Scenario:     sc.Name,
		Pattern:      sc.Pattern,
		FixedCost:    sc.Params.FixedOrderCost,
		VariableCost: sc.Params.VariableCost,
		Price:        sc.Params.Price,
		MaxOrder:     sc.Params.MaxOrderQuantity,
		Duration:     elapsed,
		Error:        errMsg,
	}
	if res == nil {
		return row
	}
	row.OptimalValue = res.OptimalValue
	row.FirstAction = res.FirstAction
	row.StateCount = res.StateCount
	row.Mismatches = res.Mismatches
	row.Gap = res.OptimalityGap
	if res.OptimalSim != nil {
		m := res.OptimalSim.Mean
		row.OptimalMean = &m
	}
	if res.PolicySim != nil {
		m := res.PolicySim.Mean
		row.PolicyMean = &m
	}
	return row
}
