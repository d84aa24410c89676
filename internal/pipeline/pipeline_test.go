package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
)

func TestReferenceGrid(t *testing.T) {
	scenarios := ReferenceGrid(domain.DefaultParameters()).Scenarios()
	if len(scenarios) != 10*3*3*3*3 {
		t.Fatalf("want 810 scenarios, got %d", len(scenarios))
	}

	first := scenarios[0]
	if first.Name != "stationary_K2000_v2_p20_c3" {
		t.Fatalf("unexpected first scenario %q", first.Name)
	}
	if first.Params.MaxOrderQuantity != 60 || first.Params.FixedOrderCost != 2000 || first.Params.Price != 20 {
		t.Fatalf("unexpected first parameters %+v", first.Params)
	}
	if len(first.Params.MeanDemand) != 10 {
		t.Fatalf("want 10 periods, got %d", len(first.Params.MeanDemand))
	}
}

func TestMaxOrderQuantity(t *testing.T) {
	inc := ReferencePatterns()[1]
	if got := MaxOrderQuantity(inc.MeanDemand, 5); got != 85 {
		t.Fatalf("round(17.44)*5 should be 85, got %v", got)
	}
	if MaxOrderQuantity(nil, 3) != 0 {
		t.Fatalf("empty demand gives zero capacity")
	}
}

func TestGridHorizonTruncatesWithoutAliasing(t *testing.T) {
	g := Grid{
		Base:          domain.DefaultParameters(),
		Patterns:      ReferencePatterns()[:1],
		FixedCosts:    []float64{10},
		VariableCosts: []float64{1},
		Prices:        []float64{5},
		Capacities:    []float64{2, 4},
		Horizon:       3,
	}
	scenarios := g.Scenarios()
	if len(scenarios) != 2 {
		t.Fatalf("want 2 scenarios, got %d", len(scenarios))
	}
	if len(scenarios[0].Params.MeanDemand) != 3 {
		t.Fatalf("horizon not applied: %v", scenarios[0].Params.MeanDemand)
	}
	if scenarios[1].Params.MaxOrderQuantity != 80 {
		t.Fatalf("want 20*4, got %v", scenarios[1].Params.MaxOrderQuantity)
	}
	scenarios[0].Params.MeanDemand[0] = -1
	if ReferencePatterns()[0].MeanDemand[0] != 20 || g.Patterns[0].MeanDemand[0] != 20 {
		t.Fatalf("scenario demand must not alias the pattern")
	}
}

func TestSelectPatterns(t *testing.T) {
	all := ReferencePatterns()
	got, err := SelectPatterns(all, []string{"2", " Erratic-4 "})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 2 || got[0].Name != "increasing" || got[1].Name != "erratic-4" {
		t.Fatalf("unexpected selection %+v", got)
	}
	if got, _ := SelectPatterns(all, nil); len(got) != len(all) {
		t.Fatalf("empty selection keeps all")
	}
	for _, bad := range []string{"0", "11", "weekly"} {
		if _, err := SelectPatterns(all, []string{bad}); err == nil {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}

func TestResultWriterFlushesByBatch(t *testing.T) {
	cfg := SweepConfig{OutputDir: t.TempDir(), BatchSize: 2, FlushInterval: time.Hour}
	flushes := 0
	w := NewResultWriter(cfg, 5, func(_ context.Context, path string) error {
		flushes++
		return nil
	})
	ctx := context.Background()

	gap := 0.25
	if err := w.Add(ctx, ScenarioResult{Scenario: "a", OptimalValue: 11.005, Gap: &gap}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := os.Stat(w.Path()); !os.IsNotExist(err) {
		t.Fatalf("first row should stay buffered")
	}
	if err := w.Add(ctx, ScenarioResult{Scenario: "b", Error: "boom"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := w.Finalize(ctx); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	rows := readCSV(t, w.Path())
	if len(rows) != 3 || flushes != 1 || w.Written() != 2 {
		t.Fatalf("want header + 2 rows in one flush, got %d rows, %d flushes", len(rows), flushes)
	}
	if rows[1][6] != "11.01" || rows[1][12] != "0.2500" || rows[1][10] != "" {
		t.Fatalf("unexpected formatting %v", rows[1])
	}
	if rows[2][14] != "boom" {
		t.Fatalf("error column missing: %v", rows[2])
	}
}

func TestResultWriterEmptySweepWritesHeader(t *testing.T) {
	w := NewResultWriter(SweepConfig{OutputDir: t.TempDir(), BatchSize: 10, FlushInterval: time.Hour}, 1, nil)
	if err := w.Finalize(context.Background()); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	rows := readCSV(t, w.Path())
	if len(rows) != 1 || rows[0][0] != "scenario" {
		t.Fatalf("want header only, got %v", rows)
	}
}

// flakyEvaluator succeeds for fixed cost 1, fails once for 2 and always for 3.
type flakyEvaluator struct {
	mu    sync.Mutex
	calls map[float64]int
}

func (f *flakyEvaluator) evaluate(_ context.Context, p domain.Parameters) (*domain.SolveResult, error) {
	f.mu.Lock()
	f.calls[p.FixedOrderCost]++
	n := f.calls[p.FixedOrderCost]
	f.mu.Unlock()

	switch {
	case p.FixedOrderCost == 3, p.FixedOrderCost == 2 && n == 1:
		return nil, errors.New("solver exploded")
	}
	gap := 0.01
	return &domain.SolveResult{OptimalValue: 100 * p.FixedOrderCost, FirstAction: 4, StateCount: 10, OptimalityGap: &gap}, nil
}

func testScenarios() []Scenario {
	var out []Scenario
	for i, name := range []string{"a", "b", "c"} {
		p := domain.DefaultParameters()
		p.FixedOrderCost = float64(i + 1)
		out = append(out, Scenario{Name: name, Pattern: "stationary", Params: p})
	}
	return out
}

func testConfig(t *testing.T) SweepConfig {
	return SweepConfig{
		WorkerCount:   2,
		OutputDir:     t.TempDir(),
		BatchSize:     1,
		FlushInterval: time.Hour,
		RetryAttempts: 2,
	}
}

func TestProcessSweepRetriesAndRecordsFailures(t *testing.T) {
	repo := NewMemoryRepository()
	ev := &flakyEvaluator{calls: map[float64]int{}}
	w := NewWorker(testConfig(t), repo, ev.evaluate, nil)

	run, err := w.ProcessSweep(context.Background(), testScenarios())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if run.Status != StatusCompleted || run.Completed != 2 || run.Failed != 1 || run.TotalScenarios != 3 {
		t.Fatalf("unexpected sweep %+v", run)
	}
	if run.CompletedAt == nil {
		t.Fatalf("completed sweep needs a completion time")
	}
	if ev.calls[1] != 1 || ev.calls[2] != 2 || ev.calls[3] != 2 {
		t.Fatalf("unexpected attempts %v", ev.calls)
	}

	jobs, _ := repo.ListJobs(context.Background(), run.ID)
	byName := map[string]*ScenarioJob{}
	for _, j := range jobs {
		byName[j.Scenario.Name] = j
	}
	if byName["b"].Status != JobStatusCompleted || byName["b"].RetryCount != 1 || byName["b"].ErrorMessage != "" {
		t.Fatalf("flaky scenario should recover: %+v", byName["b"])
	}
	if byName["c"].Status != JobStatusFailed || byName["c"].RetryCount != 2 || byName["c"].ErrorMessage != "solver exploded" {
		t.Fatalf("broken scenario should be failed: %+v", byName["c"])
	}
	if byName["a"].OptimalValue != 100 {
		t.Fatalf("result not recorded: %+v", byName["a"])
	}

	rows := readCSV(t, run.ResultPath)
	if len(rows) != 4 {
		t.Fatalf("want header + one row per scenario, got %d", len(rows))
	}
	for _, r := range rows[1:] {
		if (r[0] == "c") != (r[14] != "") {
			t.Fatalf("only the failed scenario carries an error: %v", r)
		}
	}
}

func TestRetryFailedAppendsToSweepResults(t *testing.T) {
	repo := NewMemoryRepository()
	ev := &flakyEvaluator{calls: map[float64]int{}}
	cfg := testConfig(t)
	cfg.RetryAttempts = 1

	run, err := NewWorker(cfg, repo, ev.evaluate, nil).ProcessSweep(context.Background(), testScenarios()[:2])
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if run.Failed != 1 {
		t.Fatalf("without retries the flaky scenario fails, got %+v", run)
	}

	cfg.RetryAttempts = 2
	if err := NewWorker(cfg, repo, ev.evaluate, nil).RetryFailed(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}

	jobs, _ := repo.ListJobs(context.Background(), run.ID)
	for _, j := range jobs {
		if j.Status != JobStatusCompleted {
			t.Fatalf("all scenarios should be completed after retry: %+v", j)
		}
	}
	rows := readCSV(t, run.ResultPath)
	if len(rows) != 4 || rows[0][0] != "scenario" || rows[3][0] != "b" {
		t.Fatalf("retry should append one row under the original header: %v", rows)
	}

	if err := NewWorker(cfg, repo, ev.evaluate, nil).RetryFailed(context.Background()); err != nil {
		t.Fatalf("retry with nothing to do: %v", err)
	}
}

func TestProcessSweepCancellationFailsSweep(t *testing.T) {
	repo := NewMemoryRepository()
	ctx, cancel := context.WithCancel(context.Background())
	blocking := func(ctx context.Context, _ domain.Parameters) (*domain.SolveResult, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := NewWorker(testConfig(t), repo, blocking, nil).ProcessSweep(ctx, testScenarios())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	run, err := repo.GetSweep(context.Background(), 1)
	if err != nil {
		t.Fatalf("get sweep: %v", err)
	}
	if run.Status != StatusFailed || run.CompletedAt == nil {
		t.Fatalf("cancelled sweep should be failed: %+v", run)
	}
}

func smallBase() domain.Parameters {
	p := domain.DefaultParameters()
	p.InitialCash = 30
	p.MaxInventoryState = 40
	p.MinCashState = -20
	p.MaxCashState = 150
	return p
}

func TestOrchestratorRejectsInvalidGrid(t *testing.T) {
	repo := NewMemoryRepository()
	o := NewOrchestrator(repo, testConfig(t), nil)

	bad := Grid{
		Base:          smallBase(),
		Patterns:      []Pattern{{Name: "broken", MeanDemand: []float64{4, -1}}},
		FixedCosts:    []float64{5},
		VariableCosts: []float64{1},
		Prices:        []float64{4},
		Capacities:    []float64{3},
	}
	if _, err := o.Run(context.Background(), bad); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("want ErrInvalidParameters, got %v", err)
	}
	if _, err := o.Run(context.Background(), Grid{Base: smallBase()}); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("empty grid: want ErrInvalidParameters, got %v", err)
	}
	if _, err := repo.GetSweep(context.Background(), 1); !errors.Is(err, ErrSweepNotFound) {
		t.Fatalf("nothing should be recorded for a rejected grid, got %v", err)
	}
}

func TestOrchestratorSolvesSmallGrid(t *testing.T) {
	repo := NewMemoryRepository()
	cfg := testConfig(t)
	cfg.Simulation.Samples = 0
	o := NewOrchestrator(repo, cfg, nil)
	uploaded := 0
	o.OnFlush(func(context.Context, string) error { uploaded++; return nil })

	grid := Grid{
		Base:          smallBase(),
		Patterns:      []Pattern{{Name: "flat", MeanDemand: []float64{4, 4}}},
		FixedCosts:    []float64{5},
		VariableCosts: []float64{1},
		Prices:        []float64{4},
		Capacities:    []float64{3, 5},
	}
	run, err := o.Run(context.Background(), grid)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.Completed != 2 || run.Failed != 0 {
		t.Fatalf("unexpected sweep %+v", run)
	}
	if uploaded < 2 {
		t.Fatalf("flush hook should run per batch, ran %d times", uploaded)
	}
	rows := readCSV(t, run.ResultPath)
	if len(rows) != 3 {
		t.Fatalf("want header + 2 rows, got %v", rows)
	}
	for _, r := range rows[1:] {
		if r[5] != "12" && r[5] != "20" {
			t.Fatalf("max order should be 4*capacity: %v", r)
		}
		if r[14] != "" || r[8] == "0" {
			t.Fatalf("scenario should be solved: %v", r)
		}
	}
}

func TestSQLRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	repo := NewSQLRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO sweep_runs")).
		WithArgs("pending", 3, 0, 0, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(9, now))
	run := &SweepRun{Status: StatusPending, TotalScenarios: 3}
	if err := repo.CreateSweep(ctx, run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.ID != 9 || !run.CreatedAt.Equal(now) {
		t.Fatalf("returned columns not scanned: %+v", run)
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE sweep_runs")).
		WithArgs("completed", "out.csv", sqlmock.AnyArg(), 9).
		WillReturnResult(sqlmock.NewResult(0, 0))
	run.Status, run.ResultPath = StatusCompleted, "out.csv"
	if err := repo.UpdateSweep(ctx, run); !errors.Is(err, ErrSweepNotFound) {
		t.Fatalf("want ErrSweepNotFound, got %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta("SET failed = failed + 1")).
		WithArgs(9).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.RecordOutcome(ctx, 9, true); err != nil {
		t.Fatalf("record: %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM sweep_runs")).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := repo.GetSweep(ctx, 10); !errors.Is(err, ErrSweepNotFound) {
		t.Fatalf("want ErrSweepNotFound, got %v", err)
	}

	cols := []string{"id", "sweep_id", "name", "pattern", "capacity", "parameters", "status",
		"optimal_value", "mismatches", "optimality_gap", "error_message", "duration_ms", "retry_count"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM sweep_scenarios")).
		WithArgs("failed", 3).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(4, 9, "s1", "stationary", 3.0, []byte(`{"mean_demand":[20,20],"price":5}`), "failed", 0.0, 0, nil, "boom", 1500, 1))
	jobs, err := repo.FailedJobs(ctx, 3)
	if err != nil {
		t.Fatalf("failed jobs: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("want one job, got %d", len(jobs))
	}
	j := jobs[0]
	if j.Scenario.Params.Price != 5 || len(j.Scenario.Params.MeanDemand) != 2 || j.Gap != nil ||
		j.Duration != 1500*time.Millisecond || j.Status != JobStatusFailed || j.RetryCount != 1 {
		t.Fatalf("unexpected job %+v", j)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}
