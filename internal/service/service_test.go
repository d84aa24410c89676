package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/cache"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/andresuchdata/cashflow-sdp/internal/simulation"
	"github.com/andresuchdata/cashflow-sdp/internal/storage"
	"github.com/rs/zerolog"
)

func smallParams() domain.Parameters {
	p := domain.DefaultParameters()
	p.MeanDemand = []float64{4, 4, 4}
	p.FixedOrderCost = 5
	p.InitialCash = 30
	p.MaxOrderQuantity = 20
	p.MaxInventoryState = 40
	p.MinCashState = -20
	p.MaxCashState = 150
	return p
}

type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	runs    map[int64]*domain.SolveRun
	results map[int64]*domain.SolveResult
	failed  map[int64]string
}

func newMemRepo() *memRepo {
	return &memRepo{runs: map[int64]*domain.SolveRun{}, results: map[int64]*domain.SolveResult{}, failed: map[int64]string{}}
}

func (m *memRepo) CreateRun(ctx context.Context, run *domain.SolveRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	run.ID = m.nextID
	run.CreatedAt = time.Now()
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *memRepo) MarkRunFailed(ctx context.Context, id int64, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = reason
	m.runs[id].Status = domain.RunFailed
	return nil
}

func (m *memRepo) CompleteRun(ctx context.Context, id int64, result *domain.SolveResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return repository.ErrRunNotFound
	}
	run.Status = domain.RunCompleted
	run.OptimalValue = result.OptimalValue
	run.Mismatches = result.Mismatches
	m.results[id] = result
	return nil
}

func (m *memRepo) GetRun(ctx context.Context, id int64) (*domain.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memRepo) ListRuns(ctx context.Context, limit, offset int) ([]domain.SolveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.SolveRun{}
	for id := m.nextID; id > 0; id-- {
		out = append(out, *m.runs[id])
	}
	return out, nil
}

func (m *memRepo) FindCompletedRun(ctx context.Context, hash string) (*domain.SolveRun, error) {
	return nil, repository.ErrRunNotFound
}

func (m *memRepo) GetPolicy(ctx context.Context, id int64) ([]domain.ThresholdPolicyRow, error) {
	return m.results[id].Policy, nil
}

func (m *memRepo) GetThresholds(ctx context.Context, id int64) ([]domain.CashThreshold, error) {
	return m.results[id].Thresholds, nil
}

func (m *memRepo) GetTable(ctx context.Context, id int64, filter domain.TableFilter) ([]domain.OptimalActionRecord, int, error) {
	t := m.results[id].Table
	return t, len(t), nil
}

type memResultCache struct {
	byHash map[string]*domain.SolveResult
	sets   int
}

func (c *memResultCache) GetResult(ctx context.Context, hash string) (*domain.SolveResult, bool, error) {
	r, ok := c.byHash[hash]
	return r, ok, nil
}

func (c *memResultCache) SetResult(ctx context.Context, r *domain.SolveResult) error {
	c.byHash[r.ParamsHash] = r
	c.sets++
	return nil
}

func (c *memResultCache) InvalidateAll(ctx context.Context) error {
	c.byHash = map[string]*domain.SolveResult{}
	return nil
}

type memPolicyCache struct {
	entries map[string]*cache.PolicyEntry
	hits    int
}

func (c *memPolicyCache) key(id int64, cr domain.Criteria) string {
	return fmt.Sprintf("%d:%s", id, cr)
}

func (c *memPolicyCache) GetPolicy(ctx context.Context, id int64, cr domain.Criteria) (*cache.PolicyEntry, bool, error) {
	e, ok := c.entries[c.key(id, cr)]
	if ok {
		c.hits++
	}
	return e, ok, nil
}

func (c *memPolicyCache) SetPolicy(ctx context.Context, id int64, cr domain.Criteria, e *cache.PolicyEntry) error {
	c.entries[c.key(id, cr)] = e
	return nil
}

func (c *memPolicyCache) InvalidateRun(ctx context.Context, id int64) error { return nil }
func (c *memPolicyCache) InvalidateAll(ctx context.Context) error           { return nil }

func TestEvaluateWithSimulation(t *testing.T) {
	ev, err := Evaluate(context.Background(), smallParams(), simulation.Config{Samples: 200, Seed: 5, Workers: 2}, zerolog.Nop())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	r := ev.Result
	if len(r.Policy) != 3 || r.StateCount != len(r.Table) || r.StateCount == 0 {
		t.Fatalf("unexpected result shape: policy=%d states=%d table=%d", len(r.Policy), r.StateCount, len(r.Table))
	}
	if r.FinalCash != 30+r.OptimalValue {
		t.Fatalf("final cash %v", r.FinalCash)
	}
	if r.OptimalSim == nil || r.PolicySim == nil || r.OptimalityGap == nil {
		t.Fatalf("simulation summaries missing")
	}
	if r.Mismatches != ev.Report.Mismatches {
		t.Fatalf("mismatch count not carried over")
	}
}

func TestEvaluateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Evaluate(ctx, smallParams(), simulation.Config{}, zerolog.Nop()); !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

// expiringContext passes the first n Err calls and reports a deadline after
// that.
type expiringContext struct {
	context.Context
	n int
}

func (c *expiringContext) Err() error {
	if c.n <= 0 {
		return context.DeadlineExceeded
	}
	c.n--
	return nil
}

func TestRunStopsWhenDeadlinePassesMidSolve(t *testing.T) {
	repo := newMemRepo()
	rc := &memResultCache{byHash: map[string]*domain.SolveResult{}}
	svc := NewSolveService(repo, rc, nil, nil, simulation.Config{})

	// The entry check passes and the deadline lands inside the solve.
	ctx := &expiringContext{Context: context.Background(), n: 3}
	if _, err := svc.Run(ctx, smallParams()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if repo.runs[1].Status != domain.RunFailed || !strings.Contains(repo.failed[1], "deadline") {
		t.Fatalf("run should be marked failed: %+v %q", repo.runs[1], repo.failed[1])
	}
	if rc.sets != 0 {
		t.Fatalf("a cancelled solve must not be cached")
	}
}

func TestRunHonoursRealTimeout(t *testing.T) {
	svc := NewSolveService(nil, nil, nil, nil, simulation.Config{})
	p := domain.DefaultParameters()
	p.MeanDemand = []float64{15, 15, 15, 15}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := svc.Run(ctx, p); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("solve kept running %v past a 20ms deadline", elapsed)
	}
}

func TestRunUsesResultCache(t *testing.T) {
	rc := &memResultCache{byHash: map[string]*domain.SolveResult{}}
	svc := NewSolveService(nil, rc, nil, nil, simulation.Config{})

	first, err := svc.Run(context.Background(), smallParams())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if first.RunID != 0 {
		t.Fatalf("no repository means no run id, got %d", first.RunID)
	}
	second, err := svc.Run(context.Background(), smallParams())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if second != first || rc.sets != 1 {
		t.Fatalf("second run should be a cache hit (sets=%d)", rc.sets)
	}
}

func TestRunRejectsInvalidParameters(t *testing.T) {
	repo := newMemRepo()
	svc := NewSolveService(repo, nil, nil, nil, simulation.Config{})
	p := smallParams()
	p.VariableCost = 0
	if _, err := svc.Run(context.Background(), p); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("want ErrInvalidParameters, got %v", err)
	}
	if len(repo.runs) != 0 {
		t.Fatalf("invalid instance must not create a run")
	}
}

func TestRunPersistsAndExports(t *testing.T) {
	repo := newMemRepo()
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	svc := NewSolveService(repo, nil, nil, store, simulation.Config{})
	ctx := context.Background()

	res, err := svc.Run(ctx, smallParams())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.RunID != 1 {
		t.Fatalf("run id %d", res.RunID)
	}
	run, err := svc.GetRun(ctx, 1)
	if err != nil || run.Status != domain.RunCompleted {
		t.Fatalf("run not completed: %+v %v", run, err)
	}

	objs, err := store.ListObjects(ctx, "1/")
	if err != nil || len(objs) != 4 {
		t.Fatalf("want four exported files, got %+v %v", objs, err)
	}
	link, err := svc.ExportLink(ctx, 1)
	if err != nil || !strings.HasSuffix(link, "1/result.xlsx") {
		t.Fatalf("export link %q %v", link, err)
	}
	if _, err := svc.ExportLink(ctx, 9); !errors.Is(err, repository.ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}

	rows, total, err := svc.GetTable(ctx, 1, domain.TableFilter{})
	if err != nil || total != res.StateCount || len(rows) != total {
		t.Fatalf("table: %d rows, total %d, err %v", len(rows), total, err)
	}
}

func TestPolicyReextractsOtherCriteria(t *testing.T) {
	repo := newMemRepo()
	pc := &memPolicyCache{entries: map[string]*cache.PolicyEntry{}}
	svc := NewSolveService(repo, nil, pc, nil, simulation.Config{})
	ctx := context.Background()

	res, err := svc.Run(ctx, smallParams())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	stored, err := svc.Policy(ctx, res.RunID, "")
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if stored.Criteria != domain.CriteriaXRelate || len(stored.Rows) != 3 || stored.Mismatches != res.Mismatches {
		t.Fatalf("stored policy %+v", stored)
	}

	maxView, err := svc.Policy(ctx, res.RunID, domain.CriteriaMax)
	if err != nil {
		t.Fatalf("policy max: %v", err)
	}
	if maxView.Criteria != domain.CriteriaMax || len(maxView.Rows) != 3 {
		t.Fatalf("max policy %+v", maxView)
	}
	if maxView.Rows[0] != stored.Rows[0] || maxView.Rows[2] != stored.Rows[2] {
		t.Fatalf("criteria only affects non-terminal periods after the first")
	}

	if _, err := svc.Policy(ctx, res.RunID, domain.CriteriaMax); err != nil {
		t.Fatalf("policy max again: %v", err)
	}
	if pc.hits != 1 {
		t.Fatalf("second re-extraction should hit the cache, hits=%d", pc.hits)
	}

	if _, err := svc.Policy(ctx, 42, ""); !errors.Is(err, repository.ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
}

func TestRunLookupsWithoutRepository(t *testing.T) {
	svc := NewSolveService(nil, nil, nil, nil, simulation.Config{})
	if _, err := svc.GetRun(context.Background(), 1); !errors.Is(err, ErrPersistenceDisabled) {
		t.Fatalf("want ErrPersistenceDisabled, got %v", err)
	}
	if _, err := svc.ExportLink(context.Background(), 1); !errors.Is(err, ErrExportUnavailable) {
		t.Fatalf("want ErrExportUnavailable, got %v", err)
	}
}

func withInventory(p domain.Parameters, x float64) domain.Parameters {
	p.InitialInventory = x
	return p
}

func TestKConvexity(t *testing.T) {
	p := smallParams()
	rep, err := KConvexity(context.Background(), p, 0, 4)
	if err != nil {
		t.Fatalf("kconvexity: %v", err)
	}
	if len(rep.Points) != 5 || rep.K != p.FixedOrderCost || rep.Violations == nil {
		t.Fatalf("report %+v", rep)
	}
	for i, pt := range rep.Points {
		if pt.X != float64(i) {
			t.Fatalf("point %d at x=%v", i, pt.X)
		}
	}

	direct, err := Evaluate(context.Background(), withInventory(p, 3), simulation.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if diff := rep.Points[3].G + direct.Result.OptimalValue; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("G(3) = %v should be minus the value %v of a fresh solve", rep.Points[3].G, direct.Result.OptimalValue)
	}

	if _, err := KConvexity(context.Background(), p, 5, 1); !errors.Is(err, domain.ErrInvalidParameters) {
		t.Fatalf("want ErrInvalidParameters, got %v", err)
	}
}
