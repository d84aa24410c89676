package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/andresuchdata/cashflow-sdp/internal/service"
	"github.com/andresuchdata/cashflow-sdp/internal/simulation"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSolveService struct {
	lastParams   domain.Parameters
	lastFilter   domain.TableFilter
	lastCriteria domain.Criteria
	lastRange    [2]float64
	runErr       error
}

func (f *fakeSolveService) Run(ctx context.Context, p domain.Parameters) (*domain.SolveResult, error) {
	f.lastParams = p
	if f.runErr != nil {
		return nil, f.runErr
	}
	return &domain.SolveResult{
		RunID:        1,
		Parameters:   p,
		OptimalValue: 42,
		Table:        []domain.OptimalActionRecord{{Period: 1, OrderQuantity: 3}},
	}, nil
}

func (f *fakeSolveService) GetRun(ctx context.Context, id int64) (*domain.SolveRun, error) {
	if id != 1 {
		return nil, repository.ErrRunNotFound
	}
	return &domain.SolveRun{ID: 1, Status: domain.RunCompleted}, nil
}

func (f *fakeSolveService) ListRuns(ctx context.Context, limit, offset int) ([]domain.SolveRun, error) {
	return []domain.SolveRun{{ID: 1}}, nil
}

func (f *fakeSolveService) GetTable(ctx context.Context, id int64, filter domain.TableFilter) ([]domain.OptimalActionRecord, int, error) {
	f.lastFilter = filter
	return []domain.OptimalActionRecord{}, 0, nil
}

func (f *fakeSolveService) GetThresholds(ctx context.Context, id int64) ([]domain.CashThreshold, error) {
	return []domain.CashThreshold{{Period: 2, Inventory: 0, Threshold: 11}}, nil
}

func (f *fakeSolveService) Policy(ctx context.Context, id int64, criteria domain.Criteria) (*service.PolicyView, error) {
	f.lastCriteria = criteria
	return &service.PolicyView{RunID: id, Criteria: criteria}, nil
}

func (f *fakeSolveService) ExportLink(ctx context.Context, id int64) (string, error) {
	return "", service.ErrExportUnavailable
}

func (f *fakeSolveService) KConvexity(ctx context.Context, p domain.Parameters, minInv, maxInv float64) (*service.KConvexityReport, error) {
	f.lastParams = p
	f.lastRange = [2]float64{minInv, maxInv}
	return &service.KConvexityReport{K: p.FixedOrderCost}, nil
}

func newTestRouter() (*gin.Engine, *fakeSolveService, *Services) {
	fake := &fakeSolveService{}
	services := &Services{Solve: fake, Defaults: domain.DefaultParameters()}
	return NewRouter(services, nil), fake, services
}

func do(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSolveMergesRequestOntoDefaults(t *testing.T) {
	r, fake, services := newTestRouter()

	rec := do(r, http.MethodPost, "/api/v1/solve", `{"mean_demand":[5,5],"fixed_order_cost":20}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if !reflect.DeepEqual(fake.lastParams.MeanDemand, []float64{5, 5}) || fake.lastParams.FixedOrderCost != 20 {
		t.Fatalf("request fields not applied: %+v", fake.lastParams)
	}
	if fake.lastParams.Price != 8 {
		t.Fatalf("omitted fields should keep defaults, price %v", fake.lastParams.Price)
	}
	if !reflect.DeepEqual(services.Defaults.MeanDemand, domain.DefaultParameters().MeanDemand) {
		t.Fatalf("defaults were modified: %v", services.Defaults.MeanDemand)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["table"]; ok {
		t.Fatalf("table should be omitted by default")
	}

	rec = do(r, http.MethodPost, "/api/v1/solve?include_table=true", `{}`)
	if !strings.Contains(rec.Body.String(), `"table"`) {
		t.Fatalf("table requested but missing: %s", rec.Body)
	}
}

func TestSolveErrors(t *testing.T) {
	r, fake, _ := newTestRouter()

	if rec := do(r, http.MethodPost, "/api/v1/solve", `{"mean_demand":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json status %d", rec.Code)
	}

	fake.runErr = fmt.Errorf("%w: variable cost must be positive", domain.ErrInvalidParameters)
	if rec := do(r, http.MethodPost, "/api/v1/solve", `{"variable_cost":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid parameters status %d", rec.Code)
	}

	fake.runErr = fmt.Errorf("boom")
	if rec := do(r, http.MethodPost, "/api/v1/solve", `{}`); rec.Code != http.StatusInternalServerError {
		t.Fatalf("internal error status %d", rec.Code)
	}
}

func TestRunRoutes(t *testing.T) {
	r, fake, _ := newTestRouter()

	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/runs", http.StatusOK},
		{"/api/v1/runs/1", http.StatusOK},
		{"/api/v1/runs/abc", http.StatusBadRequest},
		{"/api/v1/runs/9", http.StatusNotFound},
		{"/api/v1/runs/1/policy?criteria=bogus", http.StatusBadRequest},
		{"/api/v1/runs/1/thresholds", http.StatusOK},
		{"/api/v1/runs/1/export", http.StatusServiceUnavailable},
		{"/api/v1/nope", http.StatusNotFound},
		{"/health", http.StatusOK},
	}
	for _, tt := range tests {
		if rec := do(r, http.MethodGet, tt.target, ""); rec.Code != tt.want {
			t.Errorf("GET %s: status %d, want %d", tt.target, rec.Code, tt.want)
		}
	}

	if rec := do(r, http.MethodGet, "/api/v1/runs/1/policy?criteria=MAX", ""); rec.Code != http.StatusOK || fake.lastCriteria != domain.CriteriaMax {
		t.Fatalf("criteria not parsed: %d %q", rec.Code, fake.lastCriteria)
	}

	do(r, http.MethodGet, "/api/v1/runs/1/table?period=2&page=3&page_size=10", "")
	if fake.lastFilter != (domain.TableFilter{Period: 2, Page: 3, PageSize: 10}) {
		t.Fatalf("filter %+v", fake.lastFilter)
	}
	do(r, http.MethodGet, "/api/v1/runs/1/table?page=-1", "")
	if fake.lastFilter != (domain.TableFilter{Period: 0, Page: 1, PageSize: 500}) {
		t.Fatalf("default filter %+v", fake.lastFilter)
	}
}

func TestKConvexityRoute(t *testing.T) {
	r, fake, _ := newTestRouter()
	rec := do(r, http.MethodPost, "/api/v1/kconvexity", `{"parameters":{"fixed_order_cost":3},"min_inventory":0,"max_inventory":6}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	if fake.lastParams.FixedOrderCost != 3 || fake.lastParams.Price != 8 || fake.lastRange != [2]float64{0, 6} {
		t.Fatalf("request not applied: %+v %v", fake.lastParams, fake.lastRange)
	}
}

func TestCORSPreflight(t *testing.T) {
	r, _, _ := newTestRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/solve", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("allow origin %q (status %d)", got, rec.Code)
	}
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	got, all := normalizeAllowedOrigins([]string{"https://a.example, https://b.example", " "})
	if all || !reflect.DeepEqual(got, []string{"https://a.example", "https://b.example"}) {
		t.Fatalf("got %v %v", got, all)
	}
	if _, all := normalizeAllowedOrigins([]string{"*"}); !all {
		t.Fatalf("wildcard not detected")
	}
}

func TestRequestIDEchoed(t *testing.T) {
	r, _, _ := newTestRouter()

	rec := do(r, http.MethodGet, "/health", "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/1", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("request id %q, want abc-123", got)
	}
}

type slowSolveService struct{ fakeSolveService }

func (s *slowSolveService) Run(ctx context.Context, p domain.Parameters) (*domain.SolveResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestSolveTimeout(t *testing.T) {
	r := NewRouter(&Services{
		Solve:        &slowSolveService{},
		Defaults:     domain.DefaultParameters(),
		SolveTimeout: 10 * time.Millisecond,
	}, nil)

	if rec := do(r, http.MethodPost, "/api/v1/solve", `{}`); rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status %d, want 504", rec.Code)
	}
}

func TestSolveTimeoutStopsRealSolve(t *testing.T) {
	r := NewRouter(&Services{
		Solve:        service.NewSolveService(nil, nil, nil, nil, simulation.Config{}),
		Defaults:     domain.DefaultParameters(),
		SolveTimeout: 20 * time.Millisecond,
	}, nil)

	start := time.Now()
	rec := do(r, http.MethodPost, "/api/v1/solve", `{"mean_demand":[15,15,15,15]}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status %d, want 504: %s", rec.Code, rec.Body)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("request took %v with a 20ms solve timeout", elapsed)
	}
}
