package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/jmoiron/sqlx"
)

func newMockRepo(t *testing.T) (repository.RunRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRunRepository(Wrap(sqlx.NewDb(db, "sqlmock"), 1)), mock
}

func TestCreateRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO solve_runs (params_hash, parameters, status, created_at)")).
		WithArgs("abc", []byte(`{"price":8}`), string(domain.RunSolving)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(7), now))

	run := &domain.SolveRun{ParamsHash: "abc", Parameters: []byte(`{"price":8}`)}
	if err := repo.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.ID != 7 || !run.CreatedAt.Equal(now) || run.Status != domain.RunSolving {
		t.Fatalf("run not filled: %+v", run)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteRunWritesArtifactsInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)

	result := &domain.SolveResult{
		OptimalValue: 120.5,
		FirstAction:  20,
		StateCount:   3,
		Mismatches:   1,
		Policy: []domain.ThresholdPolicyRow{
			{Period: 1, ReorderPoint: 0, CashThreshold: 15, OrderUpTo: 20},
			{Period: 2, ReorderPoint: 4, CashThreshold: 11, OrderUpTo: 18},
		},
		Table: make([]domain.OptimalActionRecord, insertBatchSize+1),
	}
	for i := range result.Table {
		result.Table[i] = domain.OptimalActionRecord{Period: 2, Inventory: float64(i), Cash: 10}
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE solve_runs SET status = $1, optimal_value = $2")).
		WithArgs(string(domain.RunCompleted), 120.5, 20.0, 3, 1, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO run_policy_rows (run_id, period, reorder_point, cash_threshold, order_up_to) VALUES ($1, $2, $3, $4, $5), ($6, $7, $8, $9, $10)")).
		WithArgs(int64(7), 1, 0.0, 15.0, 20.0, int64(7), 2, 4.0, 11.0, 18.0).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_optimal_table")).
		WillReturnResult(sqlmock.NewResult(0, insertBatchSize))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_optimal_table (run_id, period, inventory, cash, order_quantity) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(int64(7), 2, float64(insertBatchSize), 10.0, 0.0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CompleteRun(context.Background(), 7, result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteRunUnknownIDRollsBack(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE solve_runs")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CompleteRun(context.Background(), 99, &domain.SolveResult{})
	if !errors.Is(err, repository.ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestMarkRunFailed(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE solve_runs SET status = $1, error_message = $2")).
		WithArgs(string(domain.RunFailed), "boom", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkRunFailed(context.Background(), 3, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

var runCols = []string{
	"id", "params_hash", "parameters", "status", "optimal_value", "first_action",
	"state_count", "mismatches", "error_message", "created_at", "completed_at",
}

func TestGetRun(t *testing.T) {
	repo, mock := newMockRepo(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM solve_runs WHERE id = $1")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows(runCols).
			AddRow(int64(5), "abc", []byte(`{}`), "completed", 99.5, 12.0, 40, 2, "", created, created))

	run, err := repo.GetRun(context.Background(), 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if run.Status != domain.RunCompleted || run.OptimalValue != 99.5 || run.CompletedAt == nil {
		t.Fatalf("unexpected run %+v", run)
	}

	mock.ExpectQuery(regexp.QuoteMeta("FROM solve_runs WHERE id = $1")).
		WithArgs(int64(6)).
		WillReturnRows(sqlmock.NewRows(runCols))
	if _, err := repo.GetRun(context.Background(), 6); !errors.Is(err, repository.ErrRunNotFound) {
		t.Fatalf("want ErrRunNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestListRunsClampsLimit(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM solve_runs ORDER BY id DESC LIMIT $1 OFFSET $2")).
		WithArgs(200, 0).
		WillReturnRows(sqlmock.NewRows(runCols))

	runs, err := repo.ListRuns(context.Background(), 5000, -3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if runs == nil || len(runs) != 0 {
		t.Fatalf("want empty non-nil slice, got %#v", runs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetTablePaged(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM run_optimal_table WHERE run_id = $1 AND period = $2")).
		WithArgs(int64(7), 2).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY period, inventory, cash LIMIT 2 OFFSET 2")).
		WithArgs(int64(7), 2).
		WillReturnRows(sqlmock.NewRows([]string{"period", "inventory", "cash", "order_quantity"}).
			AddRow(2, 2.0, 10.0, 0.0).
			AddRow(2, 3.0, 10.0, 4.0))

	rows, total, err := repo.GetTable(context.Background(), 7, domain.TableFilter{Period: 2, Page: 2, PageSize: 2})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	if total != 5 || len(rows) != 2 || rows[1].OrderQuantity != 4 {
		t.Fatalf("unexpected page: total=%d rows=%+v", total, rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetPolicy(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM run_policy_rows WHERE run_id = $1 ORDER BY period")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"period", "reorder_point", "cash_threshold", "order_up_to"}).
			AddRow(1, 0.0, 15.0, 20.0))

	rows, err := repo.GetPolicy(context.Background(), 7)
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	want := domain.ThresholdPolicyRow{Period: 1, ReorderPoint: 0, CashThreshold: 15, OrderUpTo: 20}
	if len(rows) != 1 || rows[0] != want {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
