package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/andresuchdata/cashflow-sdp/internal/domain"
	"github.com/andresuchdata/cashflow-sdp/internal/repository"
	"github.com/jmoiron/sqlx"
)

// insertBatchSize keeps multi-row inserts well below the 65535 bind parameter
// limit of the postgres protocol.
const insertBatchSize = 1000

const runColumns = `id, params_hash, parameters, status, optimal_value, first_action,
	state_count, mismatches, error_message, created_at, completed_at`

type runRepository struct {
	db *DB
}

func NewRunRepository(db *DB) repository.RunRepository {
	return &runRepository{db: db}
}

func (r *runRepository) CreateRun(ctx context.Context, run *domain.SolveRun) error {
	query := `
		INSERT INTO solve_runs (params_hash, parameters, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at
	`
	if run.Status == "" {
		run.Status = domain.RunSolving
	}
	err := r.db.QueryRowContext(ctx, query, run.ParamsHash, run.Parameters, run.Status).
		Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create solve run: %w", err)
	}
	return nil
}

func (r *runRepository) MarkRunFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE solve_runs
		SET status = $1, error_message = $2, completed_at = NOW()
		WHERE id = $3
	`
	res, err := r.db.ExecContext(ctx, query, domain.RunFailed, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark run %d failed: %w", id, err)
	}
	return expectRow(res, id)
}

func (r *runRepository) CompleteRun(ctx context.Context, id int64, result *domain.SolveResult) error {
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE solve_runs
			SET status = $1, optimal_value = $2, first_action = $3,
			    state_count = $4, mismatches = $5, completed_at = NOW()
			WHERE id = $6
		`
		res, err := tx.ExecContext(ctx, query,
			domain.RunCompleted,
			result.OptimalValue,
			result.FirstAction,
			result.StateCount,
			result.Mismatches,
			id,
		)
		if err != nil {
			return fmt.Errorf("failed to complete run %d: %w", id, err)
		}
		if err := expectRow(res, id); err != nil {
			return err
		}

		policy := result.Policy
		err = insertBatched(ctx, tx, "run_policy_rows",
			[]string{"run_id", "period", "reorder_point", "cash_threshold", "order_up_to"},
			len(policy), func(i int) []any {
				p := policy[i]
				return []any{id, p.Period, p.ReorderPoint, p.CashThreshold, p.OrderUpTo}
			})
		if err != nil {
			return fmt.Errorf("failed to insert policy rows: %w", err)
		}

		thresholds := result.Thresholds
		err = insertBatched(ctx, tx, "run_cash_thresholds",
			[]string{"run_id", "period", "inventory", "threshold"},
			len(thresholds), func(i int) []any {
				c := thresholds[i]
				return []any{id, c.Period, c.Inventory, c.Threshold}
			})
		if err != nil {
			return fmt.Errorf("failed to insert cash thresholds: %w", err)
		}

		table := result.Table
		err = insertBatched(ctx, tx, "run_optimal_table",
			[]string{"run_id", "period", "inventory", "cash", "order_quantity"},
			len(table), func(i int) []any {
				t := table[i]
				return []any{id, t.Period, t.Inventory, t.Cash, t.OrderQuantity}
			})
		if err != nil {
			return fmt.Errorf("failed to insert optimal table: %w", err)
		}
		return nil
	})
}

func (r *runRepository) GetRun(ctx context.Context, id int64) (*domain.SolveRun, error) {
	query := `SELECT ` + runColumns + ` FROM solve_runs WHERE id = $1`

	var run domain.SolveRun
	if err := sqlx.GetContext(ctx, r.db, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %d", repository.ErrRunNotFound, id)
		}
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return &run, nil
}

func (r *runRepository) ListRuns(ctx context.Context, limit, offset int) ([]domain.SolveRun, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	query := `SELECT ` + runColumns + ` FROM solve_runs ORDER BY id DESC LIMIT $1 OFFSET $2`

	runs := []domain.SolveRun{}
	if err := sqlx.SelectContext(ctx, r.db, &runs, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

func (r *runRepository) FindCompletedRun(ctx context.Context, paramsHash string) (*domain.SolveRun, error) {
	query := `SELECT ` + runColumns + `
		FROM solve_runs
		WHERE params_hash = $1 AND status = $2
		ORDER BY completed_at DESC
		LIMIT 1`

	var run domain.SolveRun
	if err := sqlx.GetContext(ctx, r.db, &run, query, paramsHash, domain.RunCompleted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no completed run for %s", repository.ErrRunNotFound, paramsHash)
		}
		return nil, fmt.Errorf("failed to find run by hash: %w", err)
	}
	return &run, nil
}

func (r *runRepository) GetPolicy(ctx context.Context, id int64) ([]domain.ThresholdPolicyRow, error) {
	query := `
		SELECT period, reorder_point, cash_threshold, order_up_to
		FROM run_policy_rows
		WHERE run_id = $1
		ORDER BY period
	`
	rows := []domain.ThresholdPolicyRow{}
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, id); err != nil {
		return nil, fmt.Errorf("failed to get policy of run %d: %w", id, err)
	}
	return rows, nil
}

func (r *runRepository) GetThresholds(ctx context.Context, id int64) ([]domain.CashThreshold, error) {
	query := `
		SELECT period, inventory, threshold
		FROM run_cash_thresholds
		WHERE run_id = $1
		ORDER BY period, inventory
	`
	out := []domain.CashThreshold{}
	if err := sqlx.SelectContext(ctx, r.db, &out, query, id); err != nil {
		return nil, fmt.Errorf("failed to get thresholds of run %d: %w", id, err)
	}
	return out, nil
}

// GetTable pages through the optimal table of a run. A zero period selects
// every period; a non-positive page size returns the whole table.
func (r *runRepository) GetTable(ctx context.Context, id int64, filter domain.TableFilter) ([]domain.OptimalActionRecord, int, error) {
	where := "WHERE run_id = $1"
	args := []any{id}
	if filter.Period > 0 {
		where += " AND period = $2"
		args = append(args, filter.Period)
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM run_optimal_table ` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count table of run %d: %w", id, err)
	}

	query := `SELECT period, inventory, cash, order_quantity FROM run_optimal_table ` +
		where + ` ORDER BY period, inventory, cash`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.PageSize, (page-1)*filter.PageSize)
	}

	records := []domain.OptimalActionRecord{}
	if err := sqlx.SelectContext(ctx, r.db, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("failed to get table of run %d: %w", id, err)
	}
	return records, total, nil
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", repository.ErrRunNotFound, id)
	}
	return nil
}

// insertBatched writes n rows into table using multi-row INSERT statements.
func insertBatched(ctx context.Context, tx *sql.Tx, table string, columns []string, n int, row func(i int) []any) error {
	for start := 0; start < n; start += insertBatchSize {
		end := min(start+insertBatchSize, n)

		var sb strings.Builder
		args := make([]any, 0, (end-start)*len(columns))
		fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
		for i := start; i < end; i++ {
			if i > start {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for c := range columns {
				if c > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", len(args)+c+1)
			}
			sb.WriteByte(')')
			args = append(args, row(i)...)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}
