package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const defaultMaxConcurrentTx = 10

// DB is a sqlx pool whose transactions are rate limited by a semaphore.
type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted
}

// NewDB opens and pings a pool sized from cfg. Zero pool settings keep the
// driver defaults.
func NewDB(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect %s/%s: %w", cfg.Host, cfg.DBName, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	return Wrap(db, cfg.MaxConcurrentTx), nil
}

// Wrap adapts an open connection, e.g. a pgx stdlib pool or a sqlmock handle.
// At most maxConcurrentTx transactions run at once.
func Wrap(db *sqlx.DB, maxConcurrentTx int64) *DB {
	if maxConcurrentTx < 1 {
		maxConcurrentTx = defaultMaxConcurrentTx
	}
	return &DB{DB: db, sem: semaphore.NewWeighted(maxConcurrentTx)}
}

// WithTx runs fn in a transaction, committing on nil and rolling back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("wait for transaction slot: %w", err)
	}
	defer db.sem.Release(1)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("rollback failed")
		}
	}()

	if err = fn(tx.Tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
