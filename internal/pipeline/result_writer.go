package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var sweepHeader = []string{
	"scenario", "pattern", "fixed_cost", "variable_cost", "price", "max_order",
	"optimal_value", "first_action", "state_count", "mismatches",
	"optimal_mean", "policy_mean", "gap", "duration_ms", "error",
}

// FlushFunc is called with the result file after every flush.
type FlushFunc func(ctx context.Context, path string) error

// ResultWriter buffers scenario rows and appends them to a CSV file once the
// buffer reaches the batch size or the flush interval has elapsed.
type ResultWriter struct {
	path      string
	cfg       SweepConfig
	onFlush   FlushFunc
	mu        sync.Mutex
	buffer    []ScenarioResult
	lastFlush time.Time
	written   int
	started   bool
}

// NewResultWriter creates a writer for sweep id under cfg.OutputDir. An
// existing non-empty file is appended to without a second header.
func NewResultWriter(cfg SweepConfig, sweepID int64, onFlush FlushFunc) *ResultWriter {
	w := &ResultWriter{
		path:      filepath.Join(cfg.OutputDir, fmt.Sprintf("sweep_%d.csv", sweepID)),
		cfg:       cfg,
		onFlush:   onFlush,
		buffer:    make([]ScenarioResult, 0, max(cfg.BatchSize, 1)),
		lastFlush: time.Now(),
	}
	if info, err := os.Stat(w.path); err == nil && info.Size() > 0 {
		w.started = true
	}
	return w
}

// Reset discards any file left by an earlier sweep with the same id.
func (w *ResultWriter) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := os.Remove(w.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale result file: %w", err)
	}
	w.started = false
	w.buffer = w.buffer[:0]
	return nil
}

// Path is the CSV the writer appends to.
func (w *ResultWriter) Path() string { return w.path }

// Written is the number of rows flushed so far.
func (w *ResultWriter) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Add buffers a row and flushes when a threshold is reached.
func (w *ResultWriter) Add(ctx context.Context, r ScenarioResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buffer = append(w.buffer, r)
	if len(w.buffer) >= w.cfg.BatchSize || time.Since(w.lastFlush) >= w.cfg.FlushInterval {
		return w.flush(ctx)
	}
	return nil
}

// Finalize flushes the remaining rows. The file is created even for an empty
// sweep so callers always get a header.
func (w *ResultWriter) Finalize(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) == 0 && w.started {
		return nil
	}
	return w.flush(ctx)
}

// flush must be called with mu held.
func (w *ResultWriter) flush(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open result file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if !w.started {
		if err := cw.Write(sweepHeader); err != nil {
			return err
		}
	}
	for _, r := range w.buffer {
		if err := cw.Write(resultRecord(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write result file: %w", err)
	}

	w.started = true
	w.written += len(w.buffer)
	w.buffer = w.buffer[:0]
	w.lastFlush = time.Now()

	if w.onFlush != nil {
		if err := w.onFlush(ctx, w.path); err != nil {
			return fmt.Errorf("flush callback: %w", err)
		}
	}
	return nil
}

func resultRecord(r ScenarioResult) []string {
	return []string{
		r.Scenario,
		r.Pattern,
		num(r.FixedCost),
		num(r.VariableCost),
		num(r.Price),
		num(r.MaxOrder),
		money(r.OptimalValue),
		num(r.FirstAction),
		strconv.Itoa(r.StateCount),
		strconv.Itoa(r.Mismatches),
		optionalMoney(r.OptimalMean),
		optionalMoney(r.PolicyMean),
		optionalRatio(r.Gap),
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		r.Error,
	}
}

func num(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func money(v float64) string { return decimal.NewFromFloat(v).StringFixed(2) }

func optionalMoney(v *float64) string {
	if v == nil {
		return ""
	}
	return money(*v)
}

func optionalRatio(v *float64) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).StringFixed(4)
}
