package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"gastos/internal/core"
)

// ExpenseIndexer writes one ledger row into the vector index.
type ExpenseIndexer interface {
	IndexExpense(ctx context.Context, rec core.ExpenseRecord) error
}

// IndexWorker upserts ledger rows into the vector index from a bounded queue
// on a single goroutine. Failures are logged and never reach the ledger.
type IndexWorker struct {
	indexer ExpenseIndexer
	timeout time.Duration
	queue   chan core.ExpenseRecord

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	start  sync.Once
	stop   sync.Once

	indexed int64
	failed  int64
}

// NewIndexWorker creates a worker with room for size pending rows. timeout
// bounds each upsert.
func NewIndexWorker(indexer ExpenseIndexer, size int, timeout time.Duration) *IndexWorker {
	if size < 1 {
		size = 1
	}
	return &IndexWorker{
		indexer: indexer,
		timeout: timeout,
		queue:   make(chan core.ExpenseRecord, size),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. It runs until Close.
func (w *IndexWorker) Start(ctx context.Context) {
	w.start.Do(func() {
		go w.run(context.WithoutCancel(ctx))
	})
}

// Enqueue schedules rec without blocking. A full or closed queue drops it.
func (w *IndexWorker) Enqueue(rec core.ExpenseRecord) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}

	select {
	case w.queue <- rec:
		return true
	default:
		slog.Warn("Index queue full, dropping vector upsert",
			"expense_id", rec.ID,
			"update_id", rec.UpdateID)
		return false
	}
}

// Close stops accepting rows and waits until the queued ones are processed.
func (w *IndexWorker) Close() error {
	w.stop.Do(func() {
		w.mu.Lock()
		w.closed = true
		close(w.queue)
		w.mu.Unlock()
	})
	// A worker that was never started still drains here.
	w.Start(context.Background())
	<-w.done
	return nil
}

func (w *IndexWorker) run(ctx context.Context) {
	defer close(w.done)
	for rec := range w.queue {
		w.process(ctx, rec)
	}
}

func (w *IndexWorker) process(ctx context.Context, rec core.ExpenseRecord) {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	if err := w.indexer.IndexExpense(ctx, rec); err != nil {
		w.mu.Lock()
		w.failed++
		w.mu.Unlock()
		slog.ErrorContext(ctx, "Vector upsert failed",
			"expense_id", rec.ID,
			"update_id", rec.UpdateID,
			"error", err)
		return
	}

	w.mu.Lock()
	w.indexed++
	w.mu.Unlock()
	slog.DebugContext(ctx, "Vector upserted",
		"expense_id", rec.ID,
		"month_key", rec.MonthKey)
}

// Stats returns how many rows were indexed and how many failed.
func (w *IndexWorker) Stats() (indexed, failed int64) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.indexed, w.failed
}
