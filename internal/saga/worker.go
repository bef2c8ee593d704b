package saga

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
)

// WorkerConfig tunes the polling dispatcher.
type WorkerConfig struct {
	// PollInterval is the delay between runnable-order scans.
	PollInterval time.Duration
	// BatchSize caps how many orders one scan claims work for.
	BatchSize int
	// Concurrency bounds the number of orders processed simultaneously.
	Concurrency int
}

// Worker polls the store for runnable orders and dispatches each to the
// orchestrator under a bounded concurrency limit. Lease conflicts are
// expected under competition and only counted, not logged as failures.
type Worker struct {
	store  store.OrderStore
	orch   *Orchestrator
	cfg    WorkerConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewWorker(st store.OrderStore, orch *Orchestrator, cfg WorkerConfig, log *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	return &Worker{store: st, orch: orch, cfg: cfg, logger: log, now: time.Now}
}

// Run polls until ctx is canceled. Each tick drains one batch completely
// before the next scan so a slow order cannot be claimed twice by this
// worker.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce scans and processes a single batch of runnable orders.
func (w *Worker) RunOnce(ctx context.Context) {
	orders, err := w.store.ListRunnable(ctx, w.now(), w.cfg.BatchSize)
	if err != nil {
		w.logger.ErrorContext(ctx, "runnable order scan failed", slog.String("error", err.Error()))
		return
	}

	sem := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, order := range orders {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(orderID string) {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(ctx, orderID)
		}(order.ID)
	}
	wg.Wait()
}

func (w *Worker) process(ctx context.Context, orderID string) {
	err := w.orch.Process(ctx, orderID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrLeaseHeld):
		// Another worker owns it; the next scan skips or retries.
	case errors.Is(err, apperrors.ErrVersionConflict):
		w.logger.DebugContext(ctx, "order yielded to concurrent writer", slog.String("order_id", orderID))
	case errors.Is(err, context.Canceled):
	default:
		w.logger.ErrorContext(ctx, "order processing failed",
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
	}
}
