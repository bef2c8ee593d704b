package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

var sideEffectsReused = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "fulfillment_side_effects_reused_total",
		Help: "Forward step executions answered from the side-effect ledger instead of calling the downstream service",
	},
	[]string{"step"},
)

// Ledger records the result of a side-effecting downstream call keyed by
// order and step. A retried or replayed execution reads the recorded result
// back instead of re-invoking the downstream service, which is the local half
// of the no-double-charge guarantee (the downstream idempotency key is the
// remote half).
type Ledger interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Put(ctx context.Context, key string, data []byte) error
}

// MemoryLedger is an in-process ledger for tests and single-node deployments.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string][]byte)}
}

func (l *MemoryLedger) Get(_ context.Context, key string) ([]byte, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.entries[key]
	return data, ok, nil
}

func (l *MemoryLedger) Put(_ context.Context, key string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.entries[key]; !exists {
		l.entries[key] = data
	}
	return nil
}

// RedisLedger stores ledger entries in Redis so every worker in the region
// shares one view of which side effects already happened.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisLedger creates a Redis-backed ledger. Entries expire after ttl,
// which must comfortably exceed the longest possible saga lifetime including
// compensation.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	return &RedisLedger{client: client, ttl: ttl, prefix: "fulfillment:effect:"}
}

func (l *RedisLedger) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := l.client.Get(ctx, l.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ledger get: %w", err)
	}
	return data, true, nil
}

func (l *RedisLedger) Put(ctx context.Context, key string, data []byte) error {
	// SetNX keeps the first recorded result if two workers race.
	if err := l.client.SetNX(ctx, l.prefix+key, data, l.ttl).Err(); err != nil {
		return fmt.Errorf("ledger put: %w", err)
	}
	return nil
}

// Guarded wraps an adapter with the side-effect ledger. Execute consults the
// ledger before calling downstream and records the result after; Compensate
// passes through untouched because undo calls carry their own idempotency key.
type Guarded struct {
	inner  Adapter
	ledger Ledger
	logger *slog.Logger
}

// Guard wraps adapter with ledger-backed execution dedup.
func Guard(inner Adapter, ledger Ledger, log *slog.Logger) *Guarded {
	return &Guarded{inner: inner, ledger: ledger, logger: log}
}

func (g *Guarded) Step() domain.Step {
	return g.inner.Step()
}

func (g *Guarded) Execute(ctx context.Context, order *domain.Order) (json.RawMessage, error) {
	key := IdempotencyKey(order.ID, g.inner.Step())

	if data, ok, err := g.ledger.Get(ctx, key); err != nil {
		// A broken ledger must not block the saga; the downstream
		// idempotency key still prevents a duplicate effect.
		g.logger.WarnContext(ctx, "side-effect ledger read failed",
			slog.String("order_id", order.ID),
			slog.String("step", string(g.inner.Step())),
			slog.String("error", err.Error()),
		)
	} else if ok {
		sideEffectsReused.WithLabelValues(string(g.inner.Step())).Inc()
		g.logger.InfoContext(ctx, "reusing recorded side effect",
			slog.String("order_id", order.ID),
			slog.String("step", string(g.inner.Step())),
		)
		return data, nil
	}

	data, err := g.inner.Execute(ctx, order)
	if err != nil {
		return nil, err
	}

	if err := g.ledger.Put(ctx, key, data); err != nil {
		g.logger.WarnContext(ctx, "side-effect ledger write failed",
			slog.String("order_id", order.ID),
			slog.String("step", string(g.inner.Step())),
			slog.String("error", err.Error()),
		)
	}
	return data, nil
}

func (g *Guarded) Compensate(ctx context.Context, order *domain.Order, prior domain.StepRecord) error {
	return g.inner.Compensate(ctx, order, prior)
}
