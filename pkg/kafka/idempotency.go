package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdempotencyStore is the consumer-side seen-set keyed by (orderId, eventId).
// Implementations must be safe for concurrent use.
type IdempotencyStore interface {
	// Contains returns true if the dedup key has already been processed.
	Contains(ctx context.Context, key string) (bool, error)
	// Add marks a dedup key as processed. Called after successful handling.
	Add(ctx context.Context, key string) error
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore. Suitable for
// single-instance workers; entries expire after the configured TTL to bound
// memory usage.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewMemoryIdempotencyStore creates an in-memory idempotency store with the
// given TTL. Expired entries are lazily cleaned up on access.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Contains checks if the dedup key exists and is not expired.
func (s *MemoryIdempotencyStore) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	ts, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Since(ts) > s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// Add marks the dedup key as processed with the current timestamp.
func (s *MemoryIdempotencyStore) Add(_ context.Context, key string) error {
	s.mu.Lock()
	s.entries[key] = time.Now()
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries in the store (including potentially expired ones).
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// IdempotentHandler wraps a Handler with deduplication. The bus is
// at-least-once; if the event's dedup key has already been processed the
// message is skipped and nil is returned.
func IdempotentHandler(store IdempotencyStore, inner Handler, logger *slog.Logger) Handler {
	return func(ctx context.Context, event *Event) error {
		if event.EventID == "" {
			// No event ID, cannot deduplicate; pass through.
			return inner(ctx, event)
		}

		key := event.DedupKey()

		exists, err := store.Contains(ctx, key)
		if err != nil {
			logger.Warn("idempotency store lookup failed, processing anyway",
				slog.String("dedup_key", key),
				slog.String("error", err.Error()),
			)
			// On store failure, process the message rather than risk data loss.
			return inner(ctx, event)
		}

		if exists {
			logger.Debug("skipping duplicate event",
				slog.String("dedup_key", key),
				slog.String("type", event.Type),
			)
			MessagesDuplicate.WithLabelValues(event.Type, "").Inc()
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		// Mark as processed only after successful handling.
		if addErr := store.Add(ctx, key); addErr != nil {
			logger.Warn("failed to record dedup key in idempotency store",
				slog.String("dedup_key", key),
				slog.String("error", addErr.Error()),
			)
		}

		return nil
	}
}
