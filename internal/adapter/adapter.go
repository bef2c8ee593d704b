// Package adapter holds the downstream service adapters the saga executes
// against: inventory, payment, shipping and notification. Each adapter owns
// one forward step and its compensating action.
package adapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

// Adapter executes one forward saga step against a downstream service.
//
// Execute returns the downstream response body; the orchestrator persists it
// on the step record so Compensate can reference downstream identifiers
// (reservation id, charge id) later. Failures are classified through the
// error taxonomy: transient errors are retried, permanent errors trigger
// compensation.
//
// Compensate undoes a previously completed step and must be idempotent:
// replication conflicts and redelivered compensation commands can invoke it
// more than once for the same step record.
type Adapter interface {
	Step() domain.Step
	Execute(ctx context.Context, order *domain.Order) (json.RawMessage, error)
	Compensate(ctx context.Context, order *domain.Order, prior domain.StepRecord) error
}

// Registry maps saga steps to their adapters.
type Registry struct {
	adapters map[domain.Step]Adapter
}

// NewRegistry builds a registry from the given adapters. Registering two
// adapters for the same step is a wiring bug and panics at startup.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Step]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, dup := r.adapters[a.Step()]; dup {
			panic(fmt.Sprintf("duplicate adapter for step %s", a.Step()))
		}
		r.adapters[a.Step()] = a
	}
	return r
}

// Get returns the adapter for step.
func (r *Registry) Get(step domain.Step) (Adapter, error) {
	a, ok := r.adapters[step]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for step %s", step)
	}
	return a, nil
}

// IdempotencyKey derives the key sent to downstream services for a forward
// call. It is stable across retries, regions and process restarts, which is
// what lets downstreams deduplicate replayed requests.
func IdempotencyKey(orderID string, step domain.Step) string {
	return orderID + ":" + string(step)
}

// CompensationKey derives the idempotency key for undoing one recorded side
// effect. It is distinct from the forward key so an undo is never deduplicated
// against the action it undoes, and it hashes the effect's downstream response
// so releasing an orphaned duplicate (same order, same step, different
// charge or reservation) never collides with undoing the surviving effect.
func CompensationKey(orderID string, step domain.Step, effect json.RawMessage) string {
	sum := sha256.Sum256(effect)
	return fmt.Sprintf("%s:%s:undo:%s", orderID, step, hex.EncodeToString(sum[:8]))
}
