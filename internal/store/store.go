package store

import (
	"context"
	"time"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

// OrderStore is the replicated order record store. All mutation goes through
// version-checked conditional writes; there is no other synchronization
// primitive in the system.
type OrderStore interface {
	// Get returns the current record for id, or pkg/errors.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Order, error)

	// Create inserts the order if absent. When a record with the same id
	// already exists, the existing record is returned with created=false and
	// no error; this is the idempotent-submission primitive.
	Create(ctx context.Context, order *domain.Order) (existing *domain.Order, created bool, err error)

	// Update writes the order only if the stored version still equals
	// expectedVersion, bumping Version to expectedVersion+1. A lost race
	// returns pkg/errors.ErrVersionConflict and writes nothing.
	Update(ctx context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error)

	// ListRunnable returns up to limit non-terminal orders whose lease is
	// free or expired at now, oldest first. The orchestrator's dispatcher
	// polls this.
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error)

	// ListByCustomer returns the customer's orders newest first, with the
	// total count for pagination.
	ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, int, error)

	// ApplyReplicated merges a record received from a peer region.
	// remoteRegion is the region that produced the record; together with the
	// store's own region it breaks equal-progress ties, so the merge is
	// deterministic and both replicas converge on the same winner regardless
	// of apply order. The returned MergeResult reports whether the local
	// record changed and which completed steps of the losing replica were
	// orphaned (duplicate side effects to release).
	ApplyReplicated(ctx context.Context, remote *domain.Order, remoteRegion string) (*MergeResult, error)
}

// MergeResult describes the outcome of applying a replicated record.
type MergeResult struct {
	// Merged is the post-merge local record.
	Merged *domain.Order
	// Changed is true when the merge modified the local record.
	Changed bool
	// Orphaned holds completed step records from the losing replica that the
	// winning replica does not carry with identical side-effect data. Each
	// represents a duplicated external effect needing an idempotent release.
	Orphaned []domain.StepRecord
}
