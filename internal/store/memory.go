package store

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

// MemoryStore is a mutex-guarded in-memory OrderStore. It backs tests and
// single-node deployments; the postgres implementation carries the same
// semantics for production.
type MemoryStore struct {
	mu       sync.RWMutex
	region   string
	orders   map[string]*domain.Order
	resolver ConflictResolver
}

// NewMemoryStore creates an empty in-memory store using the default resolver.
// region is this store's home region, used to break replication merge ties.
func NewMemoryStore(region string) *MemoryStore {
	return &MemoryStore{
		region:   region,
		orders:   make(map[string]*domain.Order),
		resolver: NewDefaultResolver(),
	}
}

// Get returns a copy of the record for id.
func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	return o.Clone(), nil
}

// Create inserts the order if absent, returning the existing record otherwise.
func (s *MemoryStore) Create(_ context.Context, order *domain.Order) (*domain.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[order.ID]; ok {
		return existing.Clone(), false, nil
	}

	s.orders[order.ID] = order.Clone()
	return order.Clone(), true, nil
}

// Update performs the version-checked conditional write.
func (s *MemoryStore) Update(_ context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return nil, apperrors.NotFound("order", order.ID)
	}
	if current.Version != expectedVersion {
		return nil, apperrors.ErrVersionConflict
	}

	next := order.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.orders[order.ID] = next
	return next.Clone(), nil
}

// ListRunnable returns non-terminal orders with a free or expired lease,
// oldest first.
func (s *MemoryStore) ListRunnable(_ context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if o.IsTerminal() {
			continue
		}
		if !o.LeaseAvailable(now) {
			continue
		}
		out = append(out, o.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByCustomer returns the customer's orders newest first plus the total count.
func (s *MemoryStore) ListByCustomer(_ context.Context, customerID string, limit, offset int) ([]*domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			all = append(all, o.Clone())
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

// ApplyReplicated merges a peer region's record into the local store.
func (s *MemoryStore) ApplyReplicated(_ context.Context, remote *domain.Order, remoteRegion string) (*MergeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local, ok := s.orders[remote.ID]
	if !ok {
		s.orders[remote.ID] = remote.Clone()
		return &MergeResult{Merged: remote.Clone(), Changed: true}, nil
	}

	res := s.resolver.Resolve(local, remote, s.region, remoteRegion)
	if !res.RemoteWon && res.Winner.Version == local.Version {
		// Local already carries the winning state; nothing to write.
		return &MergeResult{Merged: local.Clone(), Changed: false, Orphaned: res.Orphaned}, nil
	}

	s.orders[remote.ID] = res.Winner.Clone()
	return &MergeResult{
		Merged:   res.Winner.Clone(),
		Changed:  res.RemoteWon || res.Winner.Version != local.Version,
		Orphaned: res.Orphaned,
	}, nil
}
