// Package postgres implements the order store on PostgreSQL. All writes are
// version-checked conditional writes so concurrent workers and the replication
// stream can race safely without locks.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/database"
	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
)

// applyRetries bounds the read-resolve-write loop in ApplyReplicated. Each
// retry means a local writer committed between our read and our conditional
// write, so the merge is recomputed against the fresher record.
const applyRetries = 3

const orderColumns = `id, customer_id, items, total_amount, status, origin_region,
	version, saga, lease_owner, lease_expires_at, failure_reason, created_at, updated_at`

// Store persists order records in PostgreSQL.
type Store struct {
	pool     database.DBTX
	region   string
	resolver store.ConflictResolver
}

// New creates a PostgreSQL-backed order store. region is the deployment's
// home region, used to break replication merge ties.
func New(pool database.DBTX, region string) *Store {
	return &Store{pool: pool, region: region, resolver: store.DefaultResolver{}}
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)
	order, err := scanOrder(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// Create inserts the order if no record with the same id exists. When a
// concurrent or earlier submission already created the record, the existing
// order is returned with created=false and the candidate is discarded.
func (s *Store) Create(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	items, saga, err := marshalOrder(order)
	if err != nil {
		return nil, false, err
	}

	query := `
		INSERT INTO orders (id, customer_id, items, total_amount, status, origin_region,
			version, saga, lease_owner, lease_expires_at, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		order.ID, order.CustomerID, items, order.TotalAmount, order.Status,
		order.OriginRegion, order.Version, saga, order.LeaseOwner,
		nullableTime(order.LeaseExpires), order.FailureReason, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, err := s.Get(ctx, order.ID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	return order.Clone(), true, nil
}

// Update commits the order with a conditional write against expectedVersion
// and bumps the stored version to expectedVersion+1. A row that has moved on
// yields ErrVersionConflict; the caller re-reads and reconsiders.
func (s *Store) Update(ctx context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error) {
	updated := order.Clone()
	updated.Version = expectedVersion + 1
	updated.UpdatedAt = time.Now().UTC()

	if err := s.writeVersioned(ctx, updated, expectedVersion); err != nil {
		return nil, err
	}
	return updated, nil
}

// writeVersioned performs the single conditional UPDATE every mutation in the
// system funnels through. The WHERE version clause is the only concurrency
// control the store has.
func (s *Store) writeVersioned(ctx context.Context, order *domain.Order, expectedVersion int64) error {
	items, saga, err := marshalOrder(order)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders
		SET customer_id = $3, items = $4, total_amount = $5, status = $6,
			version = $7, saga = $8, lease_owner = $9, lease_expires_at = $10,
			failure_reason = $11, updated_at = $12
		WHERE id = $1 AND version = $2`

	tag, err := s.pool.Exec(ctx, query,
		order.ID, expectedVersion,
		order.CustomerID, items, order.TotalAmount, order.Status,
		order.Version, saga, order.LeaseOwner, nullableTime(order.LeaseExpires),
		order.FailureReason, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return apperrors.NotFound("order", order.ID)
		}
		return apperrors.ErrVersionConflict
	}
	return nil
}

// ListRunnable returns non-terminal orders whose lease is free or expired,
// oldest first, so stalled sagas are picked up before fresh ones.
func (s *Store) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE status NOT IN ('completed', 'failed', 'failed_needs_operator')
		  AND (lease_owner = '' OR lease_expires_at IS NULL OR lease_expires_at <= $1)
		ORDER BY created_at ASC, id ASC
		LIMIT $2`, orderColumns)

	rows, err := s.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list runnable orders: %w", err)
	}
	defer rows.Close()

	return collectOrders(rows)
}

func (s *Store) ListByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*domain.Order, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, orderColumns)

	rows, err := s.pool.Query(ctx, query, customerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := collectOrders(rows)
	if err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// ApplyReplicated merges a record from a peer region into the local store.
// The merge is recomputed on every attempt so a local write that lands
// between our read and our conditional write never gets clobbered.
func (s *Store) ApplyReplicated(ctx context.Context, remote *domain.Order, remoteRegion string) (*store.MergeResult, error) {
	for attempt := 0; attempt < applyRetries; attempt++ {
		local, err := s.Get(ctx, remote.ID)
		if err != nil {
			if !errors.Is(err, apperrors.ErrNotFound) {
				return nil, err
			}
			inserted, created, err := s.Create(ctx, remote)
			if err != nil {
				return nil, err
			}
			if created {
				return &store.MergeResult{Merged: inserted, Changed: true}, nil
			}
			// Lost the insert race; merge against the winner.
			continue
		}

		res := s.resolver.Resolve(local, remote, s.region, remoteRegion)
		if !res.RemoteWon && res.Winner.Version == local.Version {
			return &store.MergeResult{Merged: res.Winner, Changed: false, Orphaned: res.Orphaned}, nil
		}

		merged := res.Winner.Clone()
		merged.UpdatedAt = time.Now().UTC()
		err = s.writeVersioned(ctx, merged, local.Version)
		if err == nil {
			return &store.MergeResult{Merged: merged, Changed: true, Orphaned: res.Orphaned}, nil
		}
		if !errors.Is(err, apperrors.ErrVersionConflict) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("apply replicated order %s: %w", remote.ID, apperrors.ErrVersionConflict)
}

func marshalOrder(order *domain.Order) (items, saga []byte, err error) {
	items, err = json.Marshal(order.Items)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal items: %w", err)
	}
	saga, err = json.Marshal(order.Saga)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal saga state: %w", err)
	}
	return items, saga, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		order        domain.Order
		items        []byte
		saga         []byte
		leaseExpires *time.Time
	)
	err := row.Scan(
		&order.ID, &order.CustomerID, &items, &order.TotalAmount, &order.Status,
		&order.OriginRegion, &order.Version, &saga, &order.LeaseOwner,
		&leaseExpires, &order.FailureReason, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if leaseExpires != nil {
		order.LeaseExpires = *leaseExpires
	}
	if err := json.Unmarshal(items, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	if err := json.Unmarshal(saga, &order.Saga); err != nil {
		return nil, fmt.Errorf("unmarshal saga state: %w", err)
	}
	return &order, nil
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
