package store

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/event"
)

var (
	replicaRecordsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_replica_records_applied_total",
			Help: "Replicated records applied, by whether the merge changed local state",
		},
		[]string{"source_region", "changed"},
	)

	orphanedStepsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_orphaned_steps_released_total",
			Help: "Duplicate side effects released after conflict resolution",
		},
		[]string{"step"},
	)
)

// Reconciler releases the duplicated external side effects that conflict
// resolution orphans. Implementations must be idempotent; the same orphan can
// surface on every redelivery of the losing record.
type Reconciler interface {
	ReleaseOrphans(ctx context.Context, order *domain.Order, orphans []domain.StepRecord) error
}

// ReplicatedStore decorates an OrderStore so every committed local write is
// published onto this region's replication stream. Records applied from peers
// are not republished, which keeps the streams one-directional and loop-free.
type ReplicatedStore struct {
	OrderStore
	producer *event.Producer
	logger   *slog.Logger
}

// NewReplicatedStore wraps inner with replication publishing.
func NewReplicatedStore(inner OrderStore, producer *event.Producer, logger *slog.Logger) *ReplicatedStore {
	return &ReplicatedStore{
		OrderStore: inner,
		producer:   producer,
		logger:     logger,
	}
}

// Create inserts and, when the insert won, publishes the new record.
func (s *ReplicatedStore) Create(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	existing, created, err := s.OrderStore.Create(ctx, order)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.publish(ctx, existing)
	}
	return existing, created, nil
}

// Update writes conditionally and publishes the committed version.
func (s *ReplicatedStore) Update(ctx context.Context, order *domain.Order, expectedVersion int64) (*domain.Order, error) {
	updated, err := s.OrderStore.Update(ctx, order, expectedVersion)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, updated)
	return updated, nil
}

// publish ships the committed record to the region stream. The bus is
// at-least-once and a missed version is repaired by any later version, so a
// publish failure is logged rather than failing the write.
func (s *ReplicatedStore) publish(ctx context.Context, order *domain.Order) {
	if err := s.producer.RecordReplicated(ctx, order); err != nil {
		s.logger.Error("failed to publish record to replication stream",
			slog.String("order_id", order.ID),
			slog.Int64("version", order.Version),
			slog.String("error", err.Error()),
		)
	}
}

// Replicator consumes a peer region's record stream and merges each record
// into the local store, releasing duplicated side effects via the reconciler.
type Replicator struct {
	store      OrderStore
	reconciler Reconciler
	logger     *slog.Logger
}

// NewReplicator creates a replicator. reconciler may be nil when no release
// path is wired (tests, read-only projections).
func NewReplicator(store OrderStore, reconciler Reconciler, logger *slog.Logger) *Replicator {
	return &Replicator{
		store:      store,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Handler returns the bus handler that applies replicated records. Wrap it in
// kafka.IdempotentHandler so exact redeliveries of one version are skipped;
// the merge itself also tolerates replays, so dedup is an optimization, not a
// correctness requirement.
func (r *Replicator) Handler() kafka.Handler {
	return func(ctx context.Context, evt *kafka.Event) error {
		var remote domain.Order
		if err := evt.UnmarshalPayload(&remote); err != nil {
			r.logger.Error("malformed replicated record",
				slog.String("order_id", evt.OrderID),
				slog.String("source_region", evt.ProducedAtRegion),
				slog.String("error", err.Error()),
			)
			// Malformed payloads cannot be retried into shape.
			return nil
		}

		res, err := r.store.ApplyReplicated(ctx, &remote, evt.ProducedAtRegion)
		if err != nil {
			return err
		}

		replicaRecordsApplied.WithLabelValues(evt.ProducedAtRegion, changedLabel(res.Changed)).Inc()
		if res.Changed {
			r.logger.Info("replicated record applied",
				slog.String("order_id", remote.ID),
				slog.String("source_region", evt.ProducedAtRegion),
				slog.Int64("version", res.Merged.Version),
				slog.String("status", res.Merged.Status),
			)
		}

		if len(res.Orphaned) > 0 && r.reconciler != nil {
			for _, rec := range res.Orphaned {
				orphanedStepsReleased.WithLabelValues(string(rec.Step)).Inc()
			}
			if err := r.reconciler.ReleaseOrphans(ctx, res.Merged, res.Orphaned); err != nil {
				return err
			}
		}

		return nil
	}
}

func changedLabel(changed bool) string {
	if changed {
		return "true"
	}
	return "false"
}

// NewPeerConsumer builds a Kafka consumer on a peer region's record stream.
// The group ID is scoped to the local region so each region tracks its own
// offset into every peer stream.
func NewPeerConsumer(brokers []string, localRegion, peerRegion string, handler kafka.Handler, logger *slog.Logger) *kafka.Consumer {
	return kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  "fulfillment-replicator-" + localRegion,
		Topic:    event.RecordsTopic(peerRegion),
		MinBytes: 1,
		MaxBytes: 10 << 20,
	}, handler, logger)
}
