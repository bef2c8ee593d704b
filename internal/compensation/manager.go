// Package compensation unwinds failed sagas: completed steps are undone in
// reverse order, each with its own retry budget, and an order whose undo
// cannot complete is dead-lettered for an operator.
package compensation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/adapter"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/event"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/saga"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"
)

var (
	compensationsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_compensations_executed_total",
			Help: "Compensating actions executed per step",
		},
		[]string{"step"},
	)

	operatorEscalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_operator_escalations_total",
			Help: "Orders dead-lettered after compensation exhausted its retries",
		},
	)
)

// DeadLetterer publishes operator dead letters. Satisfied by kafka.DLQProducer.
type DeadLetterer interface {
	PublishEvent(ctx context.Context, topic string, evt *kafka.Event) error
}

// deadLetterPayload is the envelope body for operator escalations.
type deadLetterPayload struct {
	Step          domain.Step `json:"step"`
	FailureReason string      `json:"failure_reason"`
	Status        string      `json:"status"`
}

// Manager implements the saga Compensator. It runs with the order lease
// already held by the calling orchestrator and renews it on every persisted
// step.
type Manager struct {
	store      store.OrderStore
	registry   *adapter.Registry
	producer   *event.Producer
	deadLetter DeadLetterer
	policy     saga.RetryPolicy
	region     string
	leaseTTL   time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func NewManager(st store.OrderStore, registry *adapter.Registry, producer *event.Producer, deadLetter DeadLetterer, policy saga.RetryPolicy, region string, leaseTTL time.Duration, log *slog.Logger) *Manager {
	if leaseTTL <= 0 {
		leaseTTL = 60 * time.Second
	}
	return &Manager{
		store:      st,
		registry:   registry,
		producer:   producer,
		deadLetter: deadLetter,
		policy:     policy,
		region:     region,
		leaseTTL:   leaseTTL,
		logger:     log,
		now:        time.Now,
	}
}

// Run undoes the order's completed steps newest-first. Each successful undo
// is persisted before the next starts, so a crash resumes exactly where the
// unwind stopped. The returned order is the final persisted state.
func (m *Manager) Run(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	cur := order
	log := m.logger.With(slog.String("order_id", cur.ID))

	for _, rec := range cur.Saga.PendingCompensations() {
		ad, err := m.registry.Get(rec.Step)
		if err != nil {
			return cur, fmt.Errorf("compensate order %s: %w", cur.ID, err)
		}

		compErr := m.policy.Do(ctx, func(ctx context.Context) error {
			return ad.Compensate(ctx, cur, rec)
		})
		if compErr != nil {
			return m.escalate(ctx, cur, rec, compErr)
		}
		compensationsExecuted.WithLabelValues(string(rec.Step)).Inc()
		log.InfoContext(ctx, "step compensated", slog.String("step", string(rec.Step)))

		cur.Saga.MarkCompensated(rec.Step, m.now().UTC())
		cur.LeaseExpires = m.now().Add(m.leaseTTL)
		cur, err = m.store.Update(ctx, cur, cur.Version)
		if err != nil {
			return cur, fmt.Errorf("persist compensated step %s: %w", rec.Step, err)
		}
	}

	cur.Status = domain.StatusFailed
	final, err := m.store.Update(ctx, cur, cur.Version)
	if err != nil {
		return cur, fmt.Errorf("persist failed order: %w", err)
	}

	if err := m.producer.OrderFailed(ctx, final); err != nil {
		log.WarnContext(ctx, "failure event publish failed", slog.String("error", err.Error()))
	}
	log.InfoContext(ctx, "order compensated", slog.String("reason", final.FailureReason))
	return final, nil
}

// escalate marks the order for operator handling and publishes a dead letter
// with everything an operator needs to finish the unwind by hand.
func (m *Manager) escalate(ctx context.Context, order *domain.Order, rec domain.StepRecord, cause error) (*domain.Order, error) {
	operatorEscalations.Inc()

	order.Status = domain.StatusFailedNeedsOperator
	order.FailureReason = fmt.Sprintf("compensation of %s failed: %v (original failure: %s)", rec.Step, cause, order.FailureReason)

	final, err := m.store.Update(ctx, order, order.Version)
	if err != nil {
		return order, fmt.Errorf("persist operator escalation: %w", err)
	}

	evt, err := kafka.NewEvent(
		event.TypeCompensationExhausted, final.ID,
		"compensate:"+string(rec.Step), "exhausted",
		m.region, "fulfillment-core", final.Version,
		deadLetterPayload{Step: rec.Step, FailureReason: final.FailureReason, Status: final.Status},
	)
	if err != nil {
		return final, fmt.Errorf("build dead-letter event: %w", err)
	}
	if err := m.deadLetter.PublishEvent(ctx, event.TopicCompensationTriggered, evt); err != nil {
		// The record already says needs_operator; the dead letter is the
		// notification channel, not the source of truth.
		m.logger.ErrorContext(ctx, "dead-letter publish failed",
			slog.String("order_id", final.ID),
			slog.String("error", err.Error()),
		)
	}

	m.logger.ErrorContext(ctx, "compensation exhausted, operator required",
		slog.String("order_id", final.ID),
		slog.String("step", string(rec.Step)),
		slog.String("error", cause.Error()),
	)
	return final, fmt.Errorf("%w: step %s", apperrors.ErrCompensationExhausted, rec.Step)
}
