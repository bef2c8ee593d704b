package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/adapter"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/event"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/logger"
)

var (
	sagaSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_saga_steps_total",
			Help: "Forward saga step executions by final outcome",
		},
		[]string{"step", "outcome"},
	)

	sagaStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_saga_step_duration_seconds",
			Help:    "Duration of forward saga steps including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	ordersCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_orders_completed_total",
			Help: "Orders that reached the completed status",
		},
	)

	leaseConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fulfillment_lease_conflicts_total",
			Help: "Order lease acquisitions that lost to another worker",
		},
	)
)

// Compensator unwinds an order's completed steps. The orchestrator hands over
// with the lease held and receives the final persisted order back.
type Compensator interface {
	Run(ctx context.Context, order *domain.Order) (*domain.Order, error)
}

// Config holds orchestrator tuning.
type Config struct {
	// WorkerID identifies this process as a lease owner. Must be unique per
	// worker within the region.
	WorkerID string
	// LeaseTTL bounds how long an order stays claimed without a renewing
	// write. Every persisted step implicitly renews the lease.
	LeaseTTL time.Duration
	// StepTimeout caps a single downstream call. Expiry counts as a
	// transient failure and consumes one retry attempt.
	StepTimeout time.Duration
}

// Orchestrator advances a single order through its forward steps while
// holding the order lease, and hands failed orders to the compensator.
type Orchestrator struct {
	store    store.OrderStore
	registry *adapter.Registry
	producer *event.Producer
	comp     Compensator
	policy   RetryPolicy
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(st store.OrderStore, registry *adapter.Registry, producer *event.Producer, comp Compensator, policy RetryPolicy, cfg Config, log *slog.Logger) *Orchestrator {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 60 * time.Second
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 10 * time.Second
	}
	return &Orchestrator{
		store:    st,
		registry: registry,
		producer: producer,
		comp:     comp,
		policy:   policy,
		cfg:      cfg,
		logger:   log,
		now:      time.Now,
	}
}

// Process claims the order and drives its saga as far as it will go: to
// completion, into compensation, or until a transient budget or the lease is
// lost. Returns ErrLeaseHeld when another worker owns the order.
func (o *Orchestrator) Process(ctx context.Context, orderID string) error {
	order, err := o.store.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if order.IsTerminal() {
		return nil
	}

	ctx = logger.WithOrderID(ctx, order.ID)
	log := o.logger.With(slog.String("order_id", order.ID), slog.String("worker_id", o.cfg.WorkerID))

	cur, err := o.acquireLease(ctx, order)
	if err != nil {
		return err
	}
	defer func() { o.releaseLease(context.WithoutCancel(ctx), cur) }()

	if cur.IsCompensating() {
		final, err := o.comp.Run(ctx, cur)
		if final != nil {
			cur = final
		}
		return err
	}

	for !cur.IsTerminal() {
		step := cur.Saga.CurrentStep

		cur, err = o.enterStep(ctx, cur, step)
		if err != nil {
			return err
		}

		data, attempts, execErr := o.executeStep(ctx, cur, step)
		if execErr != nil {
			sagaSteps.WithLabelValues(string(step), "failure").Inc()
			log.WarnContext(ctx, "saga step failed, starting compensation",
				slog.String("step", string(step)),
				slog.Int("attempts", attempts),
				slog.String("error", execErr.Error()),
			)
			final, compErr := o.beginCompensation(ctx, cur, step, execErr)
			if final != nil {
				cur = final
			}
			return compErr
		}
		sagaSteps.WithLabelValues(string(step), "success").Inc()

		rec := domain.StepRecord{
			Step:       step,
			Data:       data,
			Attempts:   attempts,
			ExecutedAt: o.now().UTC(),
		}
		done := cur.Saga.Complete(rec)
		if done {
			cur.Status = domain.StatusCompleted
		}
		cur.LeaseExpires = o.now().Add(o.cfg.LeaseTTL)

		cur, err = o.store.Update(ctx, cur, cur.Version)
		if err != nil {
			return o.writeLost(ctx, log, step, err)
		}

		if err := o.producer.StepCompleted(ctx, cur, rec); err != nil {
			log.WarnContext(ctx, "step event publish failed", slog.String("error", err.Error()))
		}
		if done {
			ordersCompleted.Inc()
			if err := o.producer.OrderCompleted(ctx, cur); err != nil {
				log.WarnContext(ctx, "completion event publish failed", slog.String("error", err.Error()))
			}
			log.InfoContext(ctx, "order completed")
		}
	}
	return nil
}

// acquireLease claims the order with a conditional write. Losing the write
// means another worker claimed it first.
func (o *Orchestrator) acquireLease(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	now := o.now()
	if !order.LeaseAvailable(now) && !order.LeaseHeldBy(o.cfg.WorkerID, now) {
		leaseConflicts.Inc()
		return nil, apperrors.ErrLeaseHeld
	}

	order.LeaseOwner = o.cfg.WorkerID
	order.LeaseExpires = now.Add(o.cfg.LeaseTTL)

	claimed, err := o.store.Update(ctx, order, order.Version)
	if errors.Is(err, apperrors.ErrVersionConflict) {
		leaseConflicts.Inc()
		return nil, apperrors.ErrLeaseHeld
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease: %w", err)
	}
	return claimed, nil
}

// releaseLease clears the lease fields if this worker still owns them. A
// version conflict here means someone else already moved the record on; the
// lease either expired or was superseded, so there is nothing to clean up.
func (o *Orchestrator) releaseLease(ctx context.Context, order *domain.Order) {
	if order == nil || order.LeaseOwner != o.cfg.WorkerID {
		return
	}
	order.LeaseOwner = ""
	order.LeaseExpires = time.Time{}
	if _, err := o.store.Update(ctx, order, order.Version); err != nil && !errors.Is(err, apperrors.ErrVersionConflict) {
		o.logger.WarnContext(ctx, "lease release failed",
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// enterStep persists the in-flight status for the step and renews the lease.
func (o *Orchestrator) enterStep(ctx context.Context, order *domain.Order, step domain.Step) (*domain.Order, error) {
	status := domain.StatusForStep(step)
	if order.Status == status {
		return order, nil
	}
	order.Status = status
	order.LeaseExpires = o.now().Add(o.cfg.LeaseTTL)

	updated, err := o.store.Update(ctx, order, order.Version)
	if err != nil {
		return nil, o.writeLost(ctx, o.logger, step, err)
	}
	return updated, nil
}

// executeStep runs the step's adapter under the retry policy with a per-call
// deadline. A deadline expiry is a transient failure like any other.
func (o *Orchestrator) executeStep(ctx context.Context, order *domain.Order, step domain.Step) (json.RawMessage, int, error) {
	ad, err := o.registry.Get(step)
	if err != nil {
		return nil, 0, err
	}

	start := o.now()
	var data json.RawMessage
	attempts := 0
	execErr := o.policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()

		d, err := ad.Execute(callCtx, order)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return apperrors.TransientWrap(err, string(step)+" call deadline exceeded")
			}
			return err
		}
		data = d
		return nil
	})
	sagaStepDuration.WithLabelValues(string(step)).Observe(o.now().Sub(start).Seconds())
	return data, attempts, execErr
}

// beginCompensation records the failure, flips the order into compensating
// and hands it to the compensator.
func (o *Orchestrator) beginCompensation(ctx context.Context, order *domain.Order, step domain.Step, cause error) (*domain.Order, error) {
	order.Status = domain.StatusCompensating
	order.FailureReason = fmt.Sprintf("%s: %v", step, cause)
	order.LeaseExpires = o.now().Add(o.cfg.LeaseTTL)

	updated, err := o.store.Update(ctx, order, order.Version)
	if err != nil {
		return order, o.writeLost(ctx, o.logger, step, err)
	}

	if err := o.producer.CompensationTriggered(ctx, updated, updated.FailureReason); err != nil {
		o.logger.WarnContext(ctx, "compensation event publish failed",
			slog.String("order_id", updated.ID),
			slog.String("error", err.Error()),
		)
	}

	return o.comp.Run(ctx, updated)
}

// writeLost reports a conditional write that lost its race. A replication
// merge or a competing worker moved the record; this run stops and the next
// poll re-reads the truth.
func (o *Orchestrator) writeLost(ctx context.Context, log *slog.Logger, step domain.Step, err error) error {
	if errors.Is(err, apperrors.ErrVersionConflict) {
		log.WarnContext(ctx, "conditional write lost, yielding order",
			slog.String("step", string(step)),
		)
		return apperrors.ErrVersionConflict
	}
	return fmt.Errorf("persist order at step %s: %w", step, err)
}
