package compensation_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/adapter"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/compensation"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/event"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/saga"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/store"
	apperrors "github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/errors"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// orderedAdapter appends to a shared log so tests can assert unwind order.
type orderedAdapter struct {
	step    domain.Step
	log     *[]domain.Step
	compErr error
}

func (o *orderedAdapter) Step() domain.Step { return o.step }

func (o *orderedAdapter) Execute(context.Context, *domain.Order) (json.RawMessage, error) {
	return nil, nil
}

func (o *orderedAdapter) Compensate(context.Context, *domain.Order, domain.StepRecord) error {
	*o.log = append(*o.log, o.step)
	return o.compErr
}

type captureDLQ struct {
	events []*kafka.Event
}

func (c *captureDLQ) PublishEvent(_ context.Context, _ string, evt *kafka.Event) error {
	c.events = append(c.events, evt)
	return nil
}

func immediate(maxAttempts int) saga.RetryPolicy {
	return saga.RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond,
		Jitter:      func(time.Duration) time.Duration { return 0 },
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

// compensatingOrder builds an order that failed at arrange_shipping with
// inventory and payment already completed, persisted in the store.
func compensatingOrder(t *testing.T, st *store.MemoryStore) *domain.Order {
	t.Helper()
	order := domain.NewOrder("use1-000200", "cust-001", "us-east-1", []domain.OrderItem{
		{SKU: "WDG-001", Quantity: 1, UnitPrice: 9900},
	}, time.Now().UTC())
	order.Saga.Complete(domain.StepRecord{Step: domain.StepReserveInventory, Data: json.RawMessage(`{"reservation_id":"res-1"}`), Attempts: 1, ExecutedAt: order.CreatedAt})
	order.Saga.Complete(domain.StepRecord{Step: domain.StepChargePayment, Data: json.RawMessage(`{"charge_id":"ch-1"}`), Attempts: 1, ExecutedAt: order.CreatedAt})
	order.Status = domain.StatusCompensating
	order.FailureReason = "arrange_shipping: destination unserviceable"

	stored, created, err := st.Create(context.Background(), order)
	require.NoError(t, err)
	require.True(t, created)
	return stored
}

func newManager(st *store.MemoryStore, registry *adapter.Registry, sink *event.LocalSink, dlq *captureDLQ, attempts int) *compensation.Manager {
	return compensation.NewManager(st, registry, event.NewProducer(sink, "us-east-1"), dlq, immediate(attempts), "us-east-1", 60*time.Second, discardLogger())
}

func TestManager_Run_UnwindsNewestFirst(t *testing.T) {
	st := store.NewMemoryStore("us-east-1")
	sink := event.NewLocalSink()
	var log []domain.Step
	registry := adapter.NewRegistry(
		&orderedAdapter{step: domain.StepReserveInventory, log: &log},
		&orderedAdapter{step: domain.StepChargePayment, log: &log},
	)
	m := newManager(st, registry, sink, &captureDLQ{}, 3)
	order := compensatingOrder(t, st)

	final, err := m.Run(context.Background(), order)
	require.NoError(t, err)

	assert.Equal(t, []domain.Step{domain.StepChargePayment, domain.StepReserveInventory}, log)
	assert.Equal(t, domain.StatusFailed, final.Status)

	for _, rec := range final.Saga.CompletedSteps {
		assert.True(t, rec.Compensated, "step %s must be marked compensated", rec.Step)
		assert.NotNil(t, rec.CompensatedAt)
	}

	failed := sink.EventsOn(event.TopicOrderFailed)
	require.NotEmpty(t, failed)
	assert.Equal(t, order.ID, failed[0].OrderID)
}

func TestManager_Run_AlreadyCompensatedStepsSkipped(t *testing.T) {
	st := store.NewMemoryStore("us-east-1")
	var log []domain.Step
	registry := adapter.NewRegistry(
		&orderedAdapter{step: domain.StepReserveInventory, log: &log},
		&orderedAdapter{step: domain.StepChargePayment, log: &log},
	)
	m := newManager(st, registry, event.NewLocalSink(), &captureDLQ{}, 3)

	order := compensatingOrder(t, st)
	order.Saga.MarkCompensated(domain.StepChargePayment, time.Now().UTC())
	updated, err := st.Update(context.Background(), order, order.Version)
	require.NoError(t, err)

	_, err = m.Run(context.Background(), updated)
	require.NoError(t, err)

	// The refund already happened on a previous run; only inventory remains.
	assert.Equal(t, []domain.Step{domain.StepReserveInventory}, log)
}

func TestManager_Run_ExhaustionDeadLettersAndEscalates(t *testing.T) {
	st := store.NewMemoryStore("us-east-1")
	var log []domain.Step
	registry := adapter.NewRegistry(
		&orderedAdapter{step: domain.StepReserveInventory, log: &log},
		&orderedAdapter{step: domain.StepChargePayment, log: &log, compErr: apperrors.Transient("refund api down")},
	)
	dlq := &captureDLQ{}
	m := newManager(st, registry, event.NewLocalSink(), dlq, 2)
	order := compensatingOrder(t, st)

	final, err := m.Run(context.Background(), order)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCompensationExhausted)

	assert.Equal(t, domain.StatusFailedNeedsOperator, final.Status)
	// Payment retried to exhaustion, inventory never reached.
	assert.Equal(t, []domain.Step{domain.StepChargePayment, domain.StepChargePayment}, log)

	require.Len(t, dlq.events, 1)
	assert.Equal(t, event.TypeCompensationExhausted, dlq.events[0].Type)
	assert.Equal(t, order.ID, dlq.events[0].OrderID)
}

func TestManager_Run_PermanentCompensationFailureEscalatesImmediately(t *testing.T) {
	st := store.NewMemoryStore("us-east-1")
	var log []domain.Step
	registry := adapter.NewRegistry(
		&orderedAdapter{step: domain.StepReserveInventory, log: &log},
		&orderedAdapter{step: domain.StepChargePayment, log: &log, compErr: apperrors.Permanent("charge already disputed")},
	)
	dlq := &captureDLQ{}
	m := newManager(st, registry, event.NewLocalSink(), dlq, 5)
	order := compensatingOrder(t, st)

	final, err := m.Run(context.Background(), order)
	require.Error(t, err)

	assert.Equal(t, domain.StatusFailedNeedsOperator, final.Status)
	assert.Equal(t, []domain.Step{domain.StepChargePayment}, log, "permanent failure must not retry")
	assert.Len(t, dlq.events, 1)
}

func TestManager_Run_NothingToCompensate(t *testing.T) {
	st := store.NewMemoryStore("us-east-1")
	m := newManager(st, adapter.NewRegistry(), event.NewLocalSink(), &captureDLQ{}, 3)

	order := domain.NewOrder("use1-000201", "cust-001", "us-east-1", nil, time.Now().UTC())
	order.Status = domain.StatusCompensating
	order.FailureReason = "reserve_inventory: sku discontinued"
	stored, _, err := st.Create(context.Background(), order)
	require.NoError(t, err)

	final, err := m.Run(context.Background(), stored)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, final.Status)
}
