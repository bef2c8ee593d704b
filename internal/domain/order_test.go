package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems() []OrderItem {
	return []OrderItem{
		{SKU: "item1", Quantity: 2, UnitPrice: 1500},
		{SKU: "item2", Quantity: 1, UnitPrice: 2999},
	}
}

func TestNewOrder_InitialState(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder("use1-000001", "c1", "us-east-1", testItems(), now)

	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, int64(2*1500+2999), o.TotalAmount)
	assert.Equal(t, StepReserveInventory, o.Saga.CurrentStep)
	assert.Empty(t, o.Saga.CompletedSteps)
	assert.Equal(t, "us-east-1", o.OriginRegion)
}

func TestStepOrdering(t *testing.T) {
	assert.Equal(t, 0, StepReserveInventory.Index())
	assert.Equal(t, 1, StepChargePayment.Index())
	assert.Equal(t, 2, StepArrangeShipping.Index())
	assert.Equal(t, 3, StepNotifyCustomer.Index())
	assert.Equal(t, -1, Step("unknown").Index())

	next, ok := StepReserveInventory.Next()
	require.True(t, ok)
	assert.Equal(t, StepChargePayment, next)

	_, ok = StepNotifyCustomer.Next()
	assert.False(t, ok)
}

func TestSagaState_CompleteAdvances(t *testing.T) {
	s := NewSagaState()

	done := s.Complete(StepRecord{Step: StepReserveInventory, ExecutedAt: time.Now()})
	assert.False(t, done)
	assert.Equal(t, StepChargePayment, s.CurrentStep)
	assert.True(t, s.Completed(StepReserveInventory))
	assert.False(t, s.Completed(StepChargePayment))

	s.Complete(StepRecord{Step: StepChargePayment})
	s.Complete(StepRecord{Step: StepArrangeShipping})
	done = s.Complete(StepRecord{Step: StepNotifyCustomer})
	assert.True(t, done)
	assert.Len(t, s.CompletedSteps, 4)
}

func TestSagaState_PendingCompensationsLIFO(t *testing.T) {
	s := NewSagaState()
	s.Complete(StepRecord{Step: StepReserveInventory})
	s.Complete(StepRecord{Step: StepChargePayment})

	pending := s.PendingCompensations()
	require.Len(t, pending, 2)
	assert.Equal(t, StepChargePayment, pending[0].Step)
	assert.Equal(t, StepReserveInventory, pending[1].Step)

	s.MarkCompensated(StepChargePayment, time.Now().UTC())
	pending = s.PendingCompensations()
	require.Len(t, pending, 1)
	assert.Equal(t, StepReserveInventory, pending[0].Step)
}

func TestSagaState_MarkCompensatedIdempotent(t *testing.T) {
	s := NewSagaState()
	s.Complete(StepRecord{Step: StepReserveInventory})

	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.MarkCompensated(StepReserveInventory, first)
	s.MarkCompensated(StepReserveInventory, first.Add(time.Hour))

	rec := s.Record(StepReserveInventory)
	require.NotNil(t, rec)
	assert.True(t, rec.Compensated)
	assert.Equal(t, first, *rec.CompensatedAt)
}

func TestOrder_CanCancel(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder("use1-000002", "c1", "us-east-1", testItems(), now)
	assert.True(t, o.CanCancel())

	o.Saga.Complete(StepRecord{Step: StepReserveInventory})
	assert.True(t, o.CanCancel())

	o.Saga.Complete(StepRecord{Step: StepChargePayment})
	assert.False(t, o.CanCancel(), "cancellation after charge must become a compensation trigger")

	o.Status = StatusCompleted
	assert.False(t, o.CanCancel())
}

func TestOrder_Lease(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder("use1-000003", "c1", "us-east-1", testItems(), now)

	assert.True(t, o.LeaseAvailable(now))

	o.LeaseOwner = "worker-a"
	o.LeaseExpires = now.Add(time.Minute)
	assert.True(t, o.LeaseHeldBy("worker-a", now))
	assert.False(t, o.LeaseHeldBy("worker-b", now))
	assert.False(t, o.LeaseAvailable(now))

	// Expired lease frees the order for another worker.
	assert.True(t, o.LeaseAvailable(now.Add(2*time.Minute)))
	assert.False(t, o.LeaseHeldBy("worker-a", now.Add(2*time.Minute)))
}

func TestOrder_ProgressRank(t *testing.T) {
	now := time.Now().UTC()
	a := NewOrder("use1-000004", "c1", "us-east-1", testItems(), now)
	b := NewOrder("use1-000004", "c1", "eu-west-1", testItems(), now)

	b.Saga.Complete(StepRecord{Step: StepReserveInventory})
	assert.Greater(t, b.ProgressRank(), a.ProgressRank())

	a.Saga.Complete(StepRecord{Step: StepReserveInventory})
	a.Saga.Complete(StepRecord{Step: StepChargePayment})
	assert.Greater(t, a.ProgressRank(), b.ProgressRank())

	// Completed outranks everything in flight.
	b.Status = StatusCompleted
	assert.Greater(t, b.ProgressRank(), a.ProgressRank())
}

func TestOrder_TerminalStatuses(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder("use1-000005", "c1", "us-east-1", testItems(), now)

	for _, status := range []string{StatusCompleted, StatusFailed, StatusFailedNeedsOperator} {
		o.Status = status
		assert.True(t, o.IsTerminal(), status)
	}
	for _, status := range []string{StatusCreated, StatusChargingPayment, StatusCompensating} {
		o.Status = status
		assert.False(t, o.IsTerminal(), status)
	}
}

func TestOrder_CloneIsDeep(t *testing.T) {
	now := time.Now().UTC()
	o := NewOrder("use1-000006", "c1", "us-east-1", testItems(), now)
	o.Saga.Complete(StepRecord{Step: StepReserveInventory, Data: []byte(`{"reservation_id":"r1"}`)})

	cp := o.Clone()
	cp.Items[0].Quantity = 99
	cp.Saga.CompletedSteps[0].Data[2] = 'X'
	cp.Saga.MarkCompensated(StepReserveInventory, now)

	assert.Equal(t, 2, o.Items[0].Quantity)
	assert.Equal(t, `{"reservation_id":"r1"}`, string(o.Saga.CompletedSteps[0].Data))
	assert.False(t, o.Saga.CompletedSteps[0].Compensated)
}

func TestIsValidStatus(t *testing.T) {
	for _, s := range ValidStatuses() {
		assert.True(t, IsValidStatus(s))
	}
	assert.False(t, IsValidStatus("shipped"))
}
