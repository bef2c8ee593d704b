package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"
)

func testOrder() *domain.Order {
	return domain.NewOrder("use1-000001", "cust-1", "us-east-1", []domain.OrderItem{
		{SKU: "sku-1", Quantity: 2, UnitPrice: 1500},
	}, time.Now().UTC())
}

func TestProducer_OrderCreated(t *testing.T) {
	sink := NewLocalSink()
	p := NewProducer(sink, "us-east-1")

	order := testOrder()
	require.NoError(t, p.OrderCreated(context.Background(), order))

	events := sink.EventsOn(TopicOrderCreated)
	require.Len(t, events, 1)
	assert.Equal(t, TypeOrderCreated, events[0].Type)
	assert.Equal(t, order.ID, events[0].OrderID)
	assert.Equal(t, "us-east-1", events[0].ProducedAtRegion)

	var payload OrderCreatedPayload
	require.NoError(t, events[0].UnmarshalPayload(&payload))
	assert.Equal(t, "cust-1", payload.CustomerID)
	assert.Equal(t, int64(3000), payload.TotalAmount)
}

func TestProducer_OrderCreated_DeterministicID(t *testing.T) {
	sink := NewLocalSink()
	order := testOrder()

	require.NoError(t, NewProducer(sink, "us-east-1").OrderCreated(context.Background(), order))
	require.NoError(t, NewProducer(sink, "eu-west-1").OrderCreated(context.Background(), order))

	events := sink.EventsOn(TopicOrderCreated)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].EventID, events[1].EventID, "re-publication of the same fact must reuse the event ID")
}

func TestProducer_StepCompleted_TopicRouting(t *testing.T) {
	sink := NewLocalSink()
	p := NewProducer(sink, "us-east-1")
	order := testOrder()
	ctx := context.Background()

	steps := []struct {
		step  domain.Step
		topic string
	}{
		{domain.StepReserveInventory, TopicInventoryReserved},
		{domain.StepChargePayment, TopicPaymentCharged},
		{domain.StepArrangeShipping, TopicShippingArranged},
		{domain.StepNotifyCustomer, TopicOrderCompleted},
	}

	for _, tc := range steps {
		rec := domain.StepRecord{Step: tc.step, Attempts: 1, ExecutedAt: time.Now().UTC()}
		require.NoError(t, p.StepCompleted(ctx, order, rec))
		require.Len(t, sink.EventsOn(tc.topic), 1, "step %s should land on %s", tc.step, tc.topic)
	}
}

func TestProducer_StepCompleted_UnknownStep(t *testing.T) {
	sink := NewLocalSink()
	p := NewProducer(sink, "us-east-1")

	err := p.StepCompleted(context.Background(), testOrder(), domain.StepRecord{Step: "bogus"})
	require.Error(t, err)
	assert.Empty(t, sink.Events())
}

func TestProducer_OrderFailed_CarriesReason(t *testing.T) {
	sink := NewLocalSink()
	p := NewProducer(sink, "us-east-1")

	order := testOrder()
	order.Status = domain.StatusFailed
	order.FailureReason = "payment: card declined"

	require.NoError(t, p.OrderFailed(context.Background(), order))

	events := sink.EventsOn(TopicOrderFailed)
	require.Len(t, events, 1)

	var payload TerminalPayload
	require.NoError(t, events[0].UnmarshalPayload(&payload))
	assert.Equal(t, domain.StatusFailed, payload.Status)
	assert.Equal(t, "payment: card declined", payload.FailureReason)
}

func TestProducer_RecordReplicated_PerVersionIDs(t *testing.T) {
	sink := NewLocalSink()
	p := NewProducer(sink, "us-east-1")
	ctx := context.Background()

	order := testOrder()
	require.NoError(t, p.RecordReplicated(ctx, order))

	order.Version = 2
	require.NoError(t, p.RecordReplicated(ctx, order))

	events := sink.EventsOn(RecordsTopic("us-east-1"))
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].EventID, events[1].EventID, "each version must be a distinct replication event")

	var replica domain.Order
	require.NoError(t, events[1].UnmarshalPayload(&replica))
	assert.Equal(t, order.ID, replica.ID)
	assert.Equal(t, int64(2), replica.Version)
}

func TestLocalSink_SubscribeFanout(t *testing.T) {
	sink := NewLocalSink()
	p := NewProducer(sink, "us-east-1")

	var seen []string
	sink.Subscribe(TopicOrderCreated, func(ctx context.Context, e *kafka.Event) error {
		seen = append(seen, e.OrderID)
		return nil
	})

	require.NoError(t, p.OrderCreated(context.Background(), testOrder()))
	assert.Equal(t, []string{"use1-000001"}, seen)
}

func TestRecordsTopic(t *testing.T) {
	assert.Equal(t, "fulfillment.records.us-east-1", RecordsTopic("us-east-1"))
	assert.Equal(t, "fulfillment.records.eu-west-1", RecordsTopic("eu-west-1"))
}
