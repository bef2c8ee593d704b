package event

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"

	"github.com/Simodalstix/AWS-multiregion-ecommerce/internal/domain"
)

// Publisher is the transport half of the bus. kafka.Producer implements it
// for production; LocalSink implements it for tests and single-node runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *kafka.Event) error
}

// sourceName identifies this service in event envelopes.
const sourceName = "fulfillment-core"

// OrderCreatedPayload is the body of an order.created event.
type OrderCreatedPayload struct {
	CustomerID   string `json:"customer_id"`
	TotalAmount  int64  `json:"total_amount"`
	ItemCount    int    `json:"item_count"`
	OriginRegion string `json:"origin_region"`
}

// StepPayload is the body of a step-completion event.
type StepPayload struct {
	Step     domain.Step     `json:"step"`
	Outcome  domain.Outcome  `json:"outcome"`
	Attempts int             `json:"attempts"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// TerminalPayload is the body of order.completed and order.failed events.
type TerminalPayload struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CompensationPayload is the body of a compensation.triggered event.
type CompensationPayload struct {
	Reason      string      `json:"reason"`
	FromStep    domain.Step `json:"from_step"`
	StepsToUndo int         `json:"steps_to_undo"`
}

// Producer publishes typed fulfillment events for the local region.
type Producer struct {
	pub    Publisher
	region string
}

// NewProducer creates a typed producer stamping events with the given region.
func NewProducer(pub Publisher, region string) *Producer {
	return &Producer{pub: pub, region: region}
}

// stepTopic maps a completed step to its announcement topic.
func stepTopic(step domain.Step) (topic, eventType string, ok bool) {
	switch step {
	case domain.StepReserveInventory:
		return TopicInventoryReserved, TypeInventoryReserved, true
	case domain.StepChargePayment:
		return TopicPaymentCharged, TypePaymentCharged, true
	case domain.StepArrangeShipping:
		return TopicShippingArranged, TypeShippingArranged, true
	case domain.StepNotifyCustomer:
		return TopicOrderCompleted, TypeOrderCompleted, true
	default:
		return "", "", false
	}
}

// OrderCreated announces a newly accepted order. The event ID is derived from
// the order ID alone, so a re-submission with the same idempotency key can
// never produce a second distinguishable event.
func (p *Producer) OrderCreated(ctx context.Context, order *domain.Order) error {
	evt, err := kafka.NewEvent(TypeOrderCreated, order.ID, "submit", string(domain.OutcomeSuccess), p.region, sourceName, order.Version, OrderCreatedPayload{
		CustomerID:   order.CustomerID,
		TotalAmount:  order.TotalAmount,
		ItemCount:    len(order.Items),
		OriginRegion: order.OriginRegion,
	})
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, TopicOrderCreated, evt)
}

// StepCompleted announces a successful forward step.
func (p *Producer) StepCompleted(ctx context.Context, order *domain.Order, rec domain.StepRecord) error {
	topic, eventType, ok := stepTopic(rec.Step)
	if !ok {
		return fmt.Errorf("no topic for step %q", rec.Step)
	}

	evt, err := kafka.NewEvent(eventType, order.ID, string(rec.Step), string(domain.OutcomeSuccess), p.region, sourceName, order.Version, StepPayload{
		Step:     rec.Step,
		Outcome:  domain.OutcomeSuccess,
		Attempts: rec.Attempts,
		Data:     rec.Data,
	})
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, topic, evt)
}

// OrderCompleted announces terminal success.
func (p *Producer) OrderCompleted(ctx context.Context, order *domain.Order) error {
	evt, err := kafka.NewEvent(TypeOrderCompleted, order.ID, "finalize", string(domain.OutcomeSuccess), p.region, sourceName, order.Version, TerminalPayload{
		Status: order.Status,
	})
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, TopicOrderCompleted, evt)
}

// OrderFailed announces a terminal failure after compensation.
func (p *Producer) OrderFailed(ctx context.Context, order *domain.Order) error {
	evt, err := kafka.NewEvent(TypeOrderFailed, order.ID, "finalize", string(domain.OutcomePermanent), p.region, sourceName, order.Version, TerminalPayload{
		Status:        order.Status,
		FailureReason: order.FailureReason,
	})
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, TopicOrderFailed, evt)
}

// CompensationTriggered announces the start of the rollback path.
func (p *Producer) CompensationTriggered(ctx context.Context, order *domain.Order, reason string) error {
	evt, err := kafka.NewEvent(TypeCompensationTriggered, order.ID, string(order.Saga.CurrentStep), string(domain.OutcomePermanent), p.region, sourceName, order.Version, CompensationPayload{
		Reason:      reason,
		FromStep:    order.Saga.CurrentStep,
		StepsToUndo: len(order.Saga.PendingCompensations()),
	})
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, TopicCompensationTriggered, evt)
}

// RecordReplicated publishes the full order record onto this region's
// replication stream. Each version produces a distinct event ID, so peers
// dedup exact redeliveries but always see every committed version.
func (p *Producer) RecordReplicated(ctx context.Context, order *domain.Order) error {
	evt, err := kafka.NewEvent(TypeRecordReplicated, order.ID, "record", strconv.FormatInt(order.Version, 10), p.region, sourceName, order.Version, order)
	if err != nil {
		return err
	}
	return p.pub.Publish(ctx, RecordsTopic(p.region), evt)
}
