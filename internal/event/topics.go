package event

import (
	"github.com/Simodalstix/AWS-multiregion-ecommerce/pkg/kafka"
)

// Bus topics. Everything is partitioned by order ID, so per-order ordering
// holds within each topic but not across topics.
var (
	TopicOrderCreated          = kafka.Topic("order", "created")
	TopicInventoryReserved     = kafka.Topic("inventory", "reserved")
	TopicPaymentCharged        = kafka.Topic("payment", "charged")
	TopicShippingArranged      = kafka.Topic("shipping", "arranged")
	TopicOrderCompleted        = kafka.Topic("order", "completed")
	TopicOrderFailed           = kafka.Topic("order", "failed")
	TopicCompensationTriggered = kafka.Topic("compensation", "triggered")
)

// Event type names carried in the envelope.
const (
	TypeOrderCreated          = "fulfillment.order.created"
	TypeInventoryReserved     = "fulfillment.inventory.reserved"
	TypePaymentCharged        = "fulfillment.payment.charged"
	TypeShippingArranged      = "fulfillment.shipping.arranged"
	TypeOrderCompleted        = "fulfillment.order.completed"
	TypeOrderFailed           = "fulfillment.order.failed"
	TypeCompensationTriggered = "fulfillment.compensation.triggered"
	TypeCompensationExhausted = "fulfillment.compensation.exhausted"
	TypeRecordReplicated      = "fulfillment.record.replicated"
)

// RecordsTopic is the per-region replication stream: every local write to the
// order store is published here, and peer regions consume it.
func RecordsTopic(region string) string {
	return kafka.TopicPrefix + ".records." + region
}
