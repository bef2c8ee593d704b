package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_messages_published_total",
			Help: "Total number of messages published to Kafka",
		},
		[]string{"topic"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_publish_errors_total",
			Help: "Total number of Kafka publish errors",
		},
		[]string{"topic"},
	)

	PublishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_kafka_publish_duration_seconds",
			Help:    "Duration of Kafka publish operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic"},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_messages_received_total",
			Help: "Total number of messages fetched from Kafka",
		},
		[]string{"topic", "consumer_group"},
	)

	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_messages_processed_total",
			Help: "Total number of messages processed successfully",
		},
		[]string{"topic", "consumer_group"},
	)

	MessagesFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_messages_failed_total",
			Help: "Total number of messages that exhausted handler retries",
		},
		[]string{"topic", "consumer_group"},
	)

	MessagesDuplicate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_messages_duplicate_total",
			Help: "Total number of duplicate messages skipped by idempotency checks",
		},
		[]string{"topic", "consumer_group"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fulfillment_kafka_processing_duration_seconds",
			Help:    "Duration of message handler execution",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"topic", "consumer_group"},
	)

	DLQPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fulfillment_kafka_dlq_published_total",
			Help: "Total number of messages published to dead-letter queues",
		},
		[]string{"original_topic", "consumer_group"},
	)
)
