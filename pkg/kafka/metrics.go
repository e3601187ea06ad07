package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Consume outcomes.
const (
	outcomeProcessed    = "processed"
	outcomeDeadLettered = "dead_lettered"
	outcomeUndecodable  = "undecodable"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_events_published_total",
			Help: "Events written to Kafka, by topic and event type",
		},
		[]string{"topic", "event_type"},
	)

	eventsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_events_failed_total",
			Help: "Events that could not be written to Kafka",
		},
		[]string{"topic", "event_type"},
	)

	writeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_seconds",
			Help:    "Time spent in WriteMessages per event",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"topic"},
	)

	eventSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_event_size_bytes",
			Help:    "Size of encoded event envelopes",
			Buckets: prometheus.ExponentialBuckets(128, 2, 8),
		},
		[]string{"topic"},
	)

	eventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_events_consumed_total",
			Help: "Consumed messages, by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	dlqWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_dlq_writes_total",
			Help: "Dead-letter writes, by original topic and result",
		},
		[]string{"topic", "result"},
	)

	duplicateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_duplicate_events_total",
			Help: "Events skipped because their ID was already processed",
		},
		[]string{"event_type"},
	)
)
