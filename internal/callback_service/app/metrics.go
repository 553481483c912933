package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callbacksProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callback_service",
			Name:      "callbacks_processed_total",
			Help:      "Total number of callback deliveries processed.",
		},
		[]string{"outcome", "error_kind"}, // outcome: "success", "duplicate", "rejected"
	)

	messagesDecodedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callback_service",
			Name:      "messages_decoded_total",
			Help:      "Total number of messages decoded, by variant.",
		},
		[]string{"kind"},
	)

	callbackProcessingDurationHist = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "callback_service",
			Name:      "callback_processing_duration_seconds",
			Help:      "Duration of end-to-end callback processing.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

