package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	verificationsTriggeredCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tfa_service",
			Name:      "verifications_triggered_total",
			Help:      "Total number of challenge messages sent, by purpose.",
		},
		[]string{"purpose"},
	)

	verificationResultCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tfa_service",
			Name:      "verification_results_total",
			Help:      "Total number of code verifications, by result (success or error kind).",
		},
		[]string{"result"},
	)

	declinesCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tfa_service",
			Name:      "challenge_declines_total",
			Help:      "Total number of challenge messages explicitly declined by the recipient.",
		},
	)
)
