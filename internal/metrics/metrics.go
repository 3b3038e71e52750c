// Package metrics holds the prometheus instrumentation shared by the
// long-running loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DepositsDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotwallet_deposits_detected_total",
		Help: "Deposits recorded by the monitor, by token type.",
	}, []string{"token_type"})

	SweepAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hotwallet_sweep_attempts_total",
		Help: "Sweep attempts started.",
	})

	SweepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotwallet_sweeps_completed_total",
		Help: "Broadcast sweeps by receipt outcome: success, reverted, or timeout.",
	}, []string{"outcome"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotwallet_webhook_deliveries_total",
		Help: "Webhook events by final delivery outcome.",
	}, []string{"outcome"})

	ScanCursor = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hotwallet_scan_cursor",
		Help: "Highest fully processed block number.",
	})

	FaucetFundings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hotwallet_faucet_fundings_total",
		Help: "Faucet funding transactions, by outcome.",
	}, []string{"outcome"})
)
