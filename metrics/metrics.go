// Package metrics defines the Prometheus collectors for the rewards engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	TransactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_transactions_total",
			Help: "Total number of committed ledger transactions",
		},
		[]string{"kind"},
	)

	BalancePoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rewards_balance_points",
			Help: "Current point balance",
		},
	)

	WorkoutEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_workout_events_total",
			Help: "Total number of workout events ingested",
		},
		[]string{"event"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_notifications_total",
			Help: "Total number of chat notification deliveries",
		},
		[]string{"result"}, // sent, edited, failed
	)

	MonitorChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rewards_monitor_checks_total",
			Help: "Total number of balance monitor polls",
		},
		[]string{"result"}, // ok, error
	)
)
