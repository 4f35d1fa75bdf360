// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ReconcileOutcomes counts reconciled transactions by matching strategy ("none" when unmatched).
	ReconcileOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_transactions_total",
		Help: "Payment transactions processed by reconciliation, by matching strategy.",
	}, []string{"strategy"})

	// ReconcileErrors counts per-item reconciliation failures.
	ReconcileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_errors_total",
		Help: "Reconciliation items that failed and were reported in the batch errors.",
	})

	// ReconcileBatchDuration observes full batch runs.
	ReconcileBatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_batch_duration_seconds",
		Help:    "Duration of reconcileAll runs.",
		Buckets: prometheus.DefBuckets,
	})

	// CouponApplications counts coupon validations by result code ("applied" on success).
	CouponApplications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coupon_applications_total",
		Help: "Coupon validations by result.",
	}, []string{"result"})

	// RegistrationTransitions counts lifecycle transitions by target status.
	RegistrationTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "registration_transitions_total",
		Help: "Registration status transitions by target status.",
	}, []string{"status"})

	// GatewaySelections counts gateway selections by provider ("none" when nothing matched).
	GatewaySelections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_selections_total",
		Help: "Gateway selections by chosen provider.",
	}, []string{"provider"})

	// HTTPRequests counts handled requests by route template and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPDuration observes request latency by route template.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency by method and route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)
