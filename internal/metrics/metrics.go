// Package metrics provides Prometheus instrumentation for the deal core.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dealflow"

var (
	// JobPassesTotal counts reconciliation passes by job and outcome.
	JobPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_passes_total",
			Help:      "Reconciliation passes by job and result.",
		},
		[]string{"job", "result"},
	)

	JobPassDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_pass_duration_seconds",
			Help:      "Duration of a reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	// JobDealsTotal counts per-deal outcomes inside a pass: ok, skipped, error.
	JobDealsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_deals_total",
			Help:      "Deals processed by reconciliation jobs by outcome.",
		},
		[]string{"job", "outcome"},
	)

	TransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deal_transitions_total",
			Help:      "Applied deal status transitions.",
		},
		[]string{"from", "to"},
	)

	// DisbursementsTotal counts ledger disbursements (payout, fee, refund, recover).
	DisbursementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_disbursements_total",
			Help:      "Escrow ledger transfers by kind and result.",
		},
		[]string{"kind", "result"},
	)

	VerificationChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_checks_total",
			Help:      "Post verification checks by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route and status class.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	prometheus.MustRegister(
		JobPassesTotal,
		JobPassDuration,
		JobDealsTotal,
		TransitionsTotal,
		DisbursementsTotal,
		VerificationChecksTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// ObservePass records one job pass.
func ObservePass(job string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	JobPassesTotal.WithLabelValues(job, result).Inc()
	JobPassDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// Middleware records request metrics keyed by route pattern.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		HTTPRequestDuration.WithLabelValues(c.Method(), path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Method(), path, statusBucket(status)).Inc()
		return err
	}
}

// Handler serves /metrics.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

func statusBucket(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
