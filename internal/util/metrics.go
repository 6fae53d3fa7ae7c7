package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CheckoutSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_submissions_total",
		Help: "Total number of checkout submissions by result",
	}, []string{"result"})

	OrdersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of pending orders created",
	})

	OrdersUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_updated_total",
		Help: "Total number of pending orders updated in place by a repeated checkout",
	})

	CheckoutLockContendedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_lock_contended_total",
		Help: "Total number of checkouts rejected because the same intent was in flight",
	})

	PaymentLinkLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_link_latency_seconds",
		Help:    "Latency of payment link requests to the processor",
		Buckets: prometheus.DefBuckets,
	})

	PaymentLinkFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_link_failures_total",
		Help: "Total number of failed payment link requests",
	}, []string{"reason"})

	PaymentNotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_notifications_total",
		Help: "Total number of processor notifications by status and outcome",
	}, []string{"status", "outcome"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders successfully paid",
	})

	OrdersAbandonedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_abandoned_total",
		Help: "Total number of orders moved to the unpaid archive",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of paid-order notifications by channel and result",
	}, []string{"channel", "result"})

	OrderEventsAuditedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "order_events_audited_total",
		Help: "Total number of order events written to the audit log",
	}, []string{"event_type"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
