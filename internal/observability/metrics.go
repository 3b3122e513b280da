package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketing_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_events_published_total",
			Help: "Events confirmed by the broker",
		},
		[]string{"subject"},
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_publish_failures_total",
			Help: "Publishes that failed or were nacked by the broker",
		},
		[]string{"subject"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_events_consumed_total",
			Help: "Delivered events by listener outcome (ack, retry, dead_letter)",
		},
		[]string{"subject", "group", "outcome"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_handler_seconds",
			Help:    "Listener handler duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject", "group"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketing_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last batch",
		},
	)

	OutboxPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_outbox_publish_retries_total",
			Help: "Outbox records left for the next tick after a failed publish",
		},
	)

	JobsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_expiration_jobs_scheduled_total",
			Help: "Expiration jobs scheduled",
		},
	)

	JobsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_expiration_jobs_fired_total",
			Help: "Expiration jobs run by outcome",
		},
		[]string{"outcome"},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
