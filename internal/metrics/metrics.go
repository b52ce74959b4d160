package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Remote API Metrics
var (
	XeroRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameXeroRequestsTotal,
			Help: HelpTextXeroRequestsTotal,
		},
		[]string{LabelMethod, LabelStatus},
	)

	XeroRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameXeroRequestDuration,
			Help:    HelpTextXeroRequestDuration,
			Buckets: XeroLatencyBuckets,
		},
		[]string{LabelMethod},
	)

	XeroRateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameXeroRateLimitedTotal,
			Help: HelpTextXeroRateLimitedTotal,
		},
	)

	TokenRefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameTokenRefreshTotal,
			Help: HelpTextTokenRefreshTotal,
		},
		[]string{LabelResult},
	)
)

// Sync Metrics
var (
	SyncTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSyncTotal,
			Help: HelpTextSyncTotal,
		},
		[]string{LabelEntityType, LabelOutcome, LabelAction},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameSyncDuration,
			Help:    HelpTextSyncDuration,
			Buckets: XeroLatencyBuckets,
		},
		[]string{LabelEntityType},
	)

	SyncInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameSyncInFlight,
			Help: HelpTextSyncInFlight,
		},
	)

	BulkRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameBulkRunsTotal,
			Help: HelpTextBulkRunsTotal,
		},
		[]string{LabelEntityType, LabelTrigger, LabelStatus},
	)
)

// Change Feed Metrics
var (
	ChangeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameChangeEventsTotal,
			Help: HelpTextChangeEventsTotal,
		},
		[]string{LabelEntityType, LabelAction},
	)

	ChangeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: MetricNameChangeQueueDepth,
			Help: HelpTextChangeQueueDepth,
		},
	)
)
