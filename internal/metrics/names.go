package metrics

// Metric names
const (
	MetricNameXeroRequestsTotal    = "xero_requests_total"
	MetricNameXeroRequestDuration  = "xero_request_duration_seconds"
	MetricNameXeroRateLimitedTotal = "xero_rate_limited_total"
	MetricNameTokenRefreshTotal    = "xero_token_refresh_total"
	MetricNameSyncTotal            = "sync_entities_total"
	MetricNameSyncDuration         = "sync_duration_seconds"
	MetricNameSyncInFlight         = "sync_in_flight"
	MetricNameChangeEventsTotal    = "shop_change_events_total"
	MetricNameChangeQueueDepth     = "shop_change_queue_depth"
	MetricNameBulkRunsTotal        = "sync_bulk_runs_total"
)

// Help text
const (
	HelpTextXeroRequestsTotal    = "Total number of requests sent to the Xero API"
	HelpTextXeroRequestDuration  = "Duration of Xero API requests in seconds"
	HelpTextXeroRateLimitedTotal = "Total number of throttled Xero responses"
	HelpTextTokenRefreshTotal    = "Total number of OAuth token refreshes"
	HelpTextSyncTotal            = "Total number of entity sync attempts by outcome"
	HelpTextSyncDuration         = "Duration of single entity syncs in seconds"
	HelpTextSyncInFlight         = "Number of entity syncs currently in flight"
	HelpTextChangeEventsTotal    = "Total number of shop change events received"
	HelpTextChangeQueueDepth     = "Number of change events waiting for a worker"
	HelpTextBulkRunsTotal        = "Total number of bulk sync runs by status"
)

// Labels
const (
	LabelMethod     = "method"
	LabelStatus     = "status"
	LabelResult     = "result"
	LabelEntityType = "entity_type"
	LabelOutcome    = "outcome"
	LabelAction     = "action"
	LabelTrigger    = "trigger"
)

var XeroLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
