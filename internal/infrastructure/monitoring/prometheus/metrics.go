package prometheus

import (
	"strconv"
	"time"
)

// AppMetrics holds every series the service exports. A nil *AppMetrics is
// valid and records nothing.
type AppMetrics struct {
	// HTTP
	HTTPRequestsTotal   CounterVec
	HTTPRequestDuration HistogramVec

	// Alerting
	AlertsEvaluatedTotal       CounterVec
	AlertNotificationsTotal    CounterVec
	AlertAcknowledgementsTotal CounterVec

	// Trends
	TrendScansTotal       CounterVec
	TrendScanDuration     HistogramVec
	TrendFindingsTotal    CounterVec
	TrendAnalysesReturned HistogramVec

	// Infrastructure
	CacheHitsTotal    CounterVec
	CacheMissesTotal  CounterVec
	MQMessagesTotal   CounterVec
	DBQueryDuration   HistogramVec
	HealthCheckStatus GaugeVec
}

var (
	HTTPDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}
	ScanDurationBuckets = []float64{.05, .1, .5, 1, 5, 10, 30, 60, 300}
	DBDurationBuckets   = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5}
)

// NewAppMetrics registers all series on collector.
func NewAppMetrics(collector MetricsCollector) *AppMetrics {
	m := &AppMetrics{}

	m.HTTPRequestsTotal = collector.RegisterCounter("http_requests_total", "Total HTTP requests", "method", "path", "status_code")
	m.HTTPRequestDuration = collector.RegisterHistogram("http_request_duration_seconds", "HTTP request duration", HTTPDurationBuckets, "method", "path")

	m.AlertsEvaluatedTotal = collector.RegisterCounter("alerts_evaluated_total", "Analyses evaluated for a high-risk alert", "outcome")
	m.AlertNotificationsTotal = collector.RegisterCounter("alert_notifications_total", "High-risk alert notifications", "channel", "status")
	m.AlertAcknowledgementsTotal = collector.RegisterCounter("alert_acknowledgements_total", "Alert acknowledgement attempts", "result")

	m.TrendScansTotal = collector.RegisterCounter("trend_scans_total", "Clinic abnormal-trend scans", "status")
	m.TrendScanDuration = collector.RegisterHistogram("trend_scan_duration_seconds", "Clinic scan duration", ScanDurationBuckets, "status")
	m.TrendFindingsTotal = collector.RegisterCounter("trend_findings_total", "Abnormal-trend findings", "type")
	m.TrendAnalysesReturned = collector.RegisterHistogram("trend_points", "Points per patient risk trend", []float64{1, 2, 3, 5, 10, 20, 50, 100})

	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")
	m.MQMessagesTotal = collector.RegisterCounter("mq_messages_total", "Message queue messages", "topic", "status")
	m.DBQueryDuration = collector.RegisterHistogram("db_query_duration_seconds", "Database query duration", DBDurationBuckets, "operation")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")

	return m
}

// Alert evaluation outcomes.
const (
	OutcomeCreated      = "created"
	OutcomeNotHighRisk  = "not_high_risk"
	OutcomeDuplicate    = "duplicate"
	OutcomeNotFound     = "not_found"
	OutcomeReadError    = "read_error"
	OutcomePersistError = "persist_error"
)

func RecordHTTPRequest(m *AppMetrics, method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func RecordAlertEvaluation(m *AppMetrics, outcome string) {
	if m == nil {
		return
	}
	m.AlertsEvaluatedTotal.WithLabelValues(outcome).Inc()
}

func RecordNotification(m *AppMetrics, channel string, err error) {
	if m == nil {
		return
	}
	m.AlertNotificationsTotal.WithLabelValues(channel, statusOf(err)).Inc()
}

func RecordAcknowledgement(m *AppMetrics, acknowledged bool) {
	if m == nil {
		return
	}
	result := "acknowledged"
	if !acknowledged {
		result = "rejected"
	}
	m.AlertAcknowledgementsTotal.WithLabelValues(result).Inc()
}

func RecordTrendScan(m *AppMetrics, err error, d time.Duration, findingTypes []string) {
	if m == nil {
		return
	}
	status := statusOf(err)
	m.TrendScansTotal.WithLabelValues(status).Inc()
	m.TrendScanDuration.WithLabelValues(status).Observe(d.Seconds())
	for _, t := range findingTypes {
		m.TrendFindingsTotal.WithLabelValues(t).Inc()
	}
}

func RecordTrendPoints(m *AppMetrics, n int) {
	if m == nil {
		return
	}
	m.TrendAnalysesReturned.WithLabelValues().Observe(float64(n))
}

func RecordCacheAccess(m *AppMetrics, cache string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cache).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(cache).Inc()
	}
}

func RecordMessage(m *AppMetrics, topic string, err error) {
	if m == nil {
		return
	}
	m.MQMessagesTotal.WithLabelValues(topic, statusOf(err)).Inc()
}

func RecordDBQuery(m *AppMetrics, operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func SetHealth(m *AppMetrics, component string, up bool) {
	if m == nil {
		return
	}
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

func statusOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
