package observer

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Outbound channel metrics
	ChannelSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_channel_sends_total",
			Help: "Total number of outbound channel sends, labeled by result.",
		},
		[]string{"session", "result"},
	)
	ChannelSendDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_channel_send_duration_seconds",
			Help:    "Histogram of outbound channel call durations including transport retries.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
		},
		[]string{"session"},
	)
	RateLimitRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_rate_limit_rejections_total",
			Help: "Total number of sends rejected by the shared rate-limit window.",
		},
	)

	// Dispatch task metrics
	TasksSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_tasks_submitted_total",
			Help: "Total number of tasks published to the dispatch queue, labeled by kind.",
		},
		[]string{"kind"},
	)
	TasksProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_tasks_processed_total",
			Help: "Total number of dispatch tasks processed, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	TaskProcessingDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_task_processing_duration_seconds",
			Help:    "Histogram of dispatch task processing durations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"kind"},
	)

	// Webhook metrics
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_webhook_events_total",
			Help: "Total number of webhook events received, labeled by event and outcome.",
		},
		[]string{"event", "outcome"},
	)
	AcksAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_acks_applied_total",
			Help: "Total number of acknowledgment events applied, labeled by ack code and action.",
		},
		[]string{"ack", "action"},
	)

	// Campaign metrics
	CampaignsCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wa_campaign_engine_campaigns_completed_total",
			Help: "Total number of campaigns that reached completed status.",
		},
	)

	// Storage metrics
	DbOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wa_campaign_engine_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
		},
		[]string{"operation", "entity", "status"},
	)
)

// InitMetrics enables or disables metric collection globally.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncChannelSend records the outcome of one channel send.
func IncChannelSend(session, result string) {
	if !metricsEnabled {
		return
	}
	ChannelSendsTotal.WithLabelValues(session, result).Inc()
}

// ObserveChannelSendDuration records the duration of one channel call.
func ObserveChannelSendDuration(session string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	ChannelSendDurationSeconds.WithLabelValues(session).Observe(d.Seconds())
}

// IncRateLimitRejection counts a fast-fail on the shared send budget.
func IncRateLimitRejection() {
	if !metricsEnabled {
		return
	}
	RateLimitRejectionsTotal.Inc()
}

// IncTaskSubmitted counts a task published to the dispatch queue.
func IncTaskSubmitted(kind string) {
	if !metricsEnabled {
		return
	}
	TasksSubmittedTotal.WithLabelValues(kind).Inc()
}

// IncTaskProcessed counts a processed task with its outcome
// (ack, nak_retry, dropped, noop).
func IncTaskProcessed(kind, outcome string) {
	if !metricsEnabled {
		return
	}
	TasksProcessedTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveTaskProcessingDuration records task handler duration.
func ObserveTaskProcessingDuration(kind string, d time.Duration) {
	if !metricsEnabled {
		return
	}
	TaskProcessingDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
}

// IncWebhookEvent counts a received webhook event with its outcome.
func IncWebhookEvent(event, outcome string) {
	if !metricsEnabled {
		return
	}
	WebhookEventsTotal.WithLabelValues(event, outcome).Inc()
}

// IncAckApplied counts an applied (or skipped) acknowledgment transition.
func IncAckApplied(ack, action string) {
	if !metricsEnabled {
		return
	}
	AcksAppliedTotal.WithLabelValues(ack, action).Inc()
}

// IncCampaignCompleted counts a campaign completion transition.
func IncCampaignCompleted() {
	if !metricsEnabled {
		return
	}
	CampaignsCompletedTotal.Inc()
}

// ObserveDbOperationDuration records the duration and status of a DB op.
func ObserveDbOperationDuration(operation, entity string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	DbOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(d.Seconds())
}

// SanitizeErrorType maps an error message to a coarse category label so that
// metric cardinality stays bounded.
func SanitizeErrorType(errMsg string) string {
	msg := strings.ToLower(errMsg)
	switch {
	case strings.Contains(msg, "rate limit"):
		return "rate_limited"
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return "timeout"
	case strings.Contains(msg, "validation"):
		return "validation"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "database"):
		return "database"
	case strings.Contains(msg, "connection"):
		return "connection"
	default:
		return "other"
	}
}
