package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DistributionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_attempts_total",
			Help: "Total number of distribution attempts by outcome (count)",
		},
		[]string{"outcome", "mode"},
	)

	DistributionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "distribution_duration_ms",
			Help:    "Duration of a single distribution attempt in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	DistributionAssignmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_assignments_total",
			Help: "Total number of committed assignments by strategy (count)",
		},
		[]string{"strategy"},
	)

	DistributionCursorConflictsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "distribution_cursor_conflicts_total",
			Help: "Total number of round-robin cursor compare-and-swap conflicts (count)",
		},
	)

	DistributionCompensationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_compensations_total",
			Help: "Total number of commit steps that failed after earlier steps succeeded (count)",
		},
		[]string{"step"},
	)

	DistributionActiveRules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "distribution_active_rules",
			Help: "Number of active distribution rules cached per workspace (count)",
		},
		[]string{"workspace_id"},
	)

	RuleCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_rule_cache_requests_total",
			Help: "Rule cache lookups by result (count)",
		},
		[]string{"result"},
	)

	OpenLeadsCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_open_leads_cache_requests_total",
			Help: "Open lead count cache lookups by result (count)",
		},
		[]string{"result"},
	)

	BatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "distribution_batch_runs_total",
			Help: "Total number of batch redistribution runs (count)",
		},
		[]string{"trigger", "status"},
	)

	BatchLeadsDistributed = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "distribution_batch_leads_distributed",
			Help:    "Leads assigned per batch redistribution run (count)",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	SchedulerJobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_runs_total",
			Help: "Total number of scheduled job runs (count)",
		},
		[]string{"job", "status"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "operation"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	CircuitBreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Total number of calls rejected by an open circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	KafkaMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_read_total",
			Help: "Total number of messages read from Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_written_total",
			Help: "Total number of messages written to Kafka (count)",
		},
		[]string{"service", "topic"},
	)

	KafkaMessageSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_message_size_bytes",
			Help:    "Size of Kafka messages in bytes",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000, 500000},
		},
		[]string{"service", "topic", "direction"},
	)

	KafkaConsumerLag = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kafka_consumer_lag",
			Help: "Kafka consumer lag (difference between latest offset and committed offset) (count)",
		},
		[]string{"service", "topic", "partition"},
	)

	KafkaWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kafka_write_duration_ms",
			Help:    "Duration of writing messages to Kafka in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"service", "topic"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"database", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"database", "operation"},
	)
)

var registerOnce sync.Once

// RegisterAll registers every collector with the default registry. Safe to call more than once.
func RegisterAll() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DistributionAttemptsTotal,
			DistributionDuration,
			DistributionAssignmentsTotal,
			DistributionCursorConflictsTotal,
			DistributionCompensationsTotal,
			DistributionActiveRules,
			RuleCacheRequestsTotal,
			OpenLeadsCacheRequestsTotal,
			BatchRunsTotal,
			BatchLeadsDistributed,
			SchedulerJobRunsTotal,
			RetryAttemptsTotal,
			DLQMessagesTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
			CircuitBreakerRejections,
			RateLimitRequestsTotal,
			KafkaMessagesReadTotal,
			KafkaMessagesWrittenTotal,
			KafkaMessageSizeBytes,
			KafkaConsumerLag,
			KafkaWriteDuration,
			DatabaseQueriesTotal,
			DatabaseQueryDuration,
		)
	})
}

func ObserveDistribution(outcome, mode string, duration time.Duration) {
	DistributionAttemptsTotal.WithLabelValues(outcome, mode).Inc()
	DistributionDuration.WithLabelValues(outcome).Observe(float64(duration.Milliseconds()))
}

func IncAssignment(strategy string) {
	DistributionAssignmentsTotal.WithLabelValues(strategy).Inc()
}

func IncCursorConflict() {
	DistributionCursorConflictsTotal.Inc()
}

func IncCompensation(step string) {
	DistributionCompensationsTotal.WithLabelValues(step).Inc()
}

func SetActiveRules(workspaceID string, count int) {
	DistributionActiveRules.WithLabelValues(workspaceID).Set(float64(count))
}

func IncRuleCache(hit bool) {
	RuleCacheRequestsTotal.WithLabelValues(hitLabel(hit)).Inc()
}

func IncOpenLeadsCache(hit bool) {
	OpenLeadsCacheRequestsTotal.WithLabelValues(hitLabel(hit)).Inc()
}

func ObserveBatch(trigger, status string, distributed int) {
	BatchRunsTotal.WithLabelValues(trigger, status).Inc()
	BatchLeadsDistributed.Observe(float64(distributed))
}

func IncSchedulerJob(job, status string) {
	SchedulerJobRunsTotal.WithLabelValues(job, status).Inc()
}

func IncRetryAttempt(service, operation string) {
	RetryAttemptsTotal.WithLabelValues(service, operation).Inc()
}

func IncKafkaMessagesRead(service, topic string) {
	KafkaMessagesReadTotal.WithLabelValues(service, topic).Inc()
}

func IncKafkaMessagesWritten(service, topic string) {
	KafkaMessagesWrittenTotal.WithLabelValues(service, topic).Inc()
}

func ObserveKafkaMessageSize(service, topic, direction string, sizeBytes int) {
	KafkaMessageSizeBytes.WithLabelValues(service, topic, direction).Observe(float64(sizeBytes))
}

func SetKafkaConsumerLag(service, topic string, partition int, lag int64) {
	KafkaConsumerLag.WithLabelValues(service, topic, fmt.Sprintf("%d", partition)).Set(float64(lag))
}

func ObserveKafkaWriteDuration(service, topic string, duration time.Duration) {
	KafkaWriteDuration.WithLabelValues(service, topic).Observe(float64(duration.Milliseconds()))
}

func ObserveQuery(database, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	DatabaseQueriesTotal.WithLabelValues(database, operation, status).Inc()
	DatabaseQueryDuration.WithLabelValues(database, operation).Observe(float64(duration.Milliseconds()))
}

func hitLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
