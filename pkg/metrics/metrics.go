package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 里程碑推进结果计数
	MilestoneTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "milestone_transitions_total",
			Help: "Milestone advance attempts by target milestone and outcome",
		},
		[]string{"milestone_id", "result"},
	)

	// 依赖操作计数（attach / clear / gate）
	DependencyOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dependency_operations_total",
			Help: "Dependency attach, clear and gate checks by outcome",
		},
		[]string{"operation", "result"},
	)

	// 数据库事务耗时（秒）
	DBTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_tx_duration_seconds",
			Help:    "Duration of workflow transactions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// MQ 消费延迟（毫秒）
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox events handed to the broker by outcome",
		},
		[]string{"routing_key", "status"},
	)

	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Redis cache lookups by cache name and hit/miss",
		},
		[]string{"cache", "result"},
	)
)

func RecordTransition(milestoneID int, result string) {
	MilestoneTransitions.WithLabelValues(strconv.Itoa(milestoneID), result).Inc()
}

func RecordDependencyOperation(operation, result string) {
	DependencyOperations.WithLabelValues(operation, result).Inc()
}

func RecordTxDuration(operation string, duration time.Duration) {
	DBTxDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// IncrementSlowQuery 记录慢查询，label 只保留语句类型以控制基数
func IncrementSlowQuery(sql string, _ time.Duration) {
	SlowQueryCount.WithLabelValues(statementKind(sql)).Inc()
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordMQConsumeLatency 记录 MQ 消费延迟
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordOutboxPublish(routingKey, status string) {
	OutboxPublished.WithLabelValues(routingKey, status).Inc()
}

func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheRequests.WithLabelValues(cache, result).Inc()
}

func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToUpper(fields[0])
}
