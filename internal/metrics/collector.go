// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 转接指标
	transferTransitions *prometheus.CounterVec
	transfersActive     prometheus.Gauge
	transferStageTime   *prometheus.HistogramVec

	// 摘要指标
	summariesTotal   *prometheus.CounterVec
	summaryDuration  *prometheus.HistogramVec
	summaryTruncated prometheus.Counter

	// 中继指标
	eventsPublished  *prometheus.CounterVec
	eventsDelivered  *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	relaySubscribers prometheus.Gauge

	// 外部协作方指标
	collaboratorCalls *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到默认 Registry
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建注册到指定 Registerer 的指标收集器
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}
	factory := promauto.With(reg)

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// 转接指标
	c.transferTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfer_transitions_total",
			Help:      "Total number of transfer state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.transfersActive = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transfers_active",
			Help:      "Number of non-terminal transfers",
		},
	)

	c.transferStageTime = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_stage_duration_seconds",
			Help:      "Duration of transfer pipeline stages in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stage", "result"},
	)

	// 摘要指标
	c.summariesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summaries_total",
			Help:      "Total number of transfer summaries by source",
		},
		[]string{"source"}, // source: llm, fallback
	)

	c.summaryDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "summary_duration_seconds",
			Help:      "Summary generation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	c.summaryTruncated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_transcripts_truncated_total",
			Help:      "Transcripts trimmed to fit the prompt token budget",
		},
	)

	// 中继指标
	c.eventsPublished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_published_total",
			Help:      "Total number of events published to rooms",
		},
		[]string{"type"},
	)

	c.eventsDelivered = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_delivered_total",
			Help:      "Total number of event deliveries to live subscribers",
		},
		[]string{"type"},
	)

	c.eventsDropped = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_dropped_total",
			Help:      "Events dropped because a subscriber buffer was full",
		},
		[]string{"type"},
	)

	c.relaySubscribers = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_subscribers",
			Help:      "Number of connected event subscribers",
		},
	)

	c.collaboratorCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Calls to external collaborators",
		},
		[]string{"collaborator", "operation", "status"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🔀 转接指标记录
// =============================================================================

// RecordTransferTransition 记录转接状态迁移
func (c *Collector) RecordTransferTransition(from, to string) {
	c.transferTransitions.WithLabelValues(from, to).Inc()
}

// SetActiveTransfers 设置进行中的转接数
func (c *Collector) SetActiveTransfers(n int) {
	c.transfersActive.Set(float64(n))
}

// RecordTransferStage 记录流水线阶段耗时，result: ok, error
func (c *Collector) RecordTransferStage(stage, result string, duration time.Duration) {
	c.transferStageTime.WithLabelValues(stage, result).Observe(duration.Seconds())
}

// =============================================================================
// 📝 摘要指标记录
// =============================================================================

// RecordSummary 记录摘要生成，source: llm, fallback
func (c *Collector) RecordSummary(source string, duration time.Duration) {
	c.summariesTotal.WithLabelValues(source).Inc()
	c.summaryDuration.WithLabelValues(source).Observe(duration.Seconds())
}

// RecordTranscriptTruncated 记录一次对话记录截断
func (c *Collector) RecordTranscriptTruncated() {
	c.summaryTruncated.Inc()
}

// =============================================================================
// 📡 中继指标记录
// =============================================================================

// RecordEventPublished 记录一次发布及其实时投递数
func (c *Collector) RecordEventPublished(eventType string, delivered int) {
	c.eventsPublished.WithLabelValues(eventType).Inc()
	c.eventsDelivered.WithLabelValues(eventType).Add(float64(delivered))
}

// RecordEventDropped 记录订阅者缓冲区满导致的丢弃
func (c *Collector) RecordEventDropped(eventType string) {
	c.eventsDropped.WithLabelValues(eventType).Inc()
}

// AddSubscribers 调整订阅者数量
func (c *Collector) AddSubscribers(delta int) {
	c.relaySubscribers.Add(float64(delta))
}

// RecordCollaboratorCall 记录对外部协作方的调用
func (c *Collector) RecordCollaboratorCall(collaborator, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.collaboratorCalls.WithLabelValues(collaborator, operation, status).Inc()
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
