package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TransferInstruments 转接生命周期的 OTel 指标，经 MeterProvider 导出到 OTLP。
// 遥测关闭时全局 MeterProvider 为 noop，记录无开销。
type TransferInstruments struct {
	finished metric.Int64Counter
	handoff  metric.Float64Histogram
}

// NewTransferInstruments 从全局 MeterProvider 创建指标
func NewTransferInstruments() (*TransferInstruments, error) {
	meter := otel.Meter(InstrumentationName)

	finished, err := meter.Int64Counter("transfer.finished",
		metric.WithDescription("Transfers that reached a terminal state"),
		metric.WithUnit("{transfer}"))
	if err != nil {
		return nil, err
	}

	// 发起到终态的耗时
	handoff, err := meter.Float64Histogram("transfer.handoff.duration",
		metric.WithDescription("Time from initiation to a terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 15, 30, 60, 120, 300, 900))
	if err != nil {
		return nil, err
	}

	return &TransferInstruments{finished: finished, handoff: handoff}, nil
}

// RecordFinished 记录一次终结的转接
func (m *TransferInstruments) RecordFinished(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.finished.Add(ctx, 1, attrs)
	m.handoff.Record(ctx, elapsed.Seconds(), attrs)
}
