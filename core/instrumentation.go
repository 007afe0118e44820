package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-island/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	segmentsSent, _ = meter.Int64Counter("island.segments.sent",
		metric.WithDescription("Audio segments accepted by the transport"),
		metric.WithUnit("{segment}"))
	responseLatency, _ = meter.Float64Histogram("island.response.latency",
		metric.WithDescription("Time from sending a segment to receiving its answer"),
		metric.WithUnit("ms"))
)
