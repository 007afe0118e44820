package socket

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const scopeName = "github.com/koscakluka/ema-island/core/transport/socket"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)

	reconnectAttempts, _ = meter.Int64Counter("island.reconnect.attempts",
		metric.WithDescription("Reconnect attempts scheduled after the socket dropped"),
		metric.WithUnit("{attempt}"))
)
