// Package logbridge routes records from OpenTelemetry loggers, such as the
// otelslog loggers every package creates, to a slog.Handler.
package logbridge

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/embedded"
	"go.opentelemetry.io/otel/log/global"
)

// Install makes handler the destination of every OpenTelemetry logger,
// including ones created before the call.
func Install(handler slog.Handler) {
	global.SetLoggerProvider(NewProvider(handler))
}

type Provider struct {
	embedded.LoggerProvider

	handler slog.Handler
}

func NewProvider(handler slog.Handler) *Provider {
	return &Provider{handler: handler}
}

// Logger returns a logger whose records carry the instrumentation scope.
func (p *Provider) Logger(name string, _ ...log.LoggerOption) log.Logger {
	return &logger{handler: p.handler.WithAttrs([]slog.Attr{slog.String("scope", name)})}
}

type logger struct {
	embedded.Logger

	handler slog.Handler
}

func (l *logger) Enabled(ctx context.Context, param log.EnabledParameters) bool {
	return l.handler.Enabled(ctx, level(param.Severity))
}

func (l *logger) Emit(ctx context.Context, record log.Record) {
	lvl := level(record.Severity())
	if !l.handler.Enabled(ctx, lvl) {
		return
	}

	r := slog.NewRecord(record.Timestamp(), lvl, text(record.Body()), 0)
	record.WalkAttributes(func(kv log.KeyValue) bool {
		r.AddAttrs(slog.Attr{Key: kv.Key, Value: value(kv.Value)})
		return true
	})
	_ = l.handler.Handle(ctx, r)
}

// level maps OpenTelemetry severities onto slog levels: Info is 0 and every
// four severity steps are one slog step.
func level(severity log.Severity) slog.Level {
	if severity == log.SeverityUndefined {
		return slog.LevelInfo
	}
	return slog.Level(int(severity) - int(log.SeverityInfo))
}

func text(v log.Value) string {
	if v.Kind() == log.KindString {
		return v.AsString()
	}
	return v.String()
}

func value(v log.Value) slog.Value {
	switch v.Kind() {
	case log.KindBool:
		return slog.BoolValue(v.AsBool())
	case log.KindInt64:
		return slog.Int64Value(v.AsInt64())
	case log.KindFloat64:
		return slog.Float64Value(v.AsFloat64())
	case log.KindString:
		return slog.StringValue(v.AsString())
	case log.KindMap:
		kvs := v.AsMap()
		attrs := make([]slog.Attr, 0, len(kvs))
		for _, kv := range kvs {
			attrs = append(attrs, slog.Attr{Key: kv.Key, Value: value(kv.Value)})
		}
		return slog.GroupValue(attrs...)
	case log.KindEmpty:
		return slog.StringValue("")
	}
	return slog.StringValue(v.String())
}
