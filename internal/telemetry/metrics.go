package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/iamvkosarev/ca-study-chat/exchange"

// TurnMetrics traces and counts message exchange turns. It is built from the
// global providers, so it records nothing until InitTelemetry has run. A nil
// *TurnMetrics is valid and records nothing.
type TurnMetrics struct {
	tracer    trace.Tracer
	turns     metric.Int64Counter
	fallbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

func NewTurnMetrics() (*TurnMetrics, error) {
	meter := otel.Meter(instrumentationName)

	turns, err := meter.Int64Counter(
		"exchange.turns",
		metric.WithDescription("Accepted user submissions"),
	)
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter(
		"exchange.fallbacks",
		metric.WithDescription("Turns resolved with the fallback reply"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"exchange.provider.duration",
		metric.WithDescription("Response provider latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &TurnMetrics{
		tracer:    otel.Tracer(instrumentationName),
		turns:     turns,
		fallbacks: fallbacks,
		duration:  duration,
	}, nil
}

// StartTurn opens the exchange.turn span and counts the turn.
func (m *TurnMetrics) StartTurn(ctx context.Context, viewID string) (context.Context, trace.Span) {
	if m == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	attrs := attribute.String("view.id", viewID)
	m.turns.Add(ctx, 1, metric.WithAttributes(attrs))
	return m.tracer.Start(ctx, "exchange.turn", trace.WithAttributes(attrs))
}

func (m *TurnMetrics) RecordProvider(ctx context.Context, elapsed time.Duration, fallback bool) {
	if m == nil {
		return
	}
	m.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.Bool("fallback", fallback)))
	if fallback {
		m.fallbacks.Add(ctx, 1)
	}
}
