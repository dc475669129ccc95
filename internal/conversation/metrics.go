// ABOUTME: OpenTelemetry instruments for the pipeline and subscriber registry
// ABOUTME: Built from the global meter provider, which is a no-op until telemetry is configured

package conversation

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/2389/medibridge/internal/conversation"

type metrics struct {
	stages            metric.Int64Counter
	submitDuration    metric.Float64Histogram
	deliveries        metric.Int64Counter
	activeSubscribers metric.Int64UpDownCounter
}

func newMetrics() metrics {
	meter := otel.Meter(instrumentationName)
	fallback := noop.NewMeterProvider().Meter(instrumentationName)

	stages, err := meter.Int64Counter("medibridge.pipeline.stage",
		metric.WithDescription("Pipeline stage outcomes by stage and outcome"))
	if err != nil {
		stages, _ = fallback.Int64Counter("medibridge.pipeline.stage")
	}

	submitDuration, err := meter.Float64Histogram("medibridge.pipeline.submit.duration",
		metric.WithDescription("End-to-end submit latency"),
		metric.WithUnit("s"))
	if err != nil {
		submitDuration, _ = fallback.Float64Histogram("medibridge.pipeline.submit.duration")
	}

	deliveries, err := meter.Int64Counter("medibridge.broadcast.deliveries",
		metric.WithDescription("Broadcast enqueue attempts by result"))
	if err != nil {
		deliveries, _ = fallback.Int64Counter("medibridge.broadcast.deliveries")
	}

	active, err := meter.Int64UpDownCounter("medibridge.realtime.subscribers",
		metric.WithDescription("Currently joined realtime subscribers"))
	if err != nil {
		active, _ = fallback.Int64UpDownCounter("medibridge.realtime.subscribers")
	}

	return metrics{
		stages:            stages,
		submitDuration:    submitDuration,
		deliveries:        deliveries,
		activeSubscribers: active,
	}
}
