package cycle

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "pumpcycle.cycle"

const (
	spanRun   = "cycle.run"
	spanStage = "cycle.stage"
)

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
