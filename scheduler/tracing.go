package scheduler

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gridsignal/scenariogen/internal/logging"
)

const tracerName = "github.com/gridsignal/scenariogen/scheduler"

// startSpan opens a pipeline span tagged with the instance and, when the
// context carries one, the run_id. With tracing disabled the global provider
// hands out no-op spans.
func startSpan(ctx context.Context, name, instance string, extra ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs := make([]attribute.KeyValue, 0, len(extra)+2)
	attrs = append(attrs, attribute.String("instance", instance))
	if id := logging.RunIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("run_id", id))
	}
	attrs = append(attrs, extra...)
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}
