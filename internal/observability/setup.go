package observability

import (
	"context"

	"github.com/beansplit/beansplit/internal/infrastructure/observability"
)

// Setup wires logging, metrics and tracing in one call and returns the
// tracer shutdown function.
func Setup(serviceName string) func(context.Context) error {
	observability.InitLogger()
	observability.InitMetrics()
	return observability.InitTracing(serviceName)
}
