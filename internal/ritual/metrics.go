package ritual

import (
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/rcliao/agent-continuity/internal/otel"
)

var meter = cotel.Meter("github.com/rcliao/agent-continuity/internal/ritual")

var (
	ritualsExecuted metric.Int64Counter
	actionsFailed   metric.Int64Counter
)

func init() {
	var err error
	ritualsExecuted, err = meter.Int64Counter("continuity.rituals.executed",
		metric.WithDescription("Ritual executions"))
	if err != nil {
		ritualsExecuted, _ = meter.Int64Counter("continuity.rituals.executed.fallback")
	}

	actionsFailed, err = meter.Int64Counter("continuity.ritual_actions.failed",
		metric.WithDescription("Ritual actions that returned an error"))
	if err != nil {
		actionsFailed, _ = meter.Int64Counter("continuity.ritual_actions.failed.fallback")
	}
}
