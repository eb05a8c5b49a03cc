package continuity

import (
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/rcliao/agent-continuity/internal/otel"
)

var meter = cotel.Meter("github.com/rcliao/agent-continuity/internal/continuity")

var (
	memoriesCreated metric.Int64Counter
	injectionsTotal metric.Int64Counter
	injectionTokens metric.Int64Histogram
)

func init() {
	var err error
	memoriesCreated, err = meter.Int64Counter("continuity.memories.created",
		metric.WithDescription("Memories written to the ledger"))
	if err != nil {
		memoriesCreated, _ = meter.Int64Counter("continuity.memories.created.fallback")
	}

	injectionsTotal, err = meter.Int64Counter("continuity.injections.total",
		metric.WithDescription("Injection requests served"))
	if err != nil {
		injectionsTotal, _ = meter.Int64Counter("continuity.injections.total.fallback")
	}

	injectionTokens, err = meter.Int64Histogram("continuity.injection.tokens",
		metric.WithDescription("Tokens packed per injection"),
		metric.WithUnit("{token}"))
	if err != nil {
		injectionTokens, _ = meter.Int64Histogram("continuity.injection.tokens.fallback")
	}
}
