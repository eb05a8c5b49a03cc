package session

import (
	"go.opentelemetry.io/otel/metric"

	cotel "github.com/rcliao/agent-continuity/internal/otel"
)

var meter = cotel.Meter("github.com/rcliao/agent-continuity/internal/session")

var (
	leasesAcquired   metric.Int64Counter
	leasesSuperseded metric.Int64Counter
	locksGranted     metric.Int64Counter
	locksRejected    metric.Int64Counter
)

func init() {
	var err error
	leasesAcquired, err = meter.Int64Counter("continuity.leases.acquired",
		metric.WithDescription("Thread leases granted"))
	if err != nil {
		leasesAcquired, _ = meter.Int64Counter("continuity.leases.acquired.fallback")
	}

	leasesSuperseded, err = meter.Int64Counter("continuity.leases.superseded",
		metric.WithDescription("Live leases implicitly released by a newer acquire"))
	if err != nil {
		leasesSuperseded, _ = meter.Int64Counter("continuity.leases.superseded.fallback")
	}

	locksGranted, err = meter.Int64Counter("continuity.locks.granted",
		metric.WithDescription("Persona locks placed or replaced"))
	if err != nil {
		locksGranted, _ = meter.Int64Counter("continuity.locks.granted.fallback")
	}

	locksRejected, err = meter.Int64Counter("continuity.locks.rejected",
		metric.WithDescription("Persona lock requests rejected or in conflict"))
	if err != nil {
		locksRejected, _ = meter.Int64Counter("continuity.locks.rejected.fallback")
	}
}
