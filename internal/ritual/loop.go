package ritual

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultTick is how often the loop looks for due rituals.
const DefaultTick = "@every 1h"

// Loop drives RunDueAll from a cron schedule.
type Loop struct {
	cron  *cron.Cron
	sched *Scheduler
}

// NewLoop registers a tick on spec (standard 5-field cron or a descriptor
// such as "@every 15m"). An empty spec uses DefaultTick.
func NewLoop(sched *Scheduler, spec string) (*Loop, error) {
	if spec == "" {
		spec = DefaultTick
	}
	l := &Loop{cron: cron.New(), sched: sched}
	_, err := l.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		l.Tick(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("registering ritual tick %q: %w", spec, err)
	}
	return l, nil
}

// Tick runs one pass over every user's due rituals.
func (l *Loop) Tick(ctx context.Context) int {
	n, err := l.sched.RunDueAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("ritual_tick_failed")
		return 0
	}
	log.Debug().Int("executed", n).Msg("ritual_tick")
	return n
}

// Start begins the cron loop.
func (l *Loop) Start() {
	l.cron.Start()
}

// Stop halts the loop and waits for a running tick to finish.
func (l *Loop) Stop() {
	ctx := l.cron.Stop()
	<-ctx.Done()
}

// Next returns when the tick fires next; zero before Start.
func (l *Loop) Next() time.Time {
	entries := l.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}
