// Package ritual runs scheduled maintenance over a user's memories:
// cleanup, consolidation, relevance decay and conversation summaries.
//
// Rituals touch only the ledger. They never take session leases or locks.
package ritual

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/agent-continuity/internal/model"
	cotel "github.com/rcliao/agent-continuity/internal/otel"
	"github.com/rcliao/agent-continuity/internal/store"
)

var tracer = cotel.Tracer("github.com/rcliao/agent-continuity/internal/ritual")

// Store is the ledger surface rituals operate on.
type Store interface {
	Query(ctx context.Context, p store.QueryParams) ([]model.Entry, error)
	Create(ctx context.Context, e *model.Entry) (*model.Entry, error)
	Delete(ctx context.Context, id string) (bool, error)
	SetParent(ctx context.Context, childID, parentID string) error
	SetRelevance(ctx context.Context, id string, relevance float64) error

	GetRitual(ctx context.Context, id string) (*model.MemoryRitual, error)
	ListRituals(ctx context.Context, userID string) ([]model.MemoryRitual, error)
	RitualUsers(ctx context.Context) ([]string, error)
	RecordRitualRun(ctx context.Context, r *model.MemoryRitual) error
}

// ShouldRun reports whether r is due at now. Session-start and manual
// rituals are never due on the timer.
func ShouldRun(r *model.MemoryRitual, now time.Time) bool {
	if !r.IsActive {
		return false
	}
	switch r.Schedule {
	case model.ScheduleDaily, model.ScheduleWeekly, model.ScheduleMonthly:
	default:
		return false
	}
	if r.LastExecuted == nil {
		return true
	}
	last := *r.LastExecuted
	switch r.Schedule {
	case model.ScheduleDaily:
		return now.Sub(last) >= 24*time.Hour
	case model.ScheduleWeekly:
		return now.Sub(last) >= 7*24*time.Hour
	default:
		return !now.Before(last.AddDate(0, 1, 0))
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used for ages, decay and LastExecuted.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler executes rituals against a Store.
type Scheduler struct {
	st  Store
	now func() time.Time
}

// NewScheduler returns a scheduler backed by st.
func NewScheduler(st Store, opts ...Option) *Scheduler {
	s := &Scheduler{st: st, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs every action of r in order. A failing action is recorded in
// the run and does not stop the ones after it. The ritual's bookkeeping
// (last executed, count, running average duration) is updated and persisted.
func (s *Scheduler) Execute(ctx context.Context, r *model.MemoryRitual) (*model.RitualRun, error) {
	ctx, span := tracer.Start(ctx, "ritual.execute",
		trace.WithAttributes(
			attribute.String("ritual.id", r.ID),
			attribute.String("ritual.schedule", string(r.Schedule)),
		))
	defer span.End()

	wall := time.Now()
	run := &model.RitualRun{StartedAt: s.now().UTC()}
	for _, a := range r.Actions {
		n, err := s.runAction(ctx, r, a)
		res := model.ActionResult{Kind: a.Kind, Affected: n}
		if err != nil {
			res.Error = err.Error()
			actionsFailed.Add(ctx, 1)
			log.Error().Err(err).
				Str("ritual_id", r.ID).
				Str("action", string(a.Kind)).
				Msg("ritual_action_failed")
		}
		run.Actions = append(run.Actions, res)
	}
	run.Duration = time.Since(wall)

	prev := time.Duration(r.ExecutionCount) * r.AvgDuration
	r.ExecutionCount++
	r.AvgDuration = (prev + run.Duration) / time.Duration(r.ExecutionCount)
	at := s.now().UTC()
	r.LastExecuted = &at
	r.LastRun = run

	ritualsExecuted.Add(ctx, 1)
	if run.Failed() {
		span.SetStatus(codes.Error, "ritual action failed")
	}
	log.Info().
		Str("ritual_id", r.ID).
		Str("user_id", r.UserID).
		Dur("duration", run.Duration).
		Int("actions", len(run.Actions)).
		Msg("ritual_executed")

	if err := s.st.RecordRitualRun(ctx, r); err != nil {
		return run, fmt.Errorf("record ritual run: %w", err)
	}
	return run, nil
}

func (s *Scheduler) runAction(ctx context.Context, r *model.MemoryRitual, a model.RitualAction) (int, error) {
	switch a.Kind {
	case model.RitualCleanup:
		return s.cleanup(ctx, r.UserID, a)
	case model.RitualConsolidate:
		return s.consolidate(ctx, r.UserID, a)
	case model.RitualReweight:
		return s.reweight(ctx, r, a)
	case model.RitualSummarize:
		return s.summarize(ctx, r.UserID, a)
	}
	return 0, fmt.Errorf("unknown ritual action %q", a.Kind)
}

// Executed pairs a ritual with its run, or with the error that stopped it
// from being recorded.
type Executed struct {
	Ritual model.MemoryRitual
	Run    *model.RitualRun
	Err    error
}

// RunDue executes the user's timer rituals that are due now.
func (s *Scheduler) RunDue(ctx context.Context, userID string) ([]Executed, error) {
	now := s.now()
	return s.runMatching(ctx, userID, func(r *model.MemoryRitual) bool { return ShouldRun(r, now) })
}

// RunSessionStart executes the user's session-start rituals.
func (s *Scheduler) RunSessionStart(ctx context.Context, userID string) ([]Executed, error) {
	return s.runMatching(ctx, userID, func(r *model.MemoryRitual) bool {
		return r.IsActive && r.Schedule == model.ScheduleSessionStart
	})
}

// RunByID executes one ritual regardless of schedule.
func (s *Scheduler) RunByID(ctx context.Context, id string) (*model.RitualRun, error) {
	r, err := s.st.GetRitual(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Execute(ctx, r)
}

// RunDueAll executes due rituals for every user that owns one.
func (s *Scheduler) RunDueAll(ctx context.Context) (int, error) {
	users, err := s.st.RitualUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("ritual users: %w", err)
	}
	total := 0
	for _, u := range users {
		done, err := s.RunDue(ctx, u)
		if err != nil {
			log.Error().Err(err).Str("user_id", u).Msg("ritual_user_failed")
			continue
		}
		total += len(done)
	}
	return total, nil
}

func (s *Scheduler) runMatching(ctx context.Context, userID string, due func(*model.MemoryRitual) bool) ([]Executed, error) {
	rituals, err := s.st.ListRituals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rituals: %w", err)
	}
	var out []Executed
	for i := range rituals {
		r := &rituals[i]
		if !due(r) {
			continue
		}
		run, err := s.Execute(ctx, r)
		if err != nil {
			log.Error().Err(err).Str("ritual_id", r.ID).Msg("ritual_record_failed")
		}
		out = append(out, Executed{Ritual: *r, Run: run, Err: err})
	}
	return out, nil
}
