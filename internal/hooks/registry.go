// Package hooks matches continuity hooks against live conversation turns.
package hooks

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/rcliao/agent-continuity/internal/model"
)

// Store persists hooks and their trigger bookkeeping.
type Store interface {
	CreateHook(ctx context.Context, h *model.ContinuityHook) (*model.ContinuityHook, error)
	ListHooks(ctx context.Context, userID string, includeInactive bool) ([]model.ContinuityHook, error)
	RecordHookTrigger(ctx context.Context, id string, at time.Time) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry registers and evaluates hooks.
type Registry struct {
	st  Store
	now func() time.Time

	patterns sync.Map // pattern -> *regexp.Regexp
}

// NewRegistry returns a registry backed by st.
func NewRegistry(st Store, opts ...Option) *Registry {
	r := &Registry{st: st, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and stores a hook for userID.
func (r *Registry) Register(ctx context.Context, userID string, trig model.Trigger, act model.Action, priority int) (*model.ContinuityHook, error) {
	switch trig.Kind {
	case model.TriggerKeyword, model.TriggerFileContent:
		if _, err := r.compile(trig.Pattern); err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", model.ErrInvalidEntry, trig.Pattern, err)
		}
	case model.TriggerTime:
		if _, err := cron.ParseStandard(trig.Schedule); err != nil {
			return nil, fmt.Errorf("%w: schedule %q: %v", model.ErrInvalidEntry, trig.Schedule, err)
		}
	}
	return r.st.CreateHook(ctx, &model.ContinuityHook{
		UserID:   userID,
		Trigger:  trig,
		Action:   act,
		Priority: priority,
	})
}

// Evaluate returns the user's active hooks that match c, highest priority
// first. Every match is recorded as triggered, so a turn must be evaluated
// at most once.
func (r *Registry) Evaluate(ctx context.Context, c model.ConversationContext) ([]model.ContinuityHook, error) {
	hooks, err := r.st.ListHooks(ctx, c.UserID, false)
	if err != nil {
		return nil, fmt.Errorf("list hooks: %w", err)
	}

	now := r.now()
	var fired []model.ContinuityHook
	for _, h := range hooks {
		ok, err := r.Matches(&h, c, now)
		if err != nil {
			log.Warn().Err(err).Str("hook_id", h.ID).Msg("hook_match_failed")
			continue
		}
		if !ok {
			continue
		}
		if err := r.st.RecordHookTrigger(ctx, h.ID, now); err != nil {
			log.Warn().Err(err).Str("hook_id", h.ID).Msg("hook_trigger_record_failed")
		}
		h.TriggerCount++
		at := now
		h.LastTriggered = &at
		fired = append(fired, h)
	}
	// ListHooks already orders by priority descending.
	return fired, nil
}

// Matches tests one hook's trigger against c at now without side effects.
func (r *Registry) Matches(h *model.ContinuityHook, c model.ConversationContext, now time.Time) (bool, error) {
	t := h.Trigger
	switch t.Kind {
	case model.TriggerKeyword:
		re, err := r.compile(t.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(c.CurrentMessage), nil

	case model.TriggerFileContent:
		re, err := r.compile(t.Pattern)
		if err != nil {
			return false, err
		}
		for _, f := range c.FileContents {
			if re.MatchString(f) {
				return true, nil
			}
		}
		return false, nil

	case model.TriggerContext:
		for field, want := range t.Match {
			got, ok := contextField(c, field)
			if !ok {
				return false, fmt.Errorf("unknown context field %q", field)
			}
			if !strings.EqualFold(strings.TrimSpace(got), strings.TrimSpace(want)) {
				return false, nil
			}
		}
		return true, nil

	case model.TriggerTopic:
		topic := strings.ToLower(c.Topic)
		if topic == "" {
			return false, nil
		}
		for _, want := range t.Topics {
			if want != "" && strings.Contains(topic, strings.ToLower(want)) {
				return true, nil
			}
		}
		return false, nil

	case model.TriggerSessionStart:
		return c.SessionStart, nil

	case model.TriggerTime:
		sched, err := cron.ParseStandard(t.Schedule)
		if err != nil {
			return false, err
		}
		ref := h.CreatedAt
		if h.LastTriggered != nil {
			ref = *h.LastTriggered
		}
		return !sched.Next(ref).After(now), nil
	}
	return false, fmt.Errorf("unknown trigger kind %q", t.Kind)
}

func contextField(c model.ConversationContext, field string) (string, bool) {
	switch field {
	case "topic":
		return c.Topic, true
	case "intent", "user_intent":
		return c.UserIntent, true
	case "session_id":
		return c.SessionID, true
	case "message":
		return c.CurrentMessage, true
	}
	return "", false
}

func (r *Registry) compile(pattern string) (*regexp.Regexp, error) {
	if v, ok := r.patterns.Load(pattern); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	r.patterns.Store(pattern, re)
	return re, nil
}
