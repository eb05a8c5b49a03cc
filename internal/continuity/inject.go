package continuity

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rcliao/agent-continuity/internal/inject"
	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/store"
)

// InjectionResult is an injection plus the hooks that shaped it.
type InjectionResult struct {
	inject.Result
	TriggeredHooks []string `json:"triggered_hooks,omitempty"`
}

// hookPlan is what fired hooks ask of one turn.
type hookPlan struct {
	forced      []string
	allSessions bool
	rituals     []string
	fired       []string
}

// InjectMemories evaluates the user's hooks once for this turn, packs the
// best memories into budget, records an access on each selected entry, and
// then runs any rituals the hooks asked for. It never returns an error: a
// failing ledger yields an empty result.
func (m *Manager) InjectMemories(ctx context.Context, c model.ConversationContext, budget int, strategy inject.Strategy) *InjectionResult {
	plan := m.planHooks(ctx, c)
	pending := m.takePending(c.UserID, c.SessionID)
	plan.forced = append(pending, plan.forced...)

	res, err := m.injector.Inject(ctx, inject.Request{
		Context:     c,
		Budget:      budget,
		Strategy:    strategy,
		Forced:      plan.forced,
		AllSessions: plan.allSessions,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.UserID).Str("session_id", c.SessionID).Msg("injection_degraded")
		res = inject.Empty(strategy)
	}
	// Pinned ids wait for a turn that actually packs.
	if err != nil || budget <= 0 {
		m.addPending(c.UserID, c.SessionID, pending)
	}

	for i := range res.Selected {
		e := &res.Selected[i]
		if err := m.st.Touch(ctx, e.ID, m.boost); err != nil {
			log.Warn().Err(err).Str("memory_id", e.ID).Msg("access_record_failed")
		}
	}

	attrs := metric.WithAttributes(attribute.String("strategy", string(res.Strategy)))
	injectionsTotal.Add(ctx, 1, attrs)
	injectionTokens.Record(ctx, int64(res.TotalTokens), attrs)

	m.runHookRituals(ctx, c.UserID, plan.rituals)

	return &InjectionResult{Result: *res, TriggeredHooks: plan.fired}
}

// planHooks evaluates hooks and applies the actions that take effect before
// packing. Hook failures leave the turn unshaped.
func (m *Manager) planHooks(ctx context.Context, c model.ConversationContext) hookPlan {
	var plan hookPlan
	if c.UserID == "" {
		return plan
	}
	fired, err := m.hooks.Evaluate(ctx, c)
	if err != nil {
		log.Warn().Err(err).Str("user_id", c.UserID).Msg("hook_evaluation_failed")
		return plan
	}
	for _, h := range fired {
		plan.fired = append(plan.fired, h.ID)
		switch h.Action.Kind {
		case model.ActionInjectMemory:
			plan.forced = append(plan.forced, h.Action.MemoryIDs...)
		case model.ActionLoadContext:
			plan.allSessions = true
		case model.ActionTriggerRitual:
			plan.rituals = append(plan.rituals, h.Action.RitualID)
		case model.ActionUpdatePreference:
			if err := m.upsertPreference(ctx, c.UserID, c.SessionID, h.Action.Key, h.Action.Value); err != nil {
				log.Warn().Err(err).Str("hook_id", h.ID).Msg("preference_update_failed")
			}
		}
	}
	return plan
}

// runHookRituals executes rituals requested by hooks. Only the user's own
// rituals run.
func (m *Manager) runHookRituals(ctx context.Context, userID string, ids []string) {
	for _, id := range ids {
		r, err := m.st.GetRitual(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("ritual_id", id).Msg("hook_ritual_missing")
			continue
		}
		if r.UserID != userID || !r.IsActive {
			continue
		}
		if _, err := m.rituals.Execute(ctx, r); err != nil {
			log.Error().Err(err).Str("ritual_id", id).Msg("hook_ritual_failed")
		}
	}
}

// upsertPreference stores value as the user's preference under key,
// replacing an earlier value.
func (m *Manager) upsertPreference(ctx context.Context, userID, sessionID, key, value string) error {
	existing, err := m.st.Query(ctx, store.QueryParams{
		UserID:     userID,
		Types:      []model.MemoryType{model.TypePreference},
		Categories: []string{key},
		Limit:      1,
	})
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		_, err := m.st.Update(ctx, existing[0].ID, store.UpdateParams{Content: &value})
		return err
	}
	_, err = m.CreateMemory(ctx, userID, sessionID, model.TypePreference, key, value, CreateOptions{Importance: Float(0.7)})
	return err
}

func (m *Manager) addPending(userID, sessionID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pendingKey(userID, sessionID)
	m.pending[k] = append(m.pending[k], ids...)
}

func (m *Manager) takePending(userID, sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := pendingKey(userID, sessionID)
	ids := m.pending[k]
	delete(m.pending, k)
	return ids
}
