package continuity

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/ritual"
)

// SessionStart describes a new session for a construct on a thread.
type SessionStart struct {
	UserID        string
	SessionID     string
	ConstructID   string
	ThreadID      string
	LeaseDuration time.Duration
}

// Session is the state handed back to the caller when a session opens.
type Session struct {
	Lease          *model.ThreadLease `json:"lease"`
	TriggeredHooks []string           `json:"triggered_hooks,omitempty"`
	Rituals        []ritual.Executed  `json:"rituals,omitempty"`
}

// StartSession acquires the thread lease, records the construct as the
// thread's current persona, runs session-start rituals and evaluates
// session-start hooks. Memories pinned by those hooks are forced into the
// session's next injection.
func (m *Manager) StartSession(ctx context.Context, s SessionStart) (*Session, error) {
	if s.UserID == "" {
		return nil, errors.New("start session: user id is required")
	}
	lease, err := m.leases.Acquire(ctx, s.ConstructID, s.ThreadID, s.LeaseDuration)
	if err != nil {
		return nil, err
	}
	m.locks.SetCurrentConstruct(s.ThreadID, s.ConstructID)

	out := &Session{Lease: lease}

	done, err := m.rituals.RunSessionStart(ctx, s.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", s.UserID).Msg("session_rituals_failed")
	}
	out.Rituals = done

	plan := m.planHooks(ctx, model.ConversationContext{
		UserID:       s.UserID,
		SessionID:    s.SessionID,
		SessionStart: true,
	})
	m.addPending(s.UserID, s.SessionID, plan.forced)
	m.runHookRituals(ctx, s.UserID, plan.rituals)
	out.TriggeredHooks = plan.fired

	log.Info().
		Str("user_id", s.UserID).
		Str("session_id", s.SessionID).
		Str("construct_id", s.ConstructID).
		Str("thread_id", s.ThreadID).
		Msg("session_started")
	return out, nil
}

// EndSession releases the lease and drops the thread's persona state.
// Ending a session twice is harmless.
func (m *Manager) EndSession(userID, sessionID, constructID, threadID, token string) {
	released := m.leases.Release(constructID, token)
	m.locks.Forget(threadID)
	m.takePending(userID, sessionID)
	log.Info().
		Str("session_id", sessionID).
		Str("construct_id", constructID).
		Bool("released", released).
		Msg("session_ended")
}
