// Package continuity is the memory manager: the single entry point the
// surrounding product uses to store memories, inject them into a turn, and
// coordinate session leases and persona locks.
//
// Read paths never fail the conversation. When the ledger is unavailable
// they log and return empty results.
package continuity

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rcliao/agent-continuity/internal/hooks"
	"github.com/rcliao/agent-continuity/internal/inject"
	"github.com/rcliao/agent-continuity/internal/model"
	"github.com/rcliao/agent-continuity/internal/ritual"
	"github.com/rcliao/agent-continuity/internal/session"
	"github.com/rcliao/agent-continuity/internal/store"
)

// Options tunes the manager's collaborators.
type Options struct {
	Inject         inject.Params
	Lock           session.LockPolicy
	LeaseDuration  time.Duration
	RelevanceBoost float64 // added to an entry's relevance each time it is injected
	Now            func() time.Time
}

// DefaultOptions returns the standard tuning.
func DefaultOptions() Options {
	return Options{
		Inject:         inject.DefaultParams(),
		Lock:           session.DefaultLockPolicy(),
		LeaseDuration:  session.DefaultLeaseDuration,
		RelevanceBoost: 0.05,
	}
}

// Manager owns one ledger and the services built on it. Construct one per
// process and share it.
type Manager struct {
	st       *store.SQLiteStore
	injector *inject.Injector
	hooks    *hooks.Registry
	rituals  *ritual.Scheduler
	leases   *session.LeaseManager
	locks    *session.LockManager

	now   func() time.Time
	boost float64

	mu      sync.Mutex
	pending map[string][]string // user/session -> ids forced by session-start hooks
}

// New builds a Manager over st.
func New(st *store.SQLiteStore, opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		st:       st,
		injector: inject.New(st, opts.Inject, inject.WithClock(now)),
		hooks:    hooks.NewRegistry(st, hooks.WithClock(now)),
		rituals:  ritual.NewScheduler(st, ritual.WithClock(now)),
		leases:   session.NewLeaseManager(session.WithLeaseClock(now), session.WithDefaultDuration(opts.LeaseDuration)),
		locks:    session.NewLockManager(session.WithLockClock(now), session.WithPolicy(opts.Lock)),
		now:      now,
		boost:    opts.RelevanceBoost,
		pending:  make(map[string][]string),
	}
}

// Store exposes the underlying ledger for export, import and stats.
func (m *Manager) Store() *store.SQLiteStore { return m.st }

// Hooks exposes the hook registry.
func (m *Manager) Hooks() *hooks.Registry { return m.hooks }

// Rituals exposes the ritual scheduler.
func (m *Manager) Rituals() *ritual.Scheduler { return m.rituals }

// CreateOptions are the optional fields of a new memory. Nil Importance and
// Relevance default to 0.5 and 1.0.
type CreateOptions struct {
	Importance    *float64
	Relevance     *float64
	Tags          []string
	File          *model.FileProvenance
	FileRelations *model.FileRelationships
	ParentID      string
	RelatedIDs    []string
	HookIDs       []string
	TTL           time.Duration
}

// Float returns a pointer to v, for CreateOptions.
func Float(v float64) *float64 { return &v }

// CreateMemory stores a new entry.
func (m *Manager) CreateMemory(ctx context.Context, userID, sessionID string, typ model.MemoryType, category, content string, o CreateOptions) (*model.Entry, error) {
	e := &model.Entry{
		UserID:        userID,
		SessionID:     sessionID,
		Type:          typ,
		Category:      category,
		Content:       content,
		Importance:    0.5,
		Relevance:     1.0,
		Tags:          o.Tags,
		File:          o.File,
		FileRelations: o.FileRelations,
		ParentID:      o.ParentID,
		RelatedIDs:    o.RelatedIDs,
		HookIDs:       o.HookIDs,
	}
	if o.Importance != nil {
		e.Importance = *o.Importance
	}
	if o.Relevance != nil {
		e.Relevance = *o.Relevance
	}
	if o.TTL > 0 {
		exp := m.now().Add(o.TTL).UTC()
		e.ExpiresAt = &exp
	}

	out, err := m.st.Create(ctx, e)
	if err != nil {
		return nil, err
	}
	memoriesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(typ))))
	log.Debug().Str("memory_id", out.ID).Str("user_id", userID).Str("type", string(typ)).Msg("memory_created")
	return out, nil
}

// QueryMemories runs a ledger query. Storage failures yield an empty list.
func (m *Manager) QueryMemories(ctx context.Context, p store.QueryParams) []model.Entry {
	entries, err := m.st.Query(ctx, p)
	if err != nil {
		log.Warn().Err(err).Str("user_id", p.UserID).Msg("query_degraded")
		return []model.Entry{}
	}
	if entries == nil {
		return []model.Entry{}
	}
	return entries
}

// GetMemory returns the entry, or nil when it is unknown or unreadable.
func (m *Manager) GetMemory(ctx context.Context, id string) *model.Entry {
	e, err := m.st.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("memory_id", id).Msg("get_degraded")
		}
		return nil
	}
	return e
}

// UpdateMemory applies a partial update. found is false for an unknown id.
func (m *Manager) UpdateMemory(ctx context.Context, id string, p store.UpdateParams) (e *model.Entry, found bool, err error) {
	e, err = m.st.Update(ctx, id, p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, err
	}
	return e, true, nil
}

// DeleteMemory removes an entry. Returns false for an unknown id.
func (m *Manager) DeleteMemory(ctx context.Context, id string) (bool, error) {
	return m.st.Delete(ctx, id)
}

// Relate links two entries in both directions.
func (m *Manager) Relate(ctx context.Context, a, b string) error {
	return m.st.Relate(ctx, a, b)
}

// SetParent makes parentID the parent of childID; empty parentID detaches.
func (m *Manager) SetParent(ctx context.Context, childID, parentID string) error {
	return m.st.SetParent(ctx, childID, parentID)
}

// AcquireThreadLease grants constructID exclusive use of threadID and
// returns the lease token. d <= 0 uses the configured default.
func (m *Manager) AcquireThreadLease(ctx context.Context, constructID, threadID string, d time.Duration) (string, error) {
	l, err := m.leases.Acquire(ctx, constructID, threadID, d)
	if err != nil {
		return "", err
	}
	return l.Token, nil
}

// ReleaseThreadLease drops the construct's lease; token may be empty.
// Releasing twice is a no-op.
func (m *Manager) ReleaseThreadLease(constructID, token string) bool {
	return m.leases.Release(constructID, token)
}

// ValidateThreadLease returns the live lease for token, or nil.
func (m *Manager) ValidateThreadLease(token string) *model.ThreadLease {
	return m.leases.Validate(token)
}

// LockPersonaContext applies the persona lock policy. ok is false when the
// request was rejected or lost to a stronger existing lock.
func (m *Manager) LockPersonaContext(ctx context.Context, sig model.PersonaSignal, threadID string, maxMessages int) (lock *model.ContextLock, ok bool) {
	l, outcome := m.locks.LockPersona(ctx, sig, threadID, maxMessages)
	return l, outcome.Locked()
}

// IncrementTurn counts a message against the thread's lock and returns the
// turns left.
func (m *Manager) IncrementTurn(threadID string) int {
	return m.locks.IncrementMessageCount(threadID)
}

// IsLocked reports whether the thread has a persona lock.
func (m *Manager) IsLocked(threadID string) bool {
	return m.locks.IsLocked(threadID)
}

// ContextLock returns the thread's lock, or nil.
func (m *Manager) ContextLock(threadID string) *model.ContextLock {
	return m.locks.Get(threadID)
}

// ClearLock removes the thread's persona lock.
func (m *Manager) ClearLock(threadID string) bool {
	return m.locks.Clear(threadID)
}

// RegisterHook stores a continuity hook.
func (m *Manager) RegisterHook(ctx context.Context, userID string, trig model.Trigger, act model.Action, priority int) (*model.ContinuityHook, error) {
	return m.hooks.Register(ctx, userID, trig, act, priority)
}

// CreateRitual stores a maintenance ritual.
func (m *Manager) CreateRitual(ctx context.Context, r *model.MemoryRitual) (*model.MemoryRitual, error) {
	return m.st.CreateRitual(ctx, r)
}

// RunRitualsDue executes the user's due rituals. Failures are logged and
// reported per ritual; they never propagate.
func (m *Manager) RunRitualsDue(ctx context.Context, userID string) []ritual.Executed {
	done, err := m.rituals.RunDue(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("rituals_due_failed")
		return nil
	}
	return done
}

// RunRitual executes one ritual now, whatever its schedule.
func (m *Manager) RunRitual(ctx context.Context, id string) (*model.RitualRun, error) {
	return m.rituals.RunByID(ctx, id)
}

func pendingKey(userID, sessionID string) string {
	return fmt.Sprintf("%s\x00%s", userID, sessionID)
}
