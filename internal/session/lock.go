package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcliao/agent-continuity/internal/keylock"
	"github.com/rcliao/agent-continuity/internal/model"
)

// LockPolicy holds the thresholds for granting and replacing persona locks.
type LockPolicy struct {
	// MinConfidence and AnchorSignificance gate a lock on evidence strength.
	MinConfidence      float64
	AnchorSignificance float64
	// SwitchConfidence gates a lock onto a persona other than the thread's current one.
	SwitchConfidence float64
	// ReplaceMargin is how much a different persona must beat the held lock by.
	ReplaceMargin      float64
	DefaultMaxMessages int
}

// DefaultLockPolicy returns the standard thresholds.
func DefaultLockPolicy() LockPolicy {
	return LockPolicy{
		MinConfidence:      0.75,
		AnchorSignificance: 0.8,
		SwitchConfidence:   0.8,
		ReplaceMargin:      0.2,
		DefaultMaxMessages: 5,
	}
}

// eps absorbs float error so that 0.7+0.2 compares equal to 0.9.
const eps = 1e-9

// Outcome is the result of a lock request.
type Outcome int

const (
	// Rejected: no lock was held and the signal was too weak.
	Rejected Outcome = iota
	// Granted: a new lock was placed on an unlocked thread.
	Granted
	// Replaced: a decisively stronger persona displaced the held lock.
	Replaced
	// Retained: the signal was for the persona already locked.
	Retained
	// Conflict: a different persona was not strong enough to displace the lock.
	Conflict
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Replaced:
		return "replaced"
	case Retained:
		return "retained"
	case Conflict:
		return "conflict"
	default:
		return "rejected"
	}
}

// Locked reports whether the thread ends up locked to the requested persona.
func (o Outcome) Locked() bool {
	return o == Granted || o == Replaced || o == Retained
}

// LockOption configures a LockManager.
type LockOption func(*LockManager)

// WithLockClock overrides the time source used for LockedAt.
func WithLockClock(now func() time.Time) LockOption {
	return func(m *LockManager) { m.now = now }
}

// WithPolicy overrides DefaultLockPolicy.
func WithPolicy(p LockPolicy) LockOption {
	return func(m *LockManager) { m.policy = p }
}

// LockManager pins personas to threads. Operations on one thread are serialized.
type LockManager struct {
	now     func() time.Time
	policy  LockPolicy
	threads keylock.Map

	mu      sync.RWMutex
	locks   map[string]*model.ContextLock
	current map[string]string // thread -> current construct
}

// NewLockManager returns a lock manager with no locks.
func NewLockManager(opts ...LockOption) *LockManager {
	m := &LockManager{
		now:     time.Now,
		policy:  DefaultLockPolicy(),
		locks:   make(map[string]*model.ContextLock),
		current: make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.policy.DefaultMaxMessages <= 0 {
		m.policy.DefaultMaxMessages = DefaultLockPolicy().DefaultMaxMessages
	}
	return m
}

// Policy returns the thresholds in effect.
func (m *LockManager) Policy() LockPolicy { return m.policy }

// SetCurrentConstruct records which construct a thread is currently speaking as.
func (m *LockManager) SetCurrentConstruct(threadID, constructID string) {
	unlock := m.threads.Lock(threadID)
	defer unlock()

	m.mu.Lock()
	m.current[threadID] = constructID
	m.mu.Unlock()
}

// CurrentConstruct returns the thread's current construct, or "".
func (m *LockManager) CurrentConstruct(threadID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current[threadID]
}

// LockPersona applies the lock policy to sig on threadID. It returns the lock
// held on the thread after the call (nil when none) and the outcome.
// maxMessages <= 0 uses the policy default.
func (m *LockManager) LockPersona(ctx context.Context, sig model.PersonaSignal, threadID string, maxMessages int) (*model.ContextLock, Outcome) {
	if maxMessages <= 0 {
		maxMessages = m.policy.DefaultMaxMessages
	}

	unlock := m.threads.Lock(threadID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.locks[threadID]
	var outcome Outcome
	switch {
	case existing != nil && existing.Signal.ConstructID == sig.ConstructID:
		outcome = Retained
	case existing != nil:
		if sig.Confidence-existing.Signal.Confidence > m.policy.ReplaceMargin+eps {
			outcome = Replaced
		} else {
			outcome = Conflict
		}
	case m.grantable(sig, threadID):
		outcome = Granted
	default:
		outcome = Rejected
	}

	if outcome == Granted || outcome == Replaced {
		existing = &model.ContextLock{
			ThreadID:    threadID,
			Signal:      sig,
			MaxMessages: maxMessages,
			LockedAt:    m.now(),
		}
		m.locks[threadID] = existing
		m.current[threadID] = sig.ConstructID
		locksGranted.Add(ctx, 1)
	} else if !outcome.Locked() {
		locksRejected.Add(ctx, 1)
	}

	log.Debug().
		Str("thread_id", threadID).
		Str("construct_id", sig.ConstructID).
		Float64("confidence", sig.Confidence).
		Str("outcome", outcome.String()).
		Msg("persona_lock")

	if existing == nil {
		return nil, outcome
	}
	out := *existing
	return &out, outcome
}

// grantable applies the initial-lock rule. Caller holds m.mu.
func (m *LockManager) grantable(sig model.PersonaSignal, threadID string) bool {
	p := m.policy
	if sig.Confidence > p.MinConfidence && sig.StrongestAnchor() > p.AnchorSignificance {
		return true
	}
	return sig.ConstructID != m.current[threadID] && sig.Confidence > p.SwitchConfidence
}

// IncrementMessageCount counts one turn against the thread's lock and clears
// the lock once its budget is spent. Returns the remaining turns, 0 when the
// thread is no longer locked.
func (m *LockManager) IncrementMessageCount(threadID string) int {
	unlock := m.threads.Lock(threadID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.locks[threadID]
	if l == nil {
		return 0
	}
	l.MessageCount++
	if l.MessageCount >= l.MaxMessages {
		delete(m.locks, threadID)
		log.Debug().Str("thread_id", threadID).Int("messages", l.MessageCount).Msg("persona_lock_expired")
		return 0
	}
	return l.Remaining()
}

// Get returns a copy of the thread's lock, or nil.
func (m *LockManager) Get(threadID string) *model.ContextLock {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := m.locks[threadID]
	if l == nil {
		return nil
	}
	out := *l
	return &out
}

// IsLocked reports whether the thread holds a lock.
func (m *LockManager) IsLocked(threadID string) bool {
	return m.Get(threadID) != nil
}

// Clear removes the thread's lock. Reports whether one was held.
func (m *LockManager) Clear(threadID string) bool {
	unlock := m.threads.Lock(threadID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locks[threadID]; !ok {
		return false
	}
	delete(m.locks, threadID)
	return true
}

// Forget drops the lock and the current construct of a finished thread.
func (m *LockManager) Forget(threadID string) {
	unlock := m.threads.Lock(threadID)
	defer unlock()

	m.mu.Lock()
	delete(m.locks, threadID)
	delete(m.current, threadID)
	m.mu.Unlock()
}
