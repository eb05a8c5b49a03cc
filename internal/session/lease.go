// Package session implements the session concurrency controller: at most one
// live thread lease per construct, and a message-bounded persona lock per
// thread.
//
// Neither manager touches the memory store or performs I/O. Expiry is lazy:
// a lapsed lease lingers until the next call that looks at it.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/rcliao/agent-continuity/internal/keylock"
	"github.com/rcliao/agent-continuity/internal/model"
)

// ErrInvalidLease is returned for malformed acquire requests and by Check for
// unknown or expired tokens.
var ErrInvalidLease = errors.New("invalid lease")

// DefaultLeaseDuration applies when Acquire is called with a non-positive duration.
const DefaultLeaseDuration = 30 * time.Minute

// LeaseOption configures a LeaseManager.
type LeaseOption func(*LeaseManager)

// WithLeaseClock overrides the time source.
func WithLeaseClock(now func() time.Time) LeaseOption {
	return func(m *LeaseManager) { m.now = now }
}

// WithDefaultDuration overrides DefaultLeaseDuration.
func WithDefaultDuration(d time.Duration) LeaseOption {
	return func(m *LeaseManager) {
		if d > 0 {
			m.defaultDuration = d
		}
	}
}

// LeaseManager hands out thread leases. Operations on one construct are
// serialized; distinct constructs proceed in parallel.
type LeaseManager struct {
	now             func() time.Time
	defaultDuration time.Duration
	constructs      keylock.Map

	mu          sync.RWMutex
	byConstruct map[string]*model.ThreadLease
	byToken     map[string]*model.ThreadLease
}

// NewLeaseManager returns an empty lease manager.
func NewLeaseManager(opts ...LeaseOption) *LeaseManager {
	m := &LeaseManager{
		now:             time.Now,
		defaultDuration: DefaultLeaseDuration,
		byConstruct:     make(map[string]*model.ThreadLease),
		byToken:         make(map[string]*model.ThreadLease),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants constructID a lease on threadID. A live lease already held
// by the construct is released first; the newest caller always wins.
func (m *LeaseManager) Acquire(ctx context.Context, constructID, threadID string, d time.Duration) (*model.ThreadLease, error) {
	if constructID == "" || threadID == "" {
		return nil, fmt.Errorf("%w: construct and thread ids are required", ErrInvalidLease)
	}
	if d <= 0 {
		d = m.defaultDuration
	}

	unlock := m.constructs.Lock(constructID)
	defer unlock()

	now := m.now()
	lease := &model.ThreadLease{
		Token:       uuid.NewString(),
		ConstructID: constructID,
		ThreadID:    threadID,
		AcquiredAt:  now,
		ExpiresAt:   now.Add(d),
	}

	m.mu.Lock()
	prev := m.byConstruct[constructID]
	if prev != nil {
		delete(m.byToken, prev.Token)
	}
	m.byConstruct[constructID] = lease
	m.byToken[lease.Token] = lease
	m.mu.Unlock()

	leasesAcquired.Add(ctx, 1)
	if prev != nil && !prev.Expired(now) {
		leasesSuperseded.Add(ctx, 1)
		log.Debug().
			Str("construct_id", constructID).
			Str("old_thread_id", prev.ThreadID).
			Str("thread_id", threadID).
			Msg("lease_superseded")
	}

	out := *lease
	return &out, nil
}

// Release drops the construct's lease. With a non-empty token only that
// lease is dropped; a stale token is a no-op. Reports whether a lease was
// removed. Releasing twice is safe.
func (m *LeaseManager) Release(constructID, token string) bool {
	unlock := m.constructs.Lock(constructID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.byConstruct[constructID]
	if cur == nil || (token != "" && cur.Token != token) {
		return false
	}
	delete(m.byConstruct, constructID)
	delete(m.byToken, cur.Token)
	return true
}

// Validate returns the live lease for token, or nil when the token is
// unknown, superseded, released or expired. Expired leases are removed here.
func (m *LeaseManager) Validate(token string) *model.ThreadLease {
	l, err := m.Check(token)
	if err != nil {
		return nil
	}
	return l
}

// Check is Validate with an error: ErrInvalidLease for anything but a live lease.
func (m *LeaseManager) Check(token string) (*model.ThreadLease, error) {
	m.mu.RLock()
	l := m.byToken[token]
	m.mu.RUnlock()
	if l == nil {
		return nil, ErrInvalidLease
	}

	unlock := m.constructs.Lock(l.ConstructID)
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-read under the construct lock; a concurrent acquire may have won.
	cur := m.byToken[token]
	if cur == nil {
		return nil, ErrInvalidLease
	}
	if cur.Expired(m.now()) {
		delete(m.byToken, token)
		if m.byConstruct[cur.ConstructID] == cur {
			delete(m.byConstruct, cur.ConstructID)
		}
		return nil, fmt.Errorf("%w: expired at %s", ErrInvalidLease, cur.ExpiresAt.Format(time.RFC3339))
	}
	out := *cur
	return &out, nil
}

// Holder returns the live lease held by constructID, if any.
func (m *LeaseManager) Holder(constructID string) *model.ThreadLease {
	m.mu.RLock()
	l := m.byConstruct[constructID]
	m.mu.RUnlock()
	if l == nil {
		return nil
	}
	return m.Validate(l.Token)
}

// Len returns the number of leases tracked, including lapsed ones not yet
// observed.
func (m *LeaseManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConstruct)
}
