package auth

import (
	"context"
	"sync"
	"time"
)

// LoginTracker records failed logins per email and decides lockouts
type LoginTracker interface {
	// CheckLocked returns the remaining lockout for key, or zero
	CheckLocked(ctx context.Context, key string) (time.Duration, error)
	// RegisterFailure records a failed attempt. When the failure locks the
	// key it returns the lockout duration, otherwise zero.
	RegisterFailure(ctx context.Context, key string) (time.Duration, error)
	// Reset forgets all state for key
	Reset(ctx context.Context, key string) error
}

// TrackerConfig configures lockout behaviour
type TrackerConfig struct {
	MaxAttempts int
	Lockout     time.Duration
	Window      time.Duration
}

type attemptState struct {
	failures    []time.Time
	lockedUntil time.Time
}

// MemoryTracker is a process-local LoginTracker. It is only correct for
// single-process deployments.
type MemoryTracker struct {
	cfg     TrackerConfig
	mu      sync.Mutex
	entries map[string]*attemptState
	now     func() time.Time
}

// NewMemoryTracker creates an in-memory tracker
func NewMemoryTracker(cfg TrackerConfig) *MemoryTracker {
	return &MemoryTracker{
		cfg:     cfg,
		entries: make(map[string]*attemptState),
		now:     time.Now,
	}
}

// CheckLocked implements LoginTracker
func (t *MemoryTracker) CheckLocked(_ context.Context, key string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.entries[key]
	if !ok {
		return 0, nil
	}
	now := t.now()
	if !st.lockedUntil.IsZero() {
		if now.Before(st.lockedUntil) {
			return st.lockedUntil.Sub(now), nil
		}
		// lock expired: start over with a clean window
		delete(t.entries, key)
		return 0, nil
	}
	t.prune(key, st, now)
	return 0, nil
}

// RegisterFailure implements LoginTracker
func (t *MemoryTracker) RegisterFailure(_ context.Context, key string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st, ok := t.entries[key]
	if !ok {
		st = &attemptState{}
		t.entries[key] = st
	}
	if !st.lockedUntil.IsZero() && now.Before(st.lockedUntil) {
		return st.lockedUntil.Sub(now), nil
	}
	st.lockedUntil = time.Time{}

	cutoff := now.Add(-t.cfg.Window)
	kept := st.failures[:0]
	for _, f := range st.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	st.failures = append(kept, now)

	if len(st.failures) >= t.cfg.MaxAttempts {
		st.lockedUntil = now.Add(t.cfg.Lockout)
		st.failures = nil
		return t.cfg.Lockout, nil
	}
	return 0, nil
}

// Reset implements LoginTracker
func (t *MemoryTracker) Reset(_ context.Context, key string) error {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
	return nil
}

// prune drops failures outside the window and removes empty entries.
// Callers hold t.mu.
func (t *MemoryTracker) prune(key string, st *attemptState, now time.Time) {
	cutoff := now.Add(-t.cfg.Window)
	kept := st.failures[:0]
	for _, f := range st.failures {
		if f.After(cutoff) {
			kept = append(kept, f)
		}
	}
	st.failures = kept
	if len(st.failures) == 0 && st.lockedUntil.IsZero() {
		delete(t.entries, key)
	}
}

// Len returns the number of tracked keys
func (t *MemoryTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
