// Package gesture classifies raw press-down/press-up pairs into taps and holds.
package gesture

import (
	"sync"
	"time"
)

// PressSession identifies one physical press.
type PressSession struct {
	Token     uint64
	StartedAt time.Time
	Active    bool
}

// Tracker owns the current PressSession. The token advances on every
// press-down and press-up so older continuations can detect they are stale.
type Tracker struct {
	mu      sync.Mutex
	current PressSession
}

// NewTracker returns a tracker with no press held.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Current returns the latest press token.
func (t *Tracker) Current() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Token
}

// Held reports whether the current press is physically held.
func (t *Tracker) Held() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Active
}

// Snapshot returns a copy of the current PressSession.
func (t *Tracker) Snapshot() PressSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *Tracker) down(now time.Time) PressSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = PressSession{
		Token:     t.current.Token + 1,
		StartedAt: now,
		Active:    true,
	}
	return t.current
}

func (t *Tracker) up() PressSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current.Token++
	t.current.Active = false
	return t.current
}
