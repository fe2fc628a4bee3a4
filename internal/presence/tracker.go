package presence

import (
	"sync"
	"time"
)

// Tracker keeps the set of live connections per user. A user is online while
// at least one connection is registered; the offline transition and the
// last-seen stamp are taken under the same lock so a racing second device
// cannot be observed as offline.
type Tracker struct {
	mu       sync.Mutex
	conns    map[string]map[string]struct{} // userID -> connIDs
	lastSeen map[string]time.Time
	now      func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		conns:    make(map[string]map[string]struct{}),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// MarkOnline registers a connection and reports whether the user just
// transitioned from offline to online.
func (t *Tracker) MarkOnline(userID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		t.conns[userID] = set
	}
	set[connID] = struct{}{}
	return len(set) == 1
}

// MarkOffline drops a connection and reports whether the user just went
// offline, together with the recorded last-seen time.
func (t *Tracker) MarkOffline(userID, connID string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	set, ok := t.conns[userID]
	if !ok {
		return false, t.lastSeen[userID]
	}
	delete(set, connID)
	if len(set) > 0 {
		return false, time.Time{}
	}
	delete(t.conns, userID)
	now := t.now().UTC()
	t.lastSeen[userID] = now
	return true, now
}

func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[userID]) > 0
}

// LastSeen returns the true recorded value; privacy filtering happens in the
// service layer.
func (t *Tracker) LastSeen(userID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.lastSeen[userID]
	return ts, ok
}
