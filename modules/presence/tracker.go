// Package presence tracks which users are online in each project.
//
// A user is online in a project while at least one of their connections has
// joined it and has sent a heartbeat within the timeout. Several tabs of the
// same user count as one identity that goes offline only with its last
// connection.
package presence

import (
	"errors"
	"sort"
	"sync"
	"time"

	domain "github.com/luisnisc/flowpilot-sub000/domain/chat"
)

var (
	// ErrProjectIDRequired is returned when a project id is missing.
	ErrProjectIDRequired = errors.New("project id is required")
	// ErrIdentityRequired is returned when a user identity is missing.
	ErrIdentityRequired = errors.New("user identity is required")
)

// Notifier observes presence transitions. It is called with the tracker lock
// held, so implementations must not block or call back into the tracker.
type Notifier interface {
	PresenceChanged(projectID string, online []string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(projectID string, online []string)

// PresenceChanged calls f.
func (f NotifierFunc) PresenceChanged(projectID string, online []string) {
	f(projectID, online)
}

type connEntry struct {
	identity      string
	lastHeartbeat time.Time
}

// Tracker holds the presence state of a single process.
type Tracker struct {
	mu        sync.Mutex
	timeout   time.Duration
	now       func() time.Time
	notifiers []Notifier

	// project -> connID -> entry
	projects map[string]map[string]*connEntry
	// connID -> set of projects
	conns map[string]map[string]struct{}
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithNotifier adds an observer of presence changes.
func WithNotifier(n Notifier) Option {
	return func(t *Tracker) { t.notifiers = append(t.notifiers, n) }
}

// NewTracker creates a tracker that expires connections silent for longer
// than timeout.
func NewTracker(timeout time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		timeout:  timeout,
		now:      time.Now,
		projects: make(map[string]map[string]*connEntry),
		conns:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AddNotifier registers an observer after construction.
func (t *Tracker) AddNotifier(n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifiers = append(t.notifiers, n)
}

// Timeout returns the heartbeat timeout.
func (t *Tracker) Timeout() time.Duration {
	return t.timeout
}

// Join marks identity online in projectID through connID and returns the
// online list.
func (t *Tracker) Join(projectID, connID, identity string) ([]string, error) {
	return t.touch(projectID, connID, identity)
}

// Heartbeat refreshes connID in projectID. An unknown connection is joined.
func (t *Tracker) Heartbeat(projectID, connID, identity string) ([]string, error) {
	return t.touch(projectID, connID, identity)
}

func (t *Tracker) touch(projectID, connID, identity string) ([]string, error) {
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}
	identity = domain.NormalizeIdentity(identity)
	if identity == "" {
		return nil, ErrIdentityRequired
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entries, ok := t.projects[projectID]
	if !ok {
		entries = make(map[string]*connEntry)
		t.projects[projectID] = entries
	}
	entries[connID] = &connEntry{identity: identity, lastHeartbeat: t.now()}

	projects, ok := t.conns[connID]
	if !ok {
		projects = make(map[string]struct{})
		t.conns[connID] = projects
	}
	projects[projectID] = struct{}{}

	online := t.onlineLocked(projectID)
	t.notifyLocked(projectID, online)
	return online, nil
}

// Leave removes connID from projectID. changed is false when the connection
// was not present.
func (t *Tracker) Leave(projectID, connID string) (online []string, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.removeLocked(projectID, connID) {
		return t.onlineLocked(projectID), false
	}
	online = t.onlineLocked(projectID)
	t.notifyLocked(projectID, online)
	return online, true
}

// Disconnect removes connID from every project and returns the new online list
// of each affected project.
func (t *Tracker) Disconnect(connID string) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	projects := t.conns[connID]
	if len(projects) == 0 {
		return nil
	}
	changed := make(map[string][]string, len(projects))
	for projectID := range projects {
		t.removeLocked(projectID, connID)
		online := t.onlineLocked(projectID)
		changed[projectID] = online
		t.notifyLocked(projectID, online)
	}
	return changed
}

// Sweep expires connections whose last heartbeat is older than the timeout
// and returns the projects whose online list changed.
func (t *Tracker) Sweep(now time.Time) map[string][]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed map[string][]string
	for projectID, entries := range t.projects {
		before := t.onlineLocked(projectID)
		expired := false
		for connID, e := range entries {
			if now.Sub(e.lastHeartbeat) > t.timeout {
				t.removeLocked(projectID, connID)
				expired = true
			}
		}
		if !expired {
			continue
		}
		after := t.onlineLocked(projectID)
		if equalLists(before, after) {
			continue
		}
		if changed == nil {
			changed = make(map[string][]string)
		}
		changed[projectID] = after
		t.notifyLocked(projectID, after)
	}
	return changed
}

// Online returns the sorted identities online in projectID.
func (t *Tracker) Online(projectID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.onlineLocked(projectID)
}

// Projects returns the number of projects with at least one connection.
func (t *Tracker) Projects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.projects)
}

func (t *Tracker) removeLocked(projectID, connID string) bool {
	entries, ok := t.projects[projectID]
	if !ok {
		return false
	}
	if _, ok := entries[connID]; !ok {
		return false
	}
	delete(entries, connID)
	if len(entries) == 0 {
		delete(t.projects, projectID)
	}
	if projects, ok := t.conns[connID]; ok {
		delete(projects, projectID)
		if len(projects) == 0 {
			delete(t.conns, connID)
		}
	}
	return true
}

func (t *Tracker) onlineLocked(projectID string) []string {
	seen := make(map[string]struct{})
	online := make([]string, 0, len(t.projects[projectID]))
	for _, e := range t.projects[projectID] {
		if _, ok := seen[e.identity]; ok {
			continue
		}
		seen[e.identity] = struct{}{}
		online = append(online, e.identity)
	}
	sort.Strings(online)
	return online
}

func (t *Tracker) notifyLocked(projectID string, online []string) {
	for _, n := range t.notifiers {
		n.PresenceChanged(projectID, online)
	}
}

func equalLists(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
