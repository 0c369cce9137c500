package tabs

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TabID is the handle the daemon assigns to a page target for its lifetime.
type TabID int

// Session states reported through SessionInfo.
const (
	StateRunning     = "running"
	StateRetrying    = "retrying"
	StateReattaching = "reattaching"
	StateTerminated  = "terminated"
)

// Session is one solving run for a tab. Only the loop that owns it mutates it;
// the setters lock so API readers get a consistent view.
type Session struct {
	ID      string
	Tab     TabID
	Started time.Time

	mu          sync.Mutex
	state       string
	retryCount  int
	lastClicked int64
	clicks      int
}

// SessionInfo is a point-in-time copy of a Session.
type SessionInfo struct {
	ID          string    `json:"id"`
	TabID       int       `json:"tab_id"`
	Started     time.Time `json:"started"`
	State       string    `json:"state"`
	RetryCount  int       `json:"retry_count"`
	LastClicked int64     `json:"last_clicked,omitempty" doc:"Backend node id of the last clicked candidate"`
	Clicks      int       `json:"clicks"`
}

func (s *Session) SetState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) SetRetryCount(n int) {
	s.mu.Lock()
	s.retryCount = n
	s.mu.Unlock()
}

// RecordClick stores the clicked element and bumps the click counter.
func (s *Session) RecordClick(backendNodeID int64) {
	s.mu.Lock()
	s.lastClicked = backendNodeID
	s.clicks++
	s.mu.Unlock()
}

// LastClicked returns the backend node id of the last clicked element, 0 if none.
func (s *Session) LastClicked() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClicked
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		ID:          s.ID,
		TabID:       int(s.Tab),
		Started:     s.Started,
		State:       s.state,
		RetryCount:  s.retryCount,
		LastClicked: s.lastClicked,
		Clicks:      s.clicks,
	}
}

// Registry tracks the tabs under active solving. Membership of a tab's current
// Session is what keeps its loop alive.
type Registry struct {
	mu       sync.RWMutex
	sessions map[TabID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[TabID]*Session)}
}

// Activate creates a Session for tab. If the tab already has one it is
// returned with created=false and nothing changes.
func (r *Registry) Activate(tab TabID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[tab]; ok {
		return s, false
	}
	s := &Session{
		ID:      uuid.New().String(),
		Tab:     tab,
		Started: time.Now(),
		state:   StateRunning,
	}
	r.sessions[tab] = s
	return s, true
}

// Deactivate removes whatever Session the tab has. Returns false when the tab
// was not tracked.
func (r *Registry) Deactivate(tab TabID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[tab]; !ok {
		return false
	}
	delete(r.sessions, tab)
	return true
}

// Release removes s only if it is still the tab's current Session, so a
// finishing run never evicts a newer one.
func (r *Registry) Release(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[s.Tab]; ok && cur == s {
		delete(r.sessions, s.Tab)
		return true
	}
	return false
}

// IsCurrent reports whether s is still the live Session for its tab.
func (r *Registry) IsCurrent(s *Session) bool {
	if s == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[s.Tab] == s
}

func (r *Registry) Contains(tab TabID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[tab]
	return ok
}

func (r *Registry) Get(tab TabID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[tab]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns snapshots of all live sessions ordered by tab.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}
