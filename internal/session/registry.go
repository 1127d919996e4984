package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/codestep/stepd/internal/errors"
)

// Registry tracks live sessions across all front-ends, enforces the
// session cap, and reaps sessions whose owners went silent. Step traffic
// never goes through the registry; it only supervises lifecycle.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*tracked
	maxSessions int
	timeout     time.Duration
	logger      *slog.Logger
	stop        chan struct{}
	stopped     sync.Once
}

type tracked struct {
	session  *Session
	lastUsed time.Time
}

// NewRegistry creates a registry and starts its background reaper.
// A timeout of zero disables reaping.
func NewRegistry(maxSessions int, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		sessions:    make(map[string]*tracked),
		maxSessions: maxSessions,
		timeout:     timeout,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	if timeout > 0 {
		go r.reapLoop()
	}
	return r
}

// Add registers a started session, enforcing the concurrency cap
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.maxSessions {
		return errors.SessionLimitReached(r.maxSessions)
	}
	r.sessions[s.ID] = &tracked{session: s, lastUsed: time.Now()}
	r.logger.Debug("session registered", "session", s.ID, "active", len(r.sessions))
	return nil
}

// Get looks up a session and refreshes its idle clock
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	t.lastUsed = time.Now()
	return t.session, nil
}

// Touch refreshes a session's idle clock without looking it up
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.sessions[id]; ok {
		t.lastUsed = time.Now()
	}
}

// Remove drops a session from tracking. The caller is responsible for
// having finished or terminated it.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// Sessions returns a snapshot of all tracked sessions
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, t := range r.sessions {
		sessions = append(sessions, t.session)
	}
	return sessions
}

// Count returns the number of tracked sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Close terminates every tracked session and stops the reaper
func (r *Registry) Close() {
	r.stopped.Do(func() { close(r.stop) })

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, t := range r.sessions {
		t.session.Terminate()
		delete(r.sessions, id)
	}
}

func (r *Registry) reapLoop() {
	ticker := time.NewTicker(r.timeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapIdle()
		}
	}
}

func (r *Registry) reapIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, t := range r.sessions {
		if t.session.IsFinished() {
			delete(r.sessions, id)
			continue
		}
		if now.Sub(t.lastUsed) > r.timeout {
			r.logger.Info("reaping idle session", "session", id, "idle", now.Sub(t.lastUsed))
			t.session.Terminate()
			delete(r.sessions, id)
		}
	}
}
