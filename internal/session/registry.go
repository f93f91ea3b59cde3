package session

import (
	"context"
	"sync"
	"time"

	"github.com/lucasdeangeli4scale/disparaai/internal/contacts"
	"github.com/lucasdeangeli4scale/disparaai/pkg/logging"
)

// View is a read-only copy of a session for status and debug surfaces.
type View struct {
	UserID            string            `json:"user_id"`
	Step              Step              `json:"current_step"`
	Stats             contacts.Stats    `json:"stats"`
	HasImage          bool              `json:"has_image"`
	HasTextContext    bool              `json:"has_text_context"`
	CopyOptions       int               `json:"copy_options"`
	SelectedCopy      bool              `json:"has_selected_copy"`
	CampaignID        string            `json:"campaign_id,omitempty"`
	Progress          *ProgressSnapshot `json:"progress,omitempty"`
	HistoryLen        int               `json:"conversation_length"`
	CreatedAt         time.Time         `json:"created_at"`
	LastInteractionAt time.Time         `json:"last_interaction_at"`
}

// ViewOf builds a View from s. The caller must hold the user's lock.
func ViewOf(s *Session) View {
	v := View{
		UserID:            s.UserID,
		Step:              s.Step,
		Stats:             s.Campaign.Stats,
		HasImage:          s.Campaign.Image != nil,
		HasTextContext:    s.Campaign.TextContext != "",
		CopyOptions:       len(s.Campaign.CopyOptions),
		SelectedCopy:      s.Campaign.SelectedCopy != "",
		CampaignID:        s.Campaign.CampaignID,
		HistoryLen:        len(s.History),
		CreatedAt:         s.CreatedAt,
		LastInteractionAt: s.LastInteractionAt,
	}
	if s.Campaign.Progress != nil {
		snap := s.Campaign.Progress.Snapshot()
		v.Progress = &snap
	}
	return v
}

type entry struct {
	mu      sync.Mutex
	sess    *Session
	removed bool
}

// Registry owns every live session, keyed by user id, with one lock per user.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	logger  *logging.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logging.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Now returns the registry clock reading.
func (r *Registry) Now() time.Time {
	return r.now()
}

func (r *Registry) entryFor(userID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[userID]
	if !ok {
		e = &entry{sess: newSession(userID, r.now())}
		r.entries[userID] = e
	}
	return e
}

// lock returns the user's entry locked, creating the session on first contact.
// An entry removed by a concurrent sweep is replaced before returning.
func (r *Registry) lock(userID string) *entry {
	for {
		e := r.entryFor(userID)
		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// WithLock runs fn with exclusive access to the user's session.
func (r *Registry) WithLock(userID string, fn func(*Session) error) error {
	e := r.lock(userID)
	defer e.mu.Unlock()
	return fn(e.sess)
}

// Load returns a view of the user's session, creating it if needed.
func (r *Registry) Load(userID string) View {
	e := r.lock(userID)
	defer e.mu.Unlock()
	return ViewOf(e.sess)
}

// Snapshot returns a view of an existing session without creating one.
func (r *Registry) Snapshot(userID string) (View, bool) {
	r.mu.Lock()
	e, ok := r.entries[userID]
	r.mu.Unlock()
	if !ok {
		return View{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return View{}, false
	}
	return ViewOf(e.sess), true
}

// Reset returns the user's workflow to welcome.
func (r *Registry) Reset(userID string) {
	_ = r.WithLock(userID, func(s *Session) error {
		s.ResetWorkflow()
		return nil
	})
}

// Delete drops the user's session. Background work holding a reference keeps
// its copy, but later turns start a fresh session.
func (r *Registry) Delete(userID string) bool {
	r.mu.Lock()
	e, ok := r.entries[userID]
	if ok {
		delete(r.entries, userID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep removes sessions idle for longer than maxAge. Sessions that are
// locked, generating copy or still dispatching are skipped.
func (r *Registry) Sweep(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)
	removed := 0

	r.mu.Lock()
	defer r.mu.Unlock()
	for userID, e := range r.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.sess.LastInteractionAt.Before(cutoff) && !inFlight(e.sess) {
			e.removed = true
			delete(r.entries, userID)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// RunSweeper calls Sweep on every tick until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 || maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(maxAge); n > 0 {
				r.logger.Info("session: swept idle sessions", "removed", n, "remaining", r.Len())
			}
		}
	}
}

// inFlight reports whether a background actor still owns s.
func inFlight(s *Session) bool {
	switch s.Step {
	case StepGeneratingCopy:
		return true
	case StepExecutingCampaign:
		return !s.Campaign.Completed()
	}
	return false
}
