package usecase

import "sync"

// SessionRegistry tracks which patient session, if any, recording output is
// attributed to. Health gating requires an active session before the record
// button is enabled.
type SessionRegistry struct {
	mu     sync.Mutex
	active string

	// OnChange fires after the active session changes.
	OnChange func()
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

// ActiveSessionID returns the current session identifier, or "" when none is
// selected.
func (r *SessionRegistry) ActiveSessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// SetActive selects the session recording output attaches to.
func (r *SessionRegistry) SetActive(id string) {
	r.mu.Lock()
	changed := r.active != id
	r.active = id
	r.mu.Unlock()

	if changed && r.OnChange != nil {
		r.OnChange()
	}
}

// Clear deselects the active session.
func (r *SessionRegistry) Clear() {
	r.SetActive("")
}
