package route

import (
	"sync"
	"time"
)

// SessionOverride pins a session to a model for a bounded or unbounded number
// of turns. RemainingTurns < 0 means unlimited.
type SessionOverride struct {
	Model          string    `json:"model"`
	RemainingTurns int       `json:"remaining_turns"`
	CreatedAt      time.Time `json:"created_at"`
}

type overrideState struct {
	mu       sync.RWMutex
	forced   string
	sessions map[string]*SessionOverride
}

func (o *overrideState) init() {
	o.sessions = make(map[string]*SessionOverride)
}

func (o *overrideState) global() (string, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.forced, o.forced != ""
}

// consumeSession resolves a session override and burns one turn. A session
// whose last turn is consumed is removed.
func (o *overrideState) consumeSession(sessionID string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	so, ok := o.sessions[sessionID]
	if !ok {
		return "", false
	}
	if so.RemainingTurns == 0 {
		delete(o.sessions, sessionID)
		return "", false
	}
	if so.RemainingTurns > 0 {
		so.RemainingTurns--
		if so.RemainingTurns == 0 {
			defer delete(o.sessions, sessionID)
		}
	}
	return so.Model, true
}

// SetGlobalOverride forces all routed requests to one model.
func (r *Router) SetGlobalOverride(model string) {
	r.overrides.mu.Lock()
	defer r.overrides.mu.Unlock()
	r.overrides.forced = model
}

// ClearGlobalOverride removes the global force.
func (r *Router) ClearGlobalOverride() {
	r.overrides.mu.Lock()
	defer r.overrides.mu.Unlock()
	r.overrides.forced = ""
}

// GlobalOverride returns the forced model, or "" when unset.
func (r *Router) GlobalOverride() string {
	m, _ := r.overrides.global()
	return m
}

// SetSessionOverride upserts a per-session override. turns < 0 means the
// override never expires on its own.
func (r *Router) SetSessionOverride(sessionID, model string, turns int) {
	r.overrides.mu.Lock()
	defer r.overrides.mu.Unlock()
	r.overrides.sessions[sessionID] = &SessionOverride{
		Model:          model,
		RemainingTurns: turns,
		CreatedAt:      time.Now().UTC(),
	}
}

// DeleteSessionOverride removes a session override; it reports whether one
// existed.
func (r *Router) DeleteSessionOverride(sessionID string) bool {
	r.overrides.mu.Lock()
	defer r.overrides.mu.Unlock()
	_, ok := r.overrides.sessions[sessionID]
	delete(r.overrides.sessions, sessionID)
	return ok
}

// SessionOverrides returns a snapshot of the current session overrides.
func (r *Router) SessionOverrides() map[string]SessionOverride {
	r.overrides.mu.RLock()
	defer r.overrides.mu.RUnlock()
	out := make(map[string]SessionOverride, len(r.overrides.sessions))
	for id, so := range r.overrides.sessions {
		out[id] = *so
	}
	return out
}
