// Package sessionmgr tracks liveness sessions currently running inside this
// process, so the HTTP API can look one up by ID and force-stop it without
// routing through the WebSocket that started it.
package sessionmgr

import (
	"sync"

	"github.com/google/uuid"

	"github.com/sssxyd/face-liveness-detector/internal/engine"
)

// Registry maps an active session ID to the Engine instance running it.
// Satisfies handlers.SessionRegistry structurally.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*engine.Engine
}

func New() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*engine.Engine)}
}

// Register records a newly started session. Callers must Unregister once
// StartDetection returns.
func (r *Registry) Register(sessionID uuid.UUID, e *engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sessionID] = e
}

func (r *Registry) Unregister(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// Stop force-stops a running session. Returns false if no such session is
// currently active in this process.
func (r *Registry) Stop(sessionID uuid.UUID, success bool) bool {
	r.mu.RLock()
	e, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	e.StopDetection(success)
	return true
}

// Count returns the number of sessions currently tracked.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
