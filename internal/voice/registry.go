package voice

import (
	"maps"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Opener builds a session for an admitted key. It runs while the registry is
// locked, so a failure leaves no entry behind.
type Opener func(id string, key Key) (*CaptureSession, error)

// Registry tracks the active capture session of every (channel, user) pair.
type Registry struct {
	logger   *zap.Logger
	sessions map[Key]*CaptureSession
	mu       sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:   logger,
		sessions: make(map[Key]*CaptureSession),
	}
}

// Admit creates and registers a session for key unless one is already active.
// The returned session has not been started.
func (r *Registry) Admit(key Key, open Opener) (*CaptureSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[key]; exists {
		return nil, ErrAlreadyActive
	}

	id := uuid.NewString()
	session, err := open(id, key)
	if err != nil {
		return nil, err
	}

	session.release = r.release
	r.sessions[key] = session

	r.logger.Debug("Capture session admitted",
		zap.String("channel_id", key.ChannelID.String()),
		zap.String("user_id", key.UserID.String()),
		zap.String("session_id", id))

	return session, nil
}

// Remove drops key from the registry. Removing an absent key is a no-op.
func (r *Registry) Remove(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[key]; !exists {
		return false
	}
	delete(r.sessions, key)

	return true
}

// release removes s only if it is still the registered session for its key.
func (r *Registry) release(s *CaptureSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, exists := r.sessions[s.key]; exists && current == s {
		delete(r.sessions, s.key)
	}
}

// IsActive reports whether key has a live session.
func (r *Registry) IsActive(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.sessions[key]

	return exists
}

// Get returns the live session for key.
func (r *Registry) Get(key Key) (*CaptureSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[key]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session, nil
}

// Active returns a snapshot of all live sessions.
func (r *Registry) Active() map[Key]*CaptureSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make(map[Key]*CaptureSession, len(r.sessions))
	maps.Copy(sessions, r.sessions)

	return sessions
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}
