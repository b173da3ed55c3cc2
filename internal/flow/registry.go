// Package flow decides how the bot reacts to each inbound event and tracks
// which generation job, if any, is running for each user.
package flow

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/rjooske/tabiji/internal/models"
)

// ErrAlreadyInProgress is returned by Registry.Put when the user already has a
// job running.
var ErrAlreadyInProgress = errors.New("generation already in progress for user")

// InProgress is the read-only view of the registry the decision engine needs.
type InProgress interface {
	Get(userID string) (models.NonImmediateAction, bool)
}

// Registry maps a user ID to the single generation job running for that user.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	running map[string]models.NonImmediateAction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{running: make(map[string]models.NonImmediateAction)}
}

// Get returns the job running for userID, if any.
func (r *Registry) Get(userID string) (models.NonImmediateAction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.running[userID]
	return a, ok
}

// Put records action as running for userID. The check and the insert happen
// under one lock, so of two concurrent Puts for the same user exactly one
// succeeds and the other gets ErrAlreadyInProgress.
func (r *Registry) Put(userID string, action models.NonImmediateAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.running[userID]; exists {
		slog.Warn("Registry.Put: entry already present", "user_id", userID, "backend", action.Backend())
		return ErrAlreadyInProgress
	}
	r.running[userID] = action
	slog.Debug("Registry.Put: registered", "user_id", userID, "backend", action.Backend())
	return nil
}

// Remove forgets the job running for userID. It is a no-op if there is none.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, userID)
	slog.Debug("Registry.Remove: released", "user_id", userID)
}

// Len returns the number of users with a running job.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.running)
}

// MapInProgress adapts a plain map to InProgress. It is meant for tests and
// one-off decisions; it is not safe for concurrent mutation.
type MapInProgress map[string]models.NonImmediateAction

// Get implements InProgress.
func (m MapInProgress) Get(userID string) (models.NonImmediateAction, bool) {
	a, ok := m[userID]
	return a, ok
}
