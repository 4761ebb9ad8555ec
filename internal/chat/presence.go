package chat

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry tracks which connections are live for each user within this
// process. It holds no locks while calling out and never blocks, so it is safe
// to consult from the router's hot path.
type Registry struct {
	logger *slog.Logger

	mu     sync.RWMutex
	byUser map[string]map[string]struct{}
	owners map[string]string
}

// NewRegistry initialises an empty presence registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		byUser: make(map[string]map[string]struct{}),
		owners: make(map[string]string),
	}
}

// Register binds a connection to a user. Re-registering the same pair is an
// idempotent no-op; a connection ID can only ever belong to one user, so a
// claim for a different user is rejected.
func (r *Registry) Register(userID, connectionID string) error {
	if userID == "" || connectionID == "" {
		return errors.New("user and connection IDs are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, exists := r.owners[connectionID]; exists {
		if owner == userID {
			r.logger.Warn("connection already registered", "userId", userID, "connectionId", connectionID)
			return nil
		}
		return fmt.Errorf("connection %s already bound to another user", connectionID)
	}

	connections := r.byUser[userID]
	if connections == nil {
		connections = make(map[string]struct{})
		r.byUser[userID] = connections
	}
	connections[connectionID] = struct{}{}
	r.owners[connectionID] = userID
	return nil
}

// Deregister removes a connection binding. Unknown pairs are a no-op so the
// close path stays idempotent.
func (r *Registry) Deregister(userID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	connections, ok := r.byUser[userID]
	if !ok {
		return
	}
	if _, ok := connections[connectionID]; !ok {
		return
	}
	delete(connections, connectionID)
	delete(r.owners, connectionID)
	if len(connections) == 0 {
		delete(r.byUser, userID)
	}
}

// Connections returns a snapshot of the user's live connection IDs.
func (r *Registry) Connections(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	connections := r.byUser[userID]
	if len(connections) == 0 {
		return nil
	}
	ids := make([]string, 0, len(connections))
	for id := range connections {
		ids = append(ids, id)
	}
	return ids
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionUser resolves the user a connection is bound to.
func (r *Registry) ConnectionUser(connectionID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.owners[connectionID]
	return userID, ok
}

// OnlineUsers reports how many users currently have live connections.
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
