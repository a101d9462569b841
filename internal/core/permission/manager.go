package permission

import (
	"fmt"
	"sync"

	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// UserRef identifies one user on one platform.
type UserRef struct {
	Platform string
	UserID   string
}

// Manager answers permission checks. Master users pass every check; other
// users need an explicit grant or a node-level default.
type Manager struct {
	store *Store

	mu      sync.RWMutex
	masters map[UserRef]struct{}
}

func NewManager(store *Store, masters []UserRef) *Manager {
	m := &Manager{store: store, masters: make(map[UserRef]struct{}, len(masters))}
	for _, u := range masters {
		m.masters[u] = struct{}{}
	}
	return m
}

// IsMaster reports whether the user is configured as a master.
func (m *Manager) IsMaster(platform, userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.masters[UserRef{platform, userID}]
	return ok
}

// Check reports whether the user may use the node. Unknown nodes deny.
func (m *Manager) Check(platform, userID, node string) (bool, error) {
	if m.IsMaster(platform, userID) {
		return true, nil
	}
	def, found, err := m.store.GetNode(node)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("%q: %w", node, ErrUnknownNode)
	}
	granted, err := m.store.HasGrant(platform, userID, node)
	if err != nil {
		return false, err
	}
	if granted {
		return true, nil
	}
	return def.DefaultGrant, nil
}

// Require is Check folded into a single error: denial and lookup failures
// both surface as errors.
func (m *Manager) Require(platform, userID, node string) error {
	ok, err := m.Check(platform, userID, node)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s:%s lacks %q: %w", platform, userID, node, ErrPermissionDenied)
	}
	return nil
}

// Grant gives the user the node. The node must be registered.
func (m *Manager) Grant(platform, userID, node string) error {
	_, found, err := m.store.GetNode(node)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%q: %w", node, ErrUnknownNode)
	}
	if err := m.store.AddGrant(platform, userID, node); err != nil {
		return err
	}
	logger.Info("[Permission] granted %q to %s:%s", node, platform, userID)
	return nil
}

// Revoke removes the user's grant and reports whether one existed.
func (m *Manager) Revoke(platform, userID, node string) (bool, error) {
	removed, err := m.store.RemoveGrant(platform, userID, node)
	if err == nil && removed {
		logger.Info("[Permission] revoked %q from %s:%s", node, platform, userID)
	}
	return removed, err
}

// RegisterNode registers a node owned by a plugin.
func (m *Manager) RegisterNode(n Node) error {
	return m.store.RegisterNode(n)
}

// Nodes lists every registered node.
func (m *Manager) Nodes() ([]Node, error) {
	return m.store.ListNodes()
}

// UserGrants lists the user's explicit grants.
func (m *Manager) UserGrants(platform, userID string) ([]Grant, error) {
	return m.store.ListGrants(platform, userID)
}
