package event

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// Manager delivers events to subscribed handlers in weight order and then
// notifies direct listeners. Thread-safe: subscription tables are guarded
// by an RWMutex; dispatch runs on a snapshot so handlers may subscribe or
// trigger further events freely.
type Manager struct {
	mu sync.RWMutex

	// subs maps event name to subscriptions in subscription order.
	subs map[Name][]*Subscription

	// listeners maps event name to named direct listeners in registration
	// order. The key inside is the listener id (e.g. the scheduler's).
	listeners map[Name][]directEntry
}

type directEntry struct {
	id string
	fn DirectListener
}

// NewManager creates an empty event manager.
func NewManager() *Manager {
	return &Manager{
		subs:      make(map[Name][]*Subscription),
		listeners: make(map[Name][]directEntry),
	}
}

// Subscribe registers a handler for the event. The subscription keeps its
// registration index for tie-breaking among equal weights.
func (m *Manager) Subscribe(sub Subscription) error {
	if sub.Handler == nil {
		return fmt.Errorf("subscribe %q: nil handler", sub.Event)
	}
	if sub.PermissionGroup == "" {
		sub.PermissionGroup = PermissionGroupSystem
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.Event] = append(m.subs[sub.Event], &sub)
	return nil
}

// UnsubscribePlugin removes every subscription owned by the given plugin.
// Used when a plugin is disabled or fails to load.
func (m *Manager) UnsubscribePlugin(pluginName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for name, subs := range m.subs {
		kept := subs[:0]
		for _, s := range subs {
			if s.PluginName == pluginName {
				removed++
				continue
			}
			kept = append(kept, s)
		}
		m.subs[name] = kept
	}
	return removed
}

// RegisterDirectListener installs a named zero-latency callback invoked
// after handler dispatch for the event. Listeners cannot intercept.
func (m *Manager) RegisterDirectListener(name Name, id string, fn DirectListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[name] = append(m.listeners[name], directEntry{id: id, fn: fn})
}

// UnregisterDirectListener removes the listener with the given id.
func (m *Manager) UnregisterDirectListener(name Name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.listeners[name]
	kept := entries[:0]
	for _, e := range entries {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(m.listeners, name)
		return
	}
	m.listeners[name] = kept
}

// HasDirectListener reports whether a listener with the given id is
// registered for the event.
func (m *Manager) HasDirectListener(name Name, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.listeners[name] {
		if e.id == id {
			return true
		}
	}
	return false
}

// Trigger dispatches the event to matching handlers in descending weight
// order (subscription order breaks ties), stopping at the first handler
// that returns ContinueProcess=false, then invokes every direct listener
// with the same params.
func (m *Manager) Trigger(name Name, permissionGroup string, params Params) AggregatedResult {
	if permissionGroup == "" {
		permissionGroup = PermissionGroupSystem
	}
	if params == nil {
		params = Params{}
	}

	m.mu.RLock()
	subs := make([]*Subscription, len(m.subs[name]))
	copy(subs, m.subs[name])
	directs := make([]directEntry, len(m.listeners[name]))
	copy(directs, m.listeners[name])
	m.mu.RUnlock()

	// Stable sort keeps subscription order among equal weights.
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].Weight > subs[j].Weight
	})

	result := AggregatedResult{AllSuccess: true, InterceptedBy: -1}
	for _, sub := range subs {
		if !groupMatches(permissionGroup, sub.PermissionGroup) {
			continue
		}
		hr := m.invoke(sub, params)
		result.Results = append(result.Results, hr)
		if !hr.Success {
			result.AllSuccess = false
		}
		if !hr.ContinueProcess {
			result.InterceptedBy = len(result.Results) - 1
			logger.Debug("[Event] %q intercepted by handler %q", name, hr.HandlerName)
			break
		}
	}

	for _, d := range directs {
		d.fn(name, params)
	}
	return result
}

// invoke runs one handler, converting a panic into a failed result. A
// panicking handler never stops the chain for later handlers.
func (m *Manager) invoke(sub *Subscription, params Params) (hr HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Event] handler %q for %q panicked: %v", sub.HandlerName, sub.Event, r)
			hr = HandlerResult{
				Success:         false,
				ContinueProcess: true,
				Message:         fmt.Sprintf("panic: %v", r),
				HandlerName:     sub.HandlerName,
			}
		}
	}()

	hr = sub.Handler(params)
	if hr.HandlerName == "" {
		hr.HandlerName = sub.HandlerName
	}
	return hr
}

// groupMatches applies the permission scoping rule: SYSTEM on either side
// matches everything, otherwise groups must be equal.
func groupMatches(triggerGroup, handlerGroup string) bool {
	if triggerGroup == PermissionGroupSystem || handlerGroup == PermissionGroupSystem {
		return true
	}
	return triggerGroup == handlerGroup
}

// SubscriberCount returns the number of handlers subscribed to the event.
func (m *Manager) SubscriberCount(name Name) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[name])
}
