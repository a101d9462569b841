package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/lorikeet-ai/lorikeet/internal/core/event"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// State tracks where a plugin sits in its lifecycle.
type State string

const (
	StateRegistered State = "registered"
	StateLoaded     State = "loaded"
	StateEnabled    State = "enabled"
	StateDisabled   State = "disabled"
	StateFailed     State = "failed"
)

type hosted struct {
	plugin Plugin
	state  State
	config *Config
	err    error
}

// Host owns the full plugin lifecycle: dependency resolution, load,
// component registration, event subscription, enable, and the reverse on
// shutdown. One failing plugin never takes the others down.
type Host struct {
	registry *Registry
	events   *event.Manager
	resolver *Resolver
	watcher  *ConfigWatcher
	cfgDir   string

	mu      sync.Mutex
	plugins map[string]*hosted
	order   []string
}

// NewHost wires a host. watcher may be nil when hot reload is off.
func NewHost(registry *Registry, events *event.Manager, resolver *Resolver, cfgDir string, watcher *ConfigWatcher) *Host {
	return &Host{
		registry: registry,
		events:   events,
		resolver: resolver,
		watcher:  watcher,
		cfgDir:   cfgDir,
		plugins:  make(map[string]*hosted),
	}
}

// Registry exposes the component registry.
func (h *Host) Registry() *Registry { return h.registry }

// AddPlugin registers a plugin for the next LoadAll. Duplicate names fail.
func (h *Host) AddPlugin(p Plugin) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	name := p.Name()
	if name == "" {
		return fmt.Errorf("plugin with empty name: %w", ErrPluginLoadFault)
	}
	if _, ok := h.plugins[name]; ok {
		return fmt.Errorf("plugin %q already added: %w", name, ErrPluginLoadFault)
	}
	h.plugins[name] = &hosted{plugin: p, state: StateRegistered}
	h.order = append(h.order, name)
	return nil
}

// LoadAll runs the load and enable sequence for every registered plugin in
// registration order. A plugin failing at any step is rolled back, marked
// failed, and the rest continue.
func (h *Host) LoadAll(ctx context.Context) {
	h.mu.Lock()
	names := append([]string(nil), h.order...)
	h.mu.Unlock()

	for _, name := range names {
		if err := h.loadOne(ctx, name); err != nil {
			logger.Error("[Plugin] plugin %q failed to load: %v", name, err)
		}
	}
}

func (h *Host) loadOne(ctx context.Context, name string) error {
	h.mu.Lock()
	entry, ok := h.plugins[name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q not added: %w", name, ErrPluginLoadFault)
	}
	p := entry.plugin

	fail := func(err error) error {
		h.events.UnsubscribePlugin(name)
		h.registry.UnregisterPlugin(name)
		h.mu.Lock()
		entry.state = StateFailed
		entry.err = err
		h.mu.Unlock()
		return err
	}

	if h.resolver != nil {
		if err := h.resolver.Resolve(ctx, name, p.Dependencies()); err != nil {
			return fail(err)
		}
	}

	cfg, err := LoadConfig(h.cfgDir, name, p.ConfigSchema())
	if err != nil {
		return fail(err)
	}
	if h.watcher != nil {
		h.watcher.Track(cfg)
	}

	if loadable, ok := p.(Loadable); ok {
		if err := safeHook(func() error { return loadable.OnLoad(ctx, cfg) }); err != nil {
			return fail(fmt.Errorf("on_load: %w", err))
		}
	}

	for _, c := range p.Components() {
		c.Info.Plugin = name
		if err := h.registry.Register(c); err != nil {
			return fail(err)
		}
		if handler, ok := c.Impl.(EventHandlerLike); ok && c.Info.Kind == KindEventHandler {
			h.subscribeHandler(name, c.Info.Name, handler)
		}
	}

	if enableable, ok := p.(Enableable); ok {
		if err := safeHook(func() error { return enableable.OnEnable(ctx) }); err != nil {
			return fail(fmt.Errorf("on_enable: %w", err))
		}
	}

	h.mu.Lock()
	entry.state = StateEnabled
	entry.config = cfg
	entry.err = nil
	h.mu.Unlock()
	logger.Info("[Plugin] plugin %q v%s enabled with %d components", name, p.Version(), len(p.Components()))
	return nil
}

func (h *Host) subscribeHandler(pluginName, handlerName string, handler EventHandlerLike) {
	for _, ev := range handler.Subscriptions() {
		h.events.Subscribe(event.Subscription{
			Event:       ev,
			HandlerName: handlerName,
			Weight:      handler.Weight(),
			Intercept:   handler.Intercepting(),
			PluginName:  pluginName,
			Handler: func(params event.Params) event.HandlerResult {
				return handler.Handle(ev, params)
			},
		})
	}
}

// Disable runs on_disable, drops event subscriptions, and unregisters the
// plugin's components. The plugin stays known and can not be re-enabled
// without a restart.
func (h *Host) Disable(ctx context.Context, name string) error {
	h.mu.Lock()
	entry, ok := h.plugins[name]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("plugin %q not added: %w", name, ErrPluginLoadFault)
	}

	if disableable, ok := entry.plugin.(Disableable); ok {
		if err := safeHook(func() error { return disableable.OnDisable(ctx) }); err != nil {
			logger.Warn("[Plugin] on_disable of %q: %v", name, err)
		}
	}
	h.events.UnsubscribePlugin(name)
	h.registry.UnregisterPlugin(name)

	h.mu.Lock()
	entry.state = StateDisabled
	h.mu.Unlock()
	return nil
}

// UnloadAll disables every enabled plugin in reverse registration order and
// runs the on_unload hooks.
func (h *Host) UnloadAll(ctx context.Context) {
	h.mu.Lock()
	names := append([]string(nil), h.order...)
	h.mu.Unlock()

	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		h.mu.Lock()
		entry := h.plugins[name]
		state := entry.state
		h.mu.Unlock()

		if state == StateEnabled {
			_ = h.Disable(ctx, name)
		}
		if unloadable, ok := entry.plugin.(Unloadable); ok {
			if err := safeHook(func() error { return unloadable.OnUnload(ctx) }); err != nil {
				logger.Warn("[Plugin] on_unload of %q: %v", name, err)
			}
		}
	}
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}

// PluginState reports the lifecycle state and last error of a plugin.
func (h *Host) PluginState(name string) (State, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry, ok := h.plugins[name]
	if !ok {
		return "", fmt.Errorf("plugin %q not added: %w", name, ErrPluginLoadFault)
	}
	return entry.state, entry.err
}

// Plugins lists plugin names in registration order.
func (h *Host) Plugins() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.order...)
}

// safeHook invokes a lifecycle hook and converts panics into errors.
func safeHook(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic: %v", r)
		}
	}()
	return fn()
}
