package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// Config is one plugin's effective configuration: schema defaults merged
// under the plugin-specific user file. Reads go through Get.
type Config struct {
	mu     sync.RWMutex
	plugin string
	v      *viper.Viper
}

// LoadConfig builds the effective config for a plugin. The user file is
// <dir>/<plugin>.toml (or .yaml); a missing file leaves pure defaults.
func LoadConfig(dir, pluginName string, schema []ConfigField) (*Config, error) {
	v := viper.New()
	for _, f := range schema {
		v.SetDefault(f.Key, f.Default)
	}

	if dir != "" {
		v.SetConfigName(pluginName)
		v.AddConfigPath(dir)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errorsAs(err, &notFound) {
				return nil, fmt.Errorf("read config for plugin %q: %w", pluginName, err)
			}
		}
	}

	return &Config{plugin: pluginName, v: v}, nil
}

// errorsAs is a tiny indirection so the viper error type assertion stays in
// one place.
func errorsAs(err error, target *viper.ConfigFileNotFoundError) bool {
	t, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		*target = t
	}
	return ok
}

// Get returns the configured value for key, or fallback when unset.
func (c *Config) Get(key string, fallback interface{}) interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.v.IsSet(key) {
		return fallback
	}
	return c.v.Get(key)
}

// GetString returns a string option.
func (c *Config) GetString(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetString(key)
}

// GetBool returns a boolean option.
func (c *Config) GetBool(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetBool(key)
}

// GetInt returns an integer option.
func (c *Config) GetInt(key string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetInt(key)
}

// GetFloat returns a float option.
func (c *Config) GetFloat(key string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v.GetFloat64(key)
}

// reload re-reads the user file in place.
func (c *Config) reload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.v.ReadInConfig(); err != nil {
		logger.Warn("[Plugin] reload config for %q: %v", c.plugin, err)
	}
}

// ConfigWatcher reloads plugin configs when their files change on disk.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	configs map[string]*Config // keyed by plugin name
	done    chan struct{}
}

// NewConfigWatcher watches dir for plugin config changes. A missing dir is
// created.
func NewConfigWatcher(dir string) (*ConfigWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create plugin config dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch plugin config dir: %w", err)
	}

	cw := &ConfigWatcher{
		watcher: w,
		configs: make(map[string]*Config),
		done:    make(chan struct{}),
	}
	go cw.loop()
	return cw, nil
}

// Track registers a config for hot reload.
func (w *ConfigWatcher) Track(cfg *Config) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.configs[cfg.plugin] = cfg
}

func (w *ConfigWatcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			plugin := name[:len(name)-len(filepath.Ext(name))]
			w.mu.Lock()
			cfg, tracked := w.configs[plugin]
			w.mu.Unlock()
			if tracked {
				logger.Info("[Plugin] config for %q changed on disk, reloading", plugin)
				cfg.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("[Plugin] config watcher: %v", err)
		}
	}
}

// Close stops the watcher.
func (w *ConfigWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
