package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// ServerRunOptions holds the runtime and adapter server configuration.
type ServerRunOptions struct {
	// Addr is the adapter server listen address.
	Addr string `json:"addr" mapstructure:"addr"`

	// QueueSize bounds the inbound envelope queue.
	QueueSize int `json:"queue-size" mapstructure:"queue-size"`

	// WindowSize is the per-stream recent message window.
	WindowSize int `json:"window-size" mapstructure:"window-size"`

	// DataDir is the root for all persisted state.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// PluginConfigDir holds per-plugin config files, watched for reload.
	PluginConfigDir string `json:"plugin-config-dir" mapstructure:"plugin-config-dir"`
}

// NewServerRunOptions returns the documented defaults.
func NewServerRunOptions() *ServerRunOptions {
	return &ServerRunOptions{
		Addr:            "127.0.0.1:11789",
		QueueSize:       1024,
		WindowSize:      50,
		DataDir:         "data",
		PluginConfigDir: "data/plugins",
	}
}

// Validate checks ServerRunOptions fields.
func (o *ServerRunOptions) Validate() []error {
	var errs []error
	if o.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("server queue-size must be positive, got %d", o.QueueSize))
	}
	if o.DataDir == "" {
		errs = append(errs, fmt.Errorf("server data-dir is required"))
	}
	return errs
}

// AddFlags adds flags for the server options.
func (o *ServerRunOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Addr, "server.addr", o.Addr, "Adapter server listen address.")
	fs.IntVar(&o.QueueSize, "server.queue-size", o.QueueSize, "Inbound envelope queue size.")
	fs.IntVar(&o.WindowSize, "server.window-size", o.WindowSize, "Per-stream recent message window size.")
	fs.StringVar(&o.DataDir, "server.data-dir", o.DataDir, "Root directory for persisted state.")
	fs.StringVar(&o.PluginConfigDir, "server.plugin-config-dir", o.PluginConfigDir, "Directory of per-plugin config files.")
}
