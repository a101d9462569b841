// Package options defines the lorikeet configuration surface: option structs
// with defaults, pflag bindings, and validation, populated from flags and a
// viper-loaded config file.
package options

import (
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Options aggregates every configuration block.
type Options struct {
	Server       *ServerRunOptions  `json:"server" mapstructure:"server"`
	Models       *ModelOptions      `json:"models" mapstructure:"models"`
	Memory       *MemoryOptions     `json:"three_tier_memory" mapstructure:"three_tier_memory"`
	Permission   *PermissionOptions `json:"permission" mapstructure:"permission"`
	Dependencies *DependencyOptions `json:"dependency_management" mapstructure:"dependency_management"`
	Reply        *ReplyOptions      `json:"reply" mapstructure:"reply"`

	// LogFile receives the structured log, empty for stderr only.
	LogFile string `json:"log-file" mapstructure:"log-file"`
}

// NewOptions creates the defaults for every block.
func NewOptions() *Options {
	return &Options{
		Server:       NewServerRunOptions(),
		Models:       NewModelOptions(),
		Memory:       NewMemoryOptions(),
		Permission:   NewPermissionOptions(),
		Dependencies: NewDependencyOptions(),
		Reply:        NewReplyOptions(),
	}
}

// AddFlags binds every block's flags onto one flag set.
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	o.Server.AddFlags(fs)
	o.Models.AddFlags(fs)
	o.Memory.AddFlags(fs)
	o.Permission.AddFlags(fs)
	o.Dependencies.AddFlags(fs)
	o.Reply.AddFlags(fs)
	fs.StringVar(&o.LogFile, "log-file", o.LogFile, "Log file path, empty for stderr only.")
}

// Validate collects the validation errors of every block.
func (o *Options) Validate() []error {
	var errs []error
	errs = append(errs, o.Server.Validate()...)
	errs = append(errs, o.Models.Validate()...)
	errs = append(errs, o.Memory.Validate()...)
	errs = append(errs, o.Permission.Validate()...)
	errs = append(errs, o.Dependencies.Validate()...)
	errs = append(errs, o.Reply.Validate()...)
	return errs
}

// LoadConfigFile merges a config file over the defaults. Flag values bound
// after this call still win.
func (o *Options) LoadConfigFile(path string) error {
	if path == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	return v.Unmarshal(o)
}
