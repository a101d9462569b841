package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
)

// DependencyOptions is the dependency_management configuration block.
type DependencyOptions struct {
	// AutoInstall enables fetching missing plugin dependencies at load.
	AutoInstall bool `json:"auto_install" mapstructure:"auto_install"`

	// AutoInstallTimeout bounds one install attempt, in seconds.
	AutoInstallTimeout int `json:"auto_install_timeout" mapstructure:"auto_install_timeout"`

	// UseProxy routes installs through ProxyURL.
	UseProxy bool `json:"use_proxy" mapstructure:"use_proxy"`

	// ProxyURL is the package index proxy, used when UseProxy is set.
	ProxyURL string `json:"proxy_url" mapstructure:"proxy_url"`

	// AllowedAutoInstall restricts installable packages; empty allows all.
	AllowedAutoInstall []string `json:"allowed_auto_install" mapstructure:"allowed_auto_install"`
}

// NewDependencyOptions returns the documented defaults.
func NewDependencyOptions() *DependencyOptions {
	return &DependencyOptions{
		AutoInstall:        false,
		AutoInstallTimeout: 300,
	}
}

// Validate checks DependencyOptions fields.
func (o *DependencyOptions) Validate() []error {
	var errs []error
	if o.AutoInstallTimeout <= 0 {
		errs = append(errs, fmt.Errorf("auto_install_timeout must be positive, got %d", o.AutoInstallTimeout))
	}
	if o.UseProxy && o.ProxyURL == "" {
		errs = append(errs, fmt.Errorf("use_proxy requires proxy_url"))
	}
	return errs
}

// ToPolicy builds the resolver's install policy.
func (o *DependencyOptions) ToPolicy() plugin.InstallPolicy {
	policy := plugin.InstallPolicy{
		AutoInstall: o.AutoInstall,
		Timeout:     time.Duration(o.AutoInstallTimeout) * time.Second,
		Allowlist:   o.AllowedAutoInstall,
	}
	if o.UseProxy {
		policy.Mirror = o.ProxyURL
	}
	return policy
}

// AddFlags adds flags for the dependency options.
func (o *DependencyOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.AutoInstall, "dependency-management.auto-install", o.AutoInstall, "Auto-install missing plugin dependencies.")
	fs.IntVar(&o.AutoInstallTimeout, "dependency-management.auto-install-timeout", o.AutoInstallTimeout, "Install attempt timeout in seconds.")
	fs.BoolVar(&o.UseProxy, "dependency-management.use-proxy", o.UseProxy, "Route installs through the configured proxy.")
	fs.StringVar(&o.ProxyURL, "dependency-management.proxy-url", o.ProxyURL, "Package index proxy URL.")
}
