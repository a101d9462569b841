package plugin

import (
	"context"
	"fmt"
	"time"

	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// Installer abstracts the mechanism that checks for and installs plugin
// runtime dependencies.
type Installer interface {
	// Installed reports whether importName satisfies the version range.
	Installed(importName, version string) bool

	// Install fetches installName at the version range.
	Install(ctx context.Context, installName, version string) error
}

// InstallPolicy mirrors the dependency_management configuration block.
type InstallPolicy struct {
	// AutoInstall enables fetching missing dependencies at plugin load.
	AutoInstall bool

	// Timeout bounds a single install attempt.
	Timeout time.Duration

	// Mirror overrides the default package index, empty for the default.
	Mirror string

	// Allowlist restricts installable packages; empty allows all.
	Allowlist []string
}

// Resolver checks a plugin's declared dependencies against the installer,
// honoring the install policy.
type Resolver struct {
	installer Installer
	policy    InstallPolicy
}

// NewResolver builds a resolver. A nil installer treats every dependency as
// missing.
func NewResolver(installer Installer, policy InstallPolicy) *Resolver {
	if policy.Timeout <= 0 {
		policy.Timeout = 5 * time.Minute
	}
	return &Resolver{installer: installer, policy: policy}
}

// Resolve verifies every dependency of the plugin. Required dependencies that
// stay missing return ErrMissingDependency; optional ones only log.
func (r *Resolver) Resolve(ctx context.Context, pluginName string, deps []Dependency) error {
	for _, dep := range deps {
		if r.installer != nil && r.installer.Installed(dep.ImportName, dep.Version) {
			continue
		}

		if r.policy.AutoInstall && r.installer != nil && r.allowed(dep) {
			name := dep.InstallName
			if name == "" {
				name = dep.ImportName
			}
			logger.Info("[Plugin] installing dependency %q for plugin %q", name, pluginName)
			installCtx, cancel := context.WithTimeout(ctx, r.policy.Timeout)
			err := r.installer.Install(installCtx, name, dep.Version)
			cancel()
			if err == nil && r.installer.Installed(dep.ImportName, dep.Version) {
				continue
			}
			logger.Warn("[Plugin] install of %q failed: %v", name, err)
		}

		if dep.Optional {
			logger.Warn("[Plugin] optional dependency %q missing for plugin %q, continuing", dep.ImportName, pluginName)
			continue
		}
		return fmt.Errorf("plugin %q dependency %q (%s): %w", pluginName, dep.ImportName, dep.Version, ErrMissingDependency)
	}
	return nil
}

func (r *Resolver) allowed(dep Dependency) bool {
	if len(r.policy.Allowlist) == 0 {
		return true
	}
	name := dep.InstallName
	if name == "" {
		name = dep.ImportName
	}
	for _, a := range r.policy.Allowlist {
		if a == name {
			return true
		}
	}
	return false
}
