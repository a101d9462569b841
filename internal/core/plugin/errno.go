package plugin

import (
	"errors"
)

var (
	// ErrDuplicateComponent marks a second registration under the same
	// (kind, name) pair.
	ErrDuplicateComponent = errors.New("duplicate component")

	// ErrPluginLoadFault marks a plugin that failed dependency resolution,
	// schema validation, or a lifecycle hook.
	ErrPluginLoadFault = errors.New("plugin load fault")

	// ErrMissingDependency marks a required dependency absent after
	// resolution.
	ErrMissingDependency = errors.New("missing required dependency")

	// ErrComponentNotFound marks a lookup miss.
	ErrComponentNotFound = errors.New("component not found")
)
