package permission

import (
	"errors"
)

var (
	// ErrPermissionDenied marks an invocation by a user lacking the node.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrUnknownNode marks a grant or check against an unregistered node.
	ErrUnknownNode = errors.New("unknown permission node")
)
