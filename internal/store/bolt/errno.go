package bolt

import (
	"errors"
)

var (
	// ErrNotFound marks a lookup for a key that was never stored.
	ErrNotFound = errors.New("record not found")
)
