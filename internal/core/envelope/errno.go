package envelope

import (
	"errors"
)

var (
	// ErrBadEnvelope marks malformed JSON, missing required fields, or an
	// unknown schema version. Bad envelopes are dropped and counted.
	ErrBadEnvelope = errors.New("bad envelope")

	// ErrUnknownSchema marks a schema version newer than this build.
	ErrUnknownSchema = errors.New("unknown envelope schema version")
)
