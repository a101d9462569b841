package bus

import (
	"errors"
)

var (
	// ErrNoAdapterForPlatform marks an outbound send with no registered sink.
	ErrNoAdapterForPlatform = errors.New("no adapter for platform")

	// ErrAdapterTimeout marks an API call whose matching echo never arrived.
	ErrAdapterTimeout = errors.New("adapter timeout")

	// ErrBufferFull marks a rejected enqueue on the bounded inbound queue.
	ErrBufferFull = errors.New("inbound buffer full")

	// ErrSkipMessage is the intentional short-circuit sentinel: a before-hook
	// returns it to abort processing of one envelope without error.
	ErrSkipMessage = errors.New("skip message")

	// ErrRuntimeClosed marks operations against a stopped runtime.
	ErrRuntimeClosed = errors.New("message runtime closed")
)
