package bus

import (
	"context"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
)

// Sink is the adapter boundary for outbound traffic. One sink per platform.
type Sink interface {
	// Platform returns the platform tag this sink serves.
	Platform() string

	// Send hands an outbound envelope to the adapter. Failures propagate to
	// the caller.
	Send(ctx context.Context, e *envelope.Envelope) error

	// Close releases the sink's resources.
	Close() error
}

// InProcessSink invokes a handler directly, with no transport in between.
// Used for in-process adapters and tests.
type InProcessSink struct {
	platform string
	handler  func(ctx context.Context, e *envelope.Envelope) error
}

// NewInProcessSink wraps a delivery function as a sink.
func NewInProcessSink(platform string, handler func(ctx context.Context, e *envelope.Envelope) error) *InProcessSink {
	return &InProcessSink{platform: platform, handler: handler}
}

func (s *InProcessSink) Platform() string { return s.platform }

func (s *InProcessSink) Send(ctx context.Context, e *envelope.Envelope) error {
	return s.handler(ctx, e)
}

func (s *InProcessSink) Close() error { return nil }
