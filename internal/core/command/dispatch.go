package command

import (
	"context"
	"fmt"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/permission"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// PermissionRequired is an optional interface a command implements to gate
// itself behind a node.
type PermissionRequired interface {
	RequiredNode() string
}

// Result is the outcome of dispatching one message.
type Result struct {
	// Handled is true when a command ran (or was denied). A handled
	// regular command consumes the message; plus commands never consume.
	Handled bool

	// Consumed tells the caller to stop further processing.
	Consumed bool

	// Reply is the text to send back, empty for none.
	Reply string
}

// Dispatcher matches parsed commands to registered COMMAND components.
type Dispatcher struct {
	registry *plugin.Registry
	guard    *permission.Guard
}

// NewDispatcher wires a dispatcher. guard may be nil to skip permission
// checks.
func NewDispatcher(registry *plugin.Registry, guard *permission.Guard) *Dispatcher {
	return &Dispatcher{registry: registry, guard: guard}
}

// Dispatch parses and runs a command found in the envelope text. Non-command
// text and unknown verbs return a zero Result with no error.
func (d *Dispatcher) Dispatch(ctx context.Context, e *envelope.Envelope) (Result, error) {
	parsed, ok := Parse(e.PlainText())
	if !ok {
		return Result{}, nil
	}

	kind := plugin.KindCommand
	if parsed.Plus {
		kind = plugin.KindPlusCommand
	}
	cmd, ok := d.lookup(kind, parsed.Verb, e.StreamID())
	if !ok {
		return Result{}, nil
	}

	if err := ValidateArgs(cmd.ArgSpec(), parsed.Args); err != nil {
		return Result{
			Handled:  true,
			Consumed: !parsed.Plus,
			Reply:    fmt.Sprintf("%v\nUsage: %s", err, Usage(parsed.Verb, cmd.ArgSpec())),
		}, nil
	}

	exec := cmd.Execute
	if d.guard != nil {
		if pr, ok := cmd.(PermissionRequired); ok {
			exec = d.guard.WrapCommand(pr.RequiredNode(), exec)
		}
	}

	reply, err := exec(ctx, Invocation(parsed, e))
	if err != nil {
		logger.Error("[Command] %q failed: %v", parsed.Verb, err)
		return Result{Handled: true, Consumed: !parsed.Plus}, err
	}
	return Result{Handled: true, Consumed: !parsed.Plus, Reply: reply}, nil
}

func (d *Dispatcher) lookup(kind plugin.ComponentKind, verb, streamID string) (plugin.CommandLike, bool) {
	for _, c := range d.registry.EnabledByKind(kind, streamID) {
		cmd, ok := c.Impl.(plugin.CommandLike)
		if ok && cmd.Verb() == verb {
			return cmd, true
		}
	}
	return nil, false
}
