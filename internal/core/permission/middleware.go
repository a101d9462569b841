package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
)

// CommandExec is the executable part of a command component.
type CommandExec func(ctx context.Context, inv *plugin.CommandInvocation) (string, error)

// Guard gates component invocations on permission nodes.
type Guard struct {
	manager *Manager
}

func NewGuard(manager *Manager) *Guard {
	return &Guard{manager: manager}
}

// WrapCommand returns an exec that checks node before running next. Denials
// become a user-facing message, not an error, so the caller sends exactly one
// reply and mutates nothing.
func (g *Guard) WrapCommand(node string, next CommandExec) CommandExec {
	if node == "" {
		return next
	}
	return func(ctx context.Context, inv *plugin.CommandInvocation) (string, error) {
		user := inv.Envelope.Info.User
		if user == nil {
			return DeniedMessage(node), nil
		}
		if err := g.manager.Require(inv.Envelope.Platform, user.ID, node); err != nil {
			if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnknownNode) {
				return DeniedMessage(node), nil
			}
			return "", err
		}
		return next(ctx, inv)
	}
}

// CheckAction gates a planner-selected action for the acting user.
func (g *Guard) CheckAction(platform, userID, node string) error {
	if node == "" {
		return nil
	}
	return g.manager.Require(platform, userID, node)
}

// DeniedMessage is the short reply sent on denial.
func DeniedMessage(node string) string {
	return fmt.Sprintf("You do not have permission to do that (requires %s).", node)
}
