package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
)

// ManageNode gates grant and revoke for non-master users.
const ManageNode = "core.permission.manage"

// Command is the built-in `permission` chat command.
type Command struct {
	manager *Manager
}

func NewCommand(manager *Manager) *Command {
	return &Command{manager: manager}
}

func (c *Command) Info() plugin.ComponentInfo {
	return plugin.ComponentInfo{
		Kind:        plugin.KindCommand,
		Name:        "permission",
		Description: "manage permission nodes and user grants",
		Enabled:     true,
	}
}

func (c *Command) Verb() string { return "permission" }

func (c *Command) ArgSpec() []plugin.ArgDef {
	return []plugin.ArgDef{
		{Name: "subcommand", Description: "grant|revoke|list|check|nodes|help", Required: true},
		{Name: "user", Description: "target user id (grant/revoke/list/check)"},
		{Name: "node", Description: "permission node name (grant/revoke/check)"},
	}
}

func (c *Command) Execute(ctx context.Context, inv *plugin.CommandInvocation) (string, error) {
	if len(inv.Args) == 0 {
		return c.help(), nil
	}

	platform := inv.Envelope.Platform
	sub := strings.ToLower(inv.Args[0])
	rest := inv.Args[1:]

	switch sub {
	case "help":
		return c.help(), nil

	case "nodes":
		nodes, err := c.manager.Nodes()
		if err != nil {
			return "", err
		}
		if len(nodes) == 0 {
			return "No permission nodes registered.", nil
		}
		var b strings.Builder
		b.WriteString("Registered permission nodes:\n")
		for _, n := range nodes {
			dflt := ""
			if n.DefaultGrant {
				dflt = " (default granted)"
			}
			fmt.Fprintf(&b, "  %s [%s]%s: %s\n", n.Name, n.Plugin, dflt, n.Description)
		}
		return strings.TrimRight(b.String(), "\n"), nil

	case "list":
		target := c.invokingUser(inv)
		if len(rest) >= 1 {
			target = rest[0]
		}
		grants, err := c.manager.UserGrants(platform, target)
		if err != nil {
			return "", err
		}
		if len(grants) == 0 {
			return fmt.Sprintf("User %s holds no explicit grants.", target), nil
		}
		names := make([]string, len(grants))
		for i, g := range grants {
			names[i] = g.Node
		}
		return fmt.Sprintf("User %s holds: %s", target, strings.Join(names, ", ")), nil

	case "check":
		if len(rest) < 2 {
			return "Usage: permission check <user> <node>", nil
		}
		ok, err := c.manager.Check(platform, rest[0], rest[1])
		if err != nil && !isDenial(err) {
			return "", err
		}
		if ok {
			return fmt.Sprintf("User %s has %s.", rest[0], rest[1]), nil
		}
		return fmt.Sprintf("User %s does not have %s.", rest[0], rest[1]), nil

	case "grant", "revoke":
		if len(rest) < 2 {
			return fmt.Sprintf("Usage: permission %s <user> <node>", sub), nil
		}
		if err := c.requireManager(inv); err != nil {
			return DeniedMessage(ManageNode), nil
		}
		if sub == "grant" {
			if err := c.manager.Grant(platform, rest[0], rest[1]); err != nil {
				if isDenial(err) {
					return fmt.Sprintf("Unknown permission node %q.", rest[1]), nil
				}
				return "", err
			}
			return fmt.Sprintf("Granted %s to %s.", rest[1], rest[0]), nil
		}
		removed, err := c.manager.Revoke(platform, rest[0], rest[1])
		if err != nil {
			return "", err
		}
		if !removed {
			return fmt.Sprintf("User %s did not hold %s.", rest[0], rest[1]), nil
		}
		return fmt.Sprintf("Revoked %s from %s.", rest[1], rest[0]), nil

	default:
		return fmt.Sprintf("Unknown subcommand %q.\n%s", sub, c.help()), nil
	}
}

func (c *Command) requireManager(inv *plugin.CommandInvocation) error {
	user := c.invokingUser(inv)
	if user == "" {
		return ErrPermissionDenied
	}
	return c.manager.Require(inv.Envelope.Platform, user, ManageNode)
}

func (c *Command) invokingUser(inv *plugin.CommandInvocation) string {
	if inv.Envelope != nil && inv.Envelope.Info.User != nil {
		return inv.Envelope.Info.User.ID
	}
	return ""
}

func (c *Command) help() string {
	return strings.Join([]string{
		"permission grant <user> <node>   give a user a permission node",
		"permission revoke <user> <node>  take a permission node away",
		"permission list [user]           show a user's explicit grants",
		"permission check <user> <node>   test whether a user has a node",
		"permission nodes                 list registered nodes",
		"permission help                  show this help",
	}, "\n")
}

func isDenial(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnknownNode)
}
