package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
)

func newManager(t *testing.T, masters ...UserRef) *Manager {
	t.Helper()
	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store, masters)
}

func TestCheckRequiresGrant(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.RegisterNode(Node{Name: "plugin.example.admin", Plugin: "example"}))

	ok, err := m.Check("qq", "9", "plugin.example.admin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Grant("qq", "9", "plugin.example.admin"))
	ok, err = m.Check("qq", "9", "plugin.example.admin")
	require.NoError(t, err)
	assert.True(t, ok)

	// Grants are per platform.
	ok, err = m.Check("telegram", "9", "plugin.example.admin")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDefaultGrantedNode(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.RegisterNode(Node{Name: "plugin.example.use", Plugin: "example", DefaultGrant: true}))

	ok, err := m.Check("qq", "9", "plugin.example.use")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMasterBypassesEverything(t *testing.T) {
	m := newManager(t, UserRef{"qq", "1"})

	// Even unregistered nodes pass for masters.
	ok, err := m.Check("qq", "1", "never.registered")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, m.IsMaster("qq", "1"))
	assert.False(t, m.IsMaster("qq", "2"))
}

func TestUnknownNodeDenies(t *testing.T) {
	m := newManager(t)
	_, err := m.Check("qq", "9", "ghost.node")
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.ErrorIs(t, m.Require("qq", "9", "ghost.node"), ErrUnknownNode)
}

func TestGrantUnknownNodeRejected(t *testing.T) {
	m := newManager(t)
	assert.ErrorIs(t, m.Grant("qq", "9", "ghost.node"), ErrUnknownNode)
}

func TestRevoke(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.RegisterNode(Node{Name: "n", Plugin: "p"}))
	require.NoError(t, m.Grant("qq", "9", "n"))

	removed, err := m.Revoke("qq", "9", "n")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = m.Revoke("qq", "9", "n")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.ErrorIs(t, m.Require("qq", "9", "n"), ErrPermissionDenied)
}

func invocation(userID string, args ...string) *plugin.CommandInvocation {
	return &plugin.CommandInvocation{
		Verb: "permission",
		Args: args,
		Envelope: &envelope.Envelope{
			Platform: "qq",
			Info: envelope.MessageInfo{
				Type: envelope.MessageTypePrivate,
				User: &envelope.UserInfo{ID: userID},
			},
		},
		StreamID: "qq:private:" + userID,
	}
}

func TestGuardWrapCommandDenies(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.RegisterNode(Node{Name: "plugin.example.admin", Plugin: "example"}))
	guard := NewGuard(m)

	ran := false
	exec := guard.WrapCommand("plugin.example.admin", func(context.Context, *plugin.CommandInvocation) (string, error) {
		ran = true
		return "done", nil
	})

	// Denied: one reply message, no execution.
	reply, err := exec(context.Background(), invocation("9"))
	require.NoError(t, err)
	assert.Contains(t, reply, "plugin.example.admin")
	assert.False(t, ran)

	require.NoError(t, m.Grant("qq", "9", "plugin.example.admin"))
	reply, err = exec(context.Background(), invocation("9"))
	require.NoError(t, err)
	assert.Equal(t, "done", reply)
	assert.True(t, ran)
}

func TestPermissionCommandGrantRequiresManager(t *testing.T) {
	m := newManager(t, UserRef{"qq", "1"})
	require.NoError(t, m.RegisterNode(Node{Name: "plugin.example.admin", Plugin: "example"}))
	cmd := NewCommand(m)

	// A non-master without the manage node is refused.
	reply, err := cmd.Execute(context.Background(), invocation("9", "grant", "2", "plugin.example.admin"))
	require.NoError(t, err)
	assert.Contains(t, reply, "do not have permission")

	// The master grants freely.
	reply, err = cmd.Execute(context.Background(), invocation("1", "grant", "2", "plugin.example.admin"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Granted")

	ok, err := m.Check("qq", "2", "plugin.example.admin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPermissionCommandSubcommands(t *testing.T) {
	m := newManager(t, UserRef{"qq", "1"})
	require.NoError(t, m.RegisterNode(Node{Name: "a.node", Plugin: "a", Description: "does things"}))
	cmd := NewCommand(m)

	reply, _ := cmd.Execute(context.Background(), invocation("1", "nodes"))
	assert.Contains(t, reply, "a.node")
	assert.Contains(t, reply, "does things")

	reply, _ = cmd.Execute(context.Background(), invocation("1", "check", "9", "a.node"))
	assert.Contains(t, reply, "does not have")

	_, _ = cmd.Execute(context.Background(), invocation("1", "grant", "9", "a.node"))
	reply, _ = cmd.Execute(context.Background(), invocation("1", "check", "9", "a.node"))
	assert.Contains(t, reply, "has a.node")

	reply, _ = cmd.Execute(context.Background(), invocation("1", "list", "9"))
	assert.Contains(t, reply, "a.node")

	reply, _ = cmd.Execute(context.Background(), invocation("1", "revoke", "9", "a.node"))
	assert.Contains(t, reply, "Revoked")

	reply, _ = cmd.Execute(context.Background(), invocation("1", "bogus"))
	assert.Contains(t, reply, "Unknown subcommand")

	reply, _ = cmd.Execute(context.Background(), invocation("1"))
	assert.Contains(t, reply, "permission grant")
}
