package command

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
)

func TestParse(t *testing.T) {
	cases := []struct {
		in   string
		want Parsed
		ok   bool
	}{
		{"/ping", Parsed{Verb: "ping"}, true},
		{"  /ping  a  b ", Parsed{Verb: "ping", Args: []string{"a", "b"}}, true},
		{"/Ping", Parsed{Verb: "ping"}, true},
		{`/say "hello there" now`, Parsed{Verb: "say", Args: []string{"hello there", "now"}}, true},
		{`/say "a \"quoted\" word"`, Parsed{Verb: "say", Args: []string{`a "quoted" word`}}, true},
		{`/say ""`, Parsed{Verb: "say", Args: []string{""}}, true},
		{"+roll 2d6", Parsed{Verb: "roll", Args: []string{"2d6"}, Plus: true}, true},
		{"hello world", Parsed{}, false},
		{"/", Parsed{}, false},
		{"  ", Parsed{}, false},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want.Verb, got.Verb, "input %q", tc.in)
			assert.Equal(t, tc.want.Args, got.Args, "input %q", tc.in)
			assert.Equal(t, tc.want.Plus, got.Plus, "input %q", tc.in)
		}
	}
}

func TestValidateArgsAndUsage(t *testing.T) {
	spec := []plugin.ArgDef{
		{Name: "target", Required: true},
		{Name: "reason"},
	}
	assert.NoError(t, ValidateArgs(spec, []string{"u1"}))
	assert.NoError(t, ValidateArgs(spec, []string{"u1", "because"}))
	err := ValidateArgs(spec, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target")
	assert.Equal(t, "/kick <target> [reason]", Usage("kick", spec))
}

type echoCommand struct {
	verb string
	kind plugin.ComponentKind
	got  *plugin.CommandInvocation
}

func (c *echoCommand) Info() plugin.ComponentInfo {
	return plugin.ComponentInfo{Kind: c.kind, Name: c.verb, Enabled: true}
}
func (c *echoCommand) Verb() string { return c.verb }
func (c *echoCommand) ArgSpec() []plugin.ArgDef {
	return []plugin.ArgDef{{Name: "what", Required: true}}
}
func (c *echoCommand) Execute(_ context.Context, inv *plugin.CommandInvocation) (string, error) {
	c.got = inv
	return "echo: " + inv.Args[0], nil
}

func textEnvelope(text string) *envelope.Envelope {
	return &envelope.Envelope{
		Direction: envelope.DirectionIncoming,
		Platform:  "qq",
		Info: envelope.MessageInfo{
			Type: envelope.MessageTypePrivate,
			User: &envelope.UserInfo{ID: "7"},
		},
		Segment: envelope.Text(text),
	}
}

func TestDispatchRunsMatchingCommand(t *testing.T) {
	reg := plugin.NewRegistry()
	cmd := &echoCommand{verb: "echo", kind: plugin.KindCommand}
	require.NoError(t, reg.Register(plugin.Component{Info: cmd.Info(), Impl: cmd}))
	d := NewDispatcher(reg, nil)

	res, err := d.Dispatch(context.Background(), textEnvelope("/echo hi"))
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.True(t, res.Consumed)
	assert.Equal(t, "echo: hi", res.Reply)
	assert.Equal(t, "qq:private:7", cmd.got.StreamID)
}

func TestDispatchIgnoresNonCommands(t *testing.T) {
	d := NewDispatcher(plugin.NewRegistry(), nil)

	res, err := d.Dispatch(context.Background(), textEnvelope("just chatting"))
	require.NoError(t, err)
	assert.False(t, res.Handled)

	res, err = d.Dispatch(context.Background(), textEnvelope("/nosuch arg"))
	require.NoError(t, err)
	assert.False(t, res.Handled)
}

func TestDispatchMissingArgRepliesUsage(t *testing.T) {
	reg := plugin.NewRegistry()
	cmd := &echoCommand{verb: "echo", kind: plugin.KindCommand}
	require.NoError(t, reg.Register(plugin.Component{Info: cmd.Info(), Impl: cmd}))
	d := NewDispatcher(reg, nil)

	res, err := d.Dispatch(context.Background(), textEnvelope("/echo"))
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.Contains(t, res.Reply, "Usage: /echo <what>")
	assert.Nil(t, cmd.got)
}

func TestDispatchPlusCommandDoesNotConsume(t *testing.T) {
	reg := plugin.NewRegistry()
	cmd := &echoCommand{verb: "roll", kind: plugin.KindPlusCommand}
	require.NoError(t, reg.Register(plugin.Component{Info: cmd.Info(), Impl: cmd}))
	d := NewDispatcher(reg, nil)

	res, err := d.Dispatch(context.Background(), textEnvelope("+roll 2d6"))
	require.NoError(t, err)
	assert.True(t, res.Handled)
	assert.False(t, res.Consumed)
	assert.Equal(t, "echo: 2d6", res.Reply)
}

func TestDispatchSkipsDisabledForStream(t *testing.T) {
	reg := plugin.NewRegistry()
	cmd := &echoCommand{verb: "echo", kind: plugin.KindCommand}
	require.NoError(t, reg.Register(plugin.Component{Info: cmd.Info(), Impl: cmd}))
	require.NoError(t, reg.SetStreamEnabled(plugin.KindCommand, "echo", "qq:private:7", false))
	d := NewDispatcher(reg, nil)

	res, err := d.Dispatch(context.Background(), textEnvelope("/echo hi"))
	require.NoError(t, err)
	assert.False(t, res.Handled)
}
