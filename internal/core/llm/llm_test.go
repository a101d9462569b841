package llm

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	reply string
	last  []*schema.Message
}

func (c *scriptedClient) Generate(_ context.Context, msgs []*schema.Message) (string, error) {
	c.last = msgs
	return c.reply, nil
}

func TestStripFence(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                      `{"a":1}`,
		"```json\n{\"a\":1}\n```":      `{"a":1}`,
		"```\n{\"a\":1}\n```":          `{"a":1}`,
		"  ```json\n{\"a\": 1}\n```  ": `{"a": 1}`,
		"plain text answer":            "plain text answer",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFence(in), "input %q", in)
	}
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Action string `json:"action"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"action\":\"MERGE\"}\n```", &out))
	assert.Equal(t, "MERGE", out.Action)

	assert.Error(t, DecodeJSON("not json at all", &out))
}

func TestJudgeDecide(t *testing.T) {
	client := &scriptedClient{reply: "```json\n{\"sufficient\":false,\"keywords\":[\"deploy\",\"friday\"]}\n```"}
	judge := NewJudge(client)

	var out struct {
		Sufficient bool     `json:"sufficient"`
		Keywords   []string `json:"keywords"`
	}
	require.NoError(t, judge.Decide(context.Background(), "judge system", "is this enough?", &out))
	assert.False(t, out.Sufficient)
	assert.Equal(t, []string{"deploy", "friday"}, out.Keywords)

	require.Len(t, client.last, 2)
	assert.Equal(t, schema.System, client.last[0].Role)
	assert.Equal(t, "judge system", client.last[0].Content)
	assert.Equal(t, schema.User, client.last[1].Role)
}
