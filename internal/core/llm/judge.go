package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// Judge asks the model for structured decisions. Responses must be JSON; a
// markdown code fence around the object is tolerated.
type Judge struct {
	client Client
}

func NewJudge(client Client) *Judge {
	return &Judge{client: client}
}

// Decide sends a system prompt and a user payload and unmarshals the JSON
// reply into out.
func (j *Judge) Decide(ctx context.Context, system, user string, out interface{}) error {
	raw, err := j.client.Generate(ctx, []*schema.Message{System(system), User(user)})
	if err != nil {
		return err
	}
	return DecodeJSON(raw, out)
}

// DecodeJSON strips an optional markdown fence and unmarshals the payload.
func DecodeJSON(raw string, out interface{}) error {
	trimmed := StripFence(raw)
	if err := json.Unmarshal([]byte(trimmed), out); err != nil {
		return fmt.Errorf("decode llm json: %w", err)
	}
	return nil
}

// StripFence removes a surrounding ```...``` code fence, if present.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
