package reply

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/event"
	"github.com/lorikeet-ai/lorikeet/internal/core/llm"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// subscriptionName labels the generator's event subscriptions.
const subscriptionName = "reply-generator"

// Memory is the slice of the memory engine the generator needs.
type Memory interface {
	Observe(ctx context.Context, streamID, text string) error
	Retrieve(ctx context.Context, query string) ([]memory.Result, error)
}

// Sender delivers outbound envelopes; satisfied by the bus runtime.
type Sender interface {
	SendOutgoing(ctx context.Context, e *envelope.Envelope) error
}

// Config tunes the generator.
type Config struct {
	// Persona is the static header of every prompt.
	Persona string

	// ReplyThreshold gates replies to group messages not addressed to the
	// bot. Zero selects DefaultReplyThreshold.
	ReplyThreshold float64
}

// Generator turns inbound envelopes (and proactive wakeups) into outbound
// replies.
type Generator struct {
	client   llm.Client
	memory   Memory
	streams  *stream.Registry
	sender   Sender
	events   *event.Manager
	pipeline *Pipeline
	interest *InterestAggregator

	threshold float64
}

// NewGenerator wires the generator with the default prompt sections. The
// registry may be nil when no plugin components contribute.
func NewGenerator(client llm.Client, mem Memory, streams *stream.Registry, sender Sender,
	events *event.Manager, registry *plugin.Registry, cfg Config) *Generator {

	pipeline := NewPipeline()
	pipeline.RegisterSection(&PersonaSection{Persona: cfg.Persona})
	pipeline.RegisterSection(&MemorySection{})
	pipeline.RegisterSection(&RecentWindowSection{})
	pipeline.RegisterSection(&InterestSection{})
	pipeline.RegisterSection(&ComponentSection{Registry: registry})

	threshold := cfg.ReplyThreshold
	if threshold <= 0 {
		threshold = DefaultReplyThreshold
	}

	return &Generator{
		client:    client,
		memory:    mem,
		streams:   streams,
		sender:    sender,
		events:    events,
		pipeline:  pipeline,
		interest:  NewInterestAggregator(registry),
		threshold: threshold,
	}
}

// Pipeline exposes the prompt pipeline so plugins can add custom sections.
func (g *Generator) Pipeline() *Pipeline {
	return g.pipeline
}

// Start subscribes the generator to proactive initiation events.
func (g *Generator) Start(ctx context.Context) error {
	return g.events.Subscribe(event.Subscription{
		Event:           event.ProactiveInitiation,
		HandlerName:     subscriptionName,
		PermissionGroup: event.PermissionGroupSystem,
		Handler: func(params event.Params) event.HandlerResult {
			streamID, _ := params["stream_id"].(string)
			if streamID == "" {
				return event.HandlerResult{Success: false, ContinueProcess: true,
					Message: "proactive initiation without stream_id", HandlerName: subscriptionName}
			}
			if err := g.HandleProactive(ctx, streamID); err != nil {
				logger.Error("[Reply] proactive initiation for %s: %v", streamID, err)
				return event.HandlerResult{Success: false, ContinueProcess: true, HandlerName: subscriptionName}
			}
			return event.HandlerResult{Success: true, ContinueProcess: true, HandlerName: subscriptionName}
		},
	})
}

// HandleMessage processes one inbound conversational envelope: record it,
// feed memory, decide whether to reply, and send the reply.
func (g *Generator) HandleMessage(ctx context.Context, e *envelope.Envelope) error {
	st := g.streams.GetOrCreate(e)
	st.Append(e)

	text := e.PlainText()
	if text != "" && g.memory != nil {
		if err := g.memory.Observe(ctx, st.ID, text); err != nil {
			logger.Warn("[Reply] memory observe for %s: %v", st.ID, err)
		}
	}

	g.events.Trigger(event.OnMessage, event.PermissionGroupSystem, event.Params{
		"stream_id": st.ID,
		"envelope":  e,
	})

	score := g.interest.Score(ctx, e)
	if !ShouldReply(e, score, g.threshold) {
		return nil
	}

	reply, err := g.generate(ctx, &PromptContext{
		StreamID:      st.ID,
		Stream:        st,
		Envelope:      e,
		InterestScore: score,
	}, text)
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}
	return g.deliver(ctx, st, replyEnvelope(e, reply))
}

// HandleProactive wakes a stream without an inbound envelope, cold-starting
// it when needed, and initiates a message.
func (g *Generator) HandleProactive(ctx context.Context, streamID string) error {
	platform, kind, target, err := parseStreamID(streamID)
	if err != nil {
		return err
	}
	st := g.streams.ColdStart(streamID, platform)

	reply, err := g.generate(ctx, &PromptContext{
		StreamID:  streamID,
		Stream:    st,
		Proactive: true,
	}, "Start a short, natural conversation opener appropriate for this stream.")
	if err != nil {
		return err
	}
	if reply == "" {
		return nil
	}

	out := &envelope.Envelope{
		SchemaVersion: envelope.SchemaVersion,
		Direction:     envelope.DirectionOutgoing,
		Platform:      platform,
		TimestampMs:   time.Now().UnixMilli(),
		Segment:       envelope.Text(reply),
	}
	switch kind {
	case "group":
		out.Info = envelope.MessageInfo{Type: envelope.MessageTypeGroup,
			Group: &envelope.GroupInfo{ID: target},
			User:  &envelope.UserInfo{ID: target}}
	default:
		out.Info = envelope.MessageInfo{Type: envelope.MessageTypePrivate,
			User: &envelope.UserInfo{ID: target}}
	}
	return g.deliver(ctx, st, out)
}

// generate assembles the prompt, retrieves memories, and runs the model.
func (g *Generator) generate(ctx context.Context, pc *PromptContext, query string) (string, error) {
	if g.memory != nil && query != "" {
		memories, err := g.memory.Retrieve(ctx, query)
		if err != nil {
			logger.Warn("[Reply] memory retrieval for %s: %v", pc.StreamID, err)
		} else {
			pc.Memories = memories
		}
	}

	g.events.Trigger(event.OnPlan, event.PermissionGroupSystem, event.Params{
		"stream_id": pc.StreamID,
		"proactive": pc.Proactive,
	})

	prompt := g.pipeline.Assemble(ctx, pc)
	g.events.Trigger(event.PostLLM, event.PermissionGroupSystem, event.Params{
		"stream_id": pc.StreamID,
		"prompt":    prompt,
	})

	messages := []*schema.Message{llm.System(prompt)}
	if pc.Envelope != nil {
		messages = append(messages, llm.User(pc.Envelope.PlainText()))
	} else {
		messages = append(messages, llm.User(query))
	}
	reply, err := g.client.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("reply generation for %s: %w", pc.StreamID, err)
	}
	reply = strings.TrimSpace(reply)

	g.events.Trigger(event.AfterLLM, event.PermissionGroupSystem, event.Params{
		"stream_id": pc.StreamID,
		"reply":     reply,
	})
	return reply, nil
}

// deliver sends the outbound envelope unless a post_send handler intercepts,
// then records it in the stream window.
func (g *Generator) deliver(ctx context.Context, st *stream.Stream, out *envelope.Envelope) error {
	result := g.events.Trigger(event.PostSend, event.PermissionGroupSystem, event.Params{
		"stream_id": st.ID,
		"envelope":  out,
	})
	if result.InterceptedBy >= 0 {
		logger.Info("[Reply] outbound to %s intercepted by %q",
			st.ID, result.Results[result.InterceptedBy].HandlerName)
		return nil
	}

	if err := g.sender.SendOutgoing(ctx, out); err != nil {
		return err
	}
	st.Append(out)

	g.events.Trigger(event.AfterSend, event.PermissionGroupSystem, event.Params{
		"stream_id": st.ID,
		"envelope":  out,
	})
	return nil
}

// replyEnvelope builds the outbound counterpart of an inbound envelope,
// addressed to the same (platform, party) pair.
func replyEnvelope(in *envelope.Envelope, text string) *envelope.Envelope {
	return &envelope.Envelope{
		SchemaVersion: envelope.SchemaVersion,
		Direction:     envelope.DirectionOutgoing,
		Platform:      in.Platform,
		TimestampMs:   time.Now().UnixMilli(),
		Info: envelope.MessageInfo{
			Type:   in.Info.Type,
			User:   in.Info.User,
			Group:  in.Info.Group,
			SelfID: in.Info.SelfID,
		},
		Segment: envelope.Text(text),
	}
}

func parseStreamID(id string) (platform, kind, target string, err error) {
	parts := strings.SplitN(id, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed stream id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}
