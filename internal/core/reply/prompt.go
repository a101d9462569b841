// Package reply orchestrates outbound replies: prompt assembly from ordered
// sections, interest-based reply decisions, and proactive initiation.
package reply

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// PromptContext carries everything a section may want to render.
type PromptContext struct {
	StreamID string
	Stream   *stream.Stream

	// Envelope is nil for proactive initiations.
	Envelope *envelope.Envelope

	Memories      []memory.Result
	InterestScore float64
	Proactive     bool
}

// Section contributes one block to the assembled prompt. Sections render in
// ascending priority order; an empty render is skipped.
type Section interface {
	Name() string
	Priority() int
	Render(ctx context.Context, pc *PromptContext) (string, error)
}

// Pipeline assembles the system prompt from registered sections. Section
// failures are logged and skipped so one bad section never blocks a reply.
type Pipeline struct {
	sections []Section
	sorted   bool
}

func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// RegisterSection adds a section; ordering is resolved at assembly time.
func (p *Pipeline) RegisterSection(s Section) {
	p.sections = append(p.sections, s)
	p.sorted = false
}

func (p *Pipeline) ensureSorted() {
	if p.sorted {
		return
	}
	sort.SliceStable(p.sections, func(i, j int) bool {
		return p.sections[i].Priority() < p.sections[j].Priority()
	})
	p.sorted = true
}

// Assemble renders every section in priority order.
func (p *Pipeline) Assemble(ctx context.Context, pc *PromptContext) string {
	p.ensureSorted()

	var buf strings.Builder
	for _, section := range p.sections {
		text, err := section.Render(ctx, pc)
		if err != nil {
			logger.Warn("[Reply] section %q render failed: %v", section.Name(), err)
			continue
		}
		if text == "" {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n\n")
	}
	return strings.TrimRight(buf.String(), "\n")
}

// SectionCount returns the number of registered sections.
func (p *Pipeline) SectionCount() int {
	return len(p.sections)
}

// Section priorities. Lower renders earlier.
const (
	priorityPersona   = 100
	priorityMemory    = 300
	priorityRecent    = 400
	priorityInterest  = 500
	priorityComponent = 600
)

// PersonaSection renders the static persona header.
type PersonaSection struct {
	Persona string
}

func (s *PersonaSection) Name() string  { return "persona" }
func (s *PersonaSection) Priority() int { return priorityPersona }

func (s *PersonaSection) Render(context.Context, *PromptContext) (string, error) {
	if s.Persona == "" {
		return "", nil
	}
	return s.Persona, nil
}

// MemorySection lists the retrieved memories, strongest first.
type MemorySection struct{}

func (s *MemorySection) Name() string  { return "memory" }
func (s *MemorySection) Priority() int { return priorityMemory }

func (s *MemorySection) Render(_ context.Context, pc *PromptContext) (string, error) {
	if len(pc.Memories) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Relevant memories:")
	for _, m := range pc.Memories {
		fmt.Fprintf(&b, "\n- [%s] %s", m.Tier, m.Content)
	}
	return b.String(), nil
}

// RecentWindowSection renders the stream's recent message window. The
// rendered text is cached on the stream until the next append.
type RecentWindowSection struct{}

func (s *RecentWindowSection) Name() string  { return "recent_window" }
func (s *RecentWindowSection) Priority() int { return priorityRecent }

func (s *RecentWindowSection) Render(_ context.Context, pc *PromptContext) (string, error) {
	if pc.Stream == nil {
		return "", nil
	}
	if cached, ok := pc.Stream.ContextCache(); ok {
		return cached, nil
	}
	recent := pc.Stream.Recent()
	if len(recent) == 0 {
		return "", nil
	}
	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, e := range recent {
		text := e.PlainText()
		if text == "" {
			continue
		}
		who := "them"
		if e.Direction == envelope.DirectionOutgoing {
			who = "you"
		} else if e.Info.User != nil && e.Info.User.Name != "" {
			who = e.Info.User.Name
		}
		fmt.Fprintf(&b, "\n%s: %s", who, text)
	}
	rendered := b.String()
	pc.Stream.SetContextCache(rendered)
	return rendered, nil
}

// InterestSection surfaces the aggregate interest score so the model can
// calibrate its tone for marginal group messages.
type InterestSection struct{}

func (s *InterestSection) Name() string  { return "interest" }
func (s *InterestSection) Priority() int { return priorityInterest }

func (s *InterestSection) Render(_ context.Context, pc *PromptContext) (string, error) {
	if pc.Envelope == nil || pc.Envelope.Info.Type != envelope.MessageTypeGroup {
		return "", nil
	}
	return fmt.Sprintf("Interest in this message: %.2f (reply briefly when low).", pc.InterestScore), nil
}

// ComponentSection renders every enabled PROMPT component for the stream.
type ComponentSection struct {
	Registry *plugin.Registry
}

func (s *ComponentSection) Name() string  { return "plugin_prompts" }
func (s *ComponentSection) Priority() int { return priorityComponent }

func (s *ComponentSection) Render(ctx context.Context, pc *PromptContext) (string, error) {
	if s.Registry == nil {
		return "", nil
	}
	var parts []string
	for _, c := range s.Registry.EnabledByKind(plugin.KindPrompt, pc.StreamID) {
		pl, ok := c.Impl.(plugin.PromptLike)
		if !ok {
			continue
		}
		if text := pl.Render(ctx, pc.StreamID); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}
