// Package plugin implements the lifecycle-managed registry for plugin
// components: actions, commands, tools, event handlers, interest
// calculators, and prompt sections.
package plugin

import (
	"context"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/event"
)

// ComponentKind classifies a registered component.
type ComponentKind string

const (
	KindAction             ComponentKind = "action"
	KindCommand            ComponentKind = "command"
	KindPlusCommand        ComponentKind = "plus_command"
	KindTool               ComponentKind = "tool"
	KindEventHandler       ComponentKind = "event_handler"
	KindInterestCalculator ComponentKind = "interest_calculator"
	KindPrompt             ComponentKind = "prompt"
)

// ComponentInfo is the static metadata every component carries. Names are
// unique per kind.
type ComponentInfo struct {
	Kind        ComponentKind
	Name        string
	Description string

	// Plugin is the owning plugin name, filled in by the host.
	Plugin string

	// Enabled is the initial global enable flag.
	Enabled bool
}

// ActionTrigger selects when an ACTION is offered to the planner.
type ActionTrigger string

const (
	TriggerNever    ActionTrigger = "never"
	TriggerAlways   ActionTrigger = "always"
	TriggerLLMJudge ActionTrigger = "llm_judge"
	TriggerKeyword  ActionTrigger = "keyword"
	TriggerRandom   ActionTrigger = "random"
)

// ActionLike is a planner-selectable behaviour with a prompt template.
type ActionLike interface {
	Info() ComponentInfo

	// Trigger declares how the action is activated.
	Trigger() ActionTrigger

	// PromptTemplate is the template offered to the planner.
	PromptTemplate() string

	// Execute performs the action for the stream.
	Execute(ctx context.Context, streamID string, params map[string]interface{}) error
}

// CommandLike handles a chat command verb.
type CommandLike interface {
	Info() ComponentInfo

	// Verb is the command word, without the leading slash.
	Verb() string

	// ArgSpec describes positional arguments, for help and validation.
	ArgSpec() []ArgDef

	// Execute runs the command; reply is the text sent back to the user.
	Execute(ctx context.Context, inv *CommandInvocation) (reply string, err error)
}

// ArgDef describes one positional command argument.
type ArgDef struct {
	Name        string
	Description string
	Required    bool
}

// CommandInvocation carries one parsed command call.
type CommandInvocation struct {
	Verb     string
	Args     []string
	Envelope *envelope.Envelope
	StreamID string
}

// ToolLike is an LLM-invocable tool.
type ToolLike interface {
	Info() ComponentInfo

	// Parameters declares the input schema.
	Parameters() []ParamDef

	// Invoke runs the tool with the given parameter values.
	Invoke(ctx context.Context, params map[string]interface{}) (interface{}, error)
}

// ParamDef declares one tool parameter.
type ParamDef struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// EventHandlerLike subscribes to named events with a dispatch weight.
type EventHandlerLike interface {
	Info() ComponentInfo

	// Subscriptions returns the event names this handler wants.
	Subscriptions() []event.Name

	// Weight orders dispatch, higher first.
	Weight() int

	// Intercepting declares intent to stop the chain.
	Intercepting() bool

	// Handle processes one event occurrence.
	Handle(name event.Name, params event.Params) event.HandlerResult
}

// InterestCalculatorLike scores how interesting an inbound message is;
// the reply generator aggregates the scores to decide whether to respond.
type InterestCalculatorLike interface {
	Info() ComponentInfo

	// Score returns an interest value in [0,1] for the envelope.
	Score(ctx context.Context, e *envelope.Envelope) float64
}

// PromptLike contributes a named section to reply prompts.
type PromptLike interface {
	Info() ComponentInfo

	// Render produces the section text for the stream, or "" to skip.
	Render(ctx context.Context, streamID string) string
}

// Component pairs static info with its implementation. The implementation
// must satisfy the interface matching Info.Kind.
type Component struct {
	Info ComponentInfo
	Impl interface{}
}

// Dependency is one declared runtime dependency of a plugin.
type Dependency struct {
	// ImportName is the name the plugin resolves the dependency by.
	ImportName string

	// Version is the required range ("", ">=1.2.0", "==2.1.3").
	Version string

	// InstallName overrides the package name used when installing.
	InstallName string

	// Optional deps log a warning instead of failing the plugin when
	// missing.
	Optional bool

	Description string
}

// ConfigField is one typed option in a plugin's config schema.
type ConfigField struct {
	Key         string
	Default     interface{}
	Description string
}

// Plugin is the contract every plugin implements.
type Plugin interface {
	// Name is the unique plugin identifier (lowercase, hyphens).
	Name() string

	// Version is the plugin version string.
	Version() string

	// ConfigSchema declares the plugin's options and their defaults.
	ConfigSchema() []ConfigField

	// Dependencies declares runtime deps resolved before load.
	Dependencies() []Dependency

	// Components returns the component list registered on enable.
	Components() []Component
}

// Loadable is the optional on_load hook, called after dependency
// resolution and before component registration.
type Loadable interface {
	Plugin
	OnLoad(ctx context.Context, cfg *Config) error
}

// Enableable is the optional on_enable hook; async initialization belongs
// here.
type Enableable interface {
	Plugin
	OnEnable(ctx context.Context) error
}

// Disableable is the optional on_disable hook.
type Disableable interface {
	Plugin
	OnDisable(ctx context.Context) error
}

// Unloadable is the optional on_unload hook, called during shutdown after
// components are unregistered.
type Unloadable interface {
	Plugin
	OnUnload(ctx context.Context) error
}
