// Package event implements the ordered, weighted, interceptable pub/sub
// fabric connecting the core subsystems.
package event

// Name identifies one event on the bus.
type Name string

// Well-known system events. Plugins may register additional names freely.
const (
	OnStart          Name = "on_start"
	OnStop           Name = "on_stop"
	OnMessage        Name = "on_message"
	OnNoticeReceived Name = "on_notice_received"
	OnPlan           Name = "on_plan"
	PostLLM          Name = "post_llm"
	AfterLLM         Name = "after_llm"
	PostSend         Name = "post_send"
	AfterSend        Name = "after_send"

	// ProactiveInitiation asks the reply generator to wake a stream without
	// an inbound envelope. Params carry "stream_id".
	ProactiveInitiation Name = "proactive_initiation"
)

// PermissionGroupSystem is the privileged group: it may trigger any event,
// and handlers declared under it receive every trigger of their event.
const PermissionGroupSystem = "SYSTEM"

// Params is the free-form parameter map passed to handlers and listeners.
type Params map[string]interface{}

// Handler processes one event occurrence and reports how dispatch should
// proceed.
type Handler func(params Params) HandlerResult

// HandlerResult is what each subscribed handler returns.
type HandlerResult struct {
	// Success is false when the handler failed (or panicked).
	Success bool

	// ContinueProcess, when false, stops iteration: later handlers for this
	// event do not run.
	ContinueProcess bool

	// Message is an optional human-readable note, surfaced in logs.
	Message string

	// HandlerName echoes the subscription name for diagnostics.
	HandlerName string
}

// AggregatedResult is the outcome of one trigger: per-handler results in
// dispatch order, the composite success flag, and which handler (if any)
// intercepted the chain.
type AggregatedResult struct {
	Results []HandlerResult

	// AllSuccess is true when every dispatched handler reported success.
	AllSuccess bool

	// InterceptedBy is the index into Results of the handler that stopped
	// the chain, or -1 when no handler intercepted.
	InterceptedBy int
}

// DirectListener is the scheduler's zero-latency callback path. Listeners
// run after handler dispatch and cannot intercept.
type DirectListener func(name Name, params Params)

// Subscription describes one handler registration.
type Subscription struct {
	Event Name

	// HandlerName is a diagnostic label, unique per subscription.
	HandlerName string

	// Weight orders dispatch: higher weights run first, ties break by
	// subscription order.
	Weight int

	// Intercept declares that this handler intends to stop the chain when
	// it returns ContinueProcess=false. Purely informational; dispatch
	// honors ContinueProcess either way.
	Intercept bool

	// PermissionGroup scopes delivery: the handler only sees triggers whose
	// group matches, unless either side is SYSTEM.
	PermissionGroup string

	// PluginName records the owning plugin, for unsubscribe-by-plugin.
	PluginName string

	Handler Handler
}
