// Package bus implements the message runtime: inbound routing with hooks,
// outbound dispatch to adapter sinks, and the subprocess sink boundary.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// DefaultQueueSize bounds the inbound queue.
const DefaultQueueSize = 1024

// RouteHandler processes one inbound envelope inside its stream's serial
// executor.
type RouteHandler func(ctx context.Context, e *envelope.Envelope) error

// RoutePredicate decides whether a route matches an envelope.
type RoutePredicate func(e *envelope.Envelope) bool

// Route is one registered inbound route. Selection prefers routes whose
// MessageType matches the envelope, then event routes (notice/meta traffic),
// then generic routes, first match within each class.
type Route struct {
	Name        string
	Predicate   RoutePredicate
	Handler     RouteHandler
	MessageType envelope.MessageType
}

// BeforeHook runs before routing. Returning ErrSkipMessage aborts
// processing of the envelope without error; any other error is a fault.
type BeforeHook func(e *envelope.Envelope) error

// AfterHook runs after the route handler returned.
type AfterHook func(e *envelope.Envelope)

// ErrorHook observes processing failures after they are classified.
type ErrorHook func(e *envelope.Envelope, err error)

// Runtime routes inbound envelopes and dispatches outbound ones. Inbound
// processing is serial per stream and isolated per envelope: handler panics
// and errors never stop the loop.
type Runtime struct {
	streams *stream.Registry

	mu     sync.RWMutex
	routes []Route
	before []BeforeHook
	after  []AfterHook
	onErr  []ErrorHook
	sinks  map[string]Sink

	queue   chan *envelope.Envelope
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}

	badEnvelopes atomic.Int64
	dropped      atomic.Int64
}

// NewRuntime creates a stopped runtime. queueSize <= 0 selects
// DefaultQueueSize.
func NewRuntime(streams *stream.Registry, queueSize int) *Runtime {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Runtime{
		streams: streams,
		sinks:   make(map[string]Sink),
		queue:   make(chan *envelope.Envelope, queueSize),
		done:    make(chan struct{}),
	}
}

// AddRoute registers a route. Routes are consulted in registration order
// within their class.
func (r *Runtime) AddRoute(route Route) error {
	if route.Handler == nil {
		return fmt.Errorf("add route %q: nil handler", route.Name)
	}
	if route.Predicate == nil {
		route.Predicate = func(*envelope.Envelope) bool { return true }
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
	logger.Info("[Bus] route %q registered (message_type=%q)", route.Name, route.MessageType)
	return nil
}

// RegisterBeforeHook appends a before-hook; hooks run in registration order.
func (r *Runtime) RegisterBeforeHook(h BeforeHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.before = append(r.before, h)
}

// RegisterAfterHook appends an after-hook.
func (r *Runtime) RegisterAfterHook(h AfterHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.after = append(r.after, h)
}

// RegisterErrorHook appends an error hook.
func (r *Runtime) RegisterErrorHook(h ErrorHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onErr = append(r.onErr, h)
}

// RegisterSink installs the outbound sink for its platform, replacing any
// previous one.
func (r *Runtime) RegisterSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks[s.Platform()] = s
	logger.Info("[Bus] sink registered for platform %q", s.Platform())
}

// Start launches the dispatch loop.
func (r *Runtime) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.dispatchLoop(ctx)
	logger.Info("[Bus] runtime started (queue=%d)", cap(r.queue))
}

// Stop closes the inbound queue, waits for the dispatch loop to drain, then
// drains stream executors within the deadline and closes all sinks.
func (r *Runtime) Stop(ctx context.Context) {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	close(r.queue)
	<-r.done

	r.streams.Shutdown(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	for platform, s := range r.sinks {
		if err := s.Close(); err != nil {
			logger.Warn("[Bus] closing sink %q: %v", platform, err)
		}
	}
	logger.Info("[Bus] runtime stopped (bad_envelopes=%d, dropped=%d)", r.badEnvelopes.Load(), r.dropped.Load())
}

// PushIncoming enqueues an envelope for routing, blocking while the queue
// is full. Returns once the envelope is queued; handler work happens later.
func (r *Runtime) PushIncoming(e *envelope.Envelope) error {
	if r.closed.Load() {
		return ErrRuntimeClosed
	}
	if err := e.Validate(); err != nil {
		r.badEnvelopes.Add(1)
		logger.Warn("[Bus] dropping bad envelope: %v (total=%d)", err, r.badEnvelopes.Load())
		return err
	}
	r.queue <- e
	return nil
}

// TryPushIncoming is the drop policy: a full queue fails immediately with
// ErrBufferFull instead of blocking the adapter.
func (r *Runtime) TryPushIncoming(e *envelope.Envelope) error {
	if r.closed.Load() {
		return ErrRuntimeClosed
	}
	if err := e.Validate(); err != nil {
		r.badEnvelopes.Add(1)
		return err
	}
	select {
	case r.queue <- e:
		return nil
	default:
		r.dropped.Add(1)
		logger.Warn("[Bus] inbound queue full, dropping envelope %s (dropped=%d)", e.MessageID, r.dropped.Load())
		return ErrBufferFull
	}
}

// SendOutgoing synchronously hands an envelope to the adapter sink for its
// platform.
func (r *Runtime) SendOutgoing(ctx context.Context, e *envelope.Envelope) error {
	r.mu.RLock()
	sink, ok := r.sinks[e.Platform]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoAdapterForPlatform, e.Platform)
	}
	e.Direction = envelope.DirectionOutgoing
	return sink.Send(ctx, e)
}

// dispatchLoop pops envelopes and hands each to its stream's serial
// executor, preserving per-stream arrival order.
func (r *Runtime) dispatchLoop(ctx context.Context) {
	defer close(r.done)
	for e := range r.queue {
		e := e
		st := r.streams.GetOrCreate(e)
		if !st.Submit(func() { r.process(ctx, e) }) {
			logger.Debug("[Bus] stream %s destroyed, dropping envelope %s", st.ID, e.MessageID)
		}
	}
}

// process runs hooks and the selected route for one envelope. All failures
// are classified and swallowed so routing continues for later envelopes.
func (r *Runtime) process(ctx context.Context, e *envelope.Envelope) {
	err := r.runPipeline(ctx, e)
	if err == nil {
		return
	}
	if errors.Is(err, ErrSkipMessage) {
		logger.Info("[Bus] envelope %s skipped by before-hook", e.MessageID)
	} else {
		logger.Error("[Bus] envelope %s processing fault: %v", e.MessageID, err)
	}
	r.mu.RLock()
	hooks := make([]ErrorHook, len(r.onErr))
	copy(hooks, r.onErr)
	r.mu.RUnlock()
	for _, h := range hooks {
		h(e, err)
	}
}

func (r *Runtime) runPipeline(ctx context.Context, e *envelope.Envelope) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	r.mu.RLock()
	before := make([]BeforeHook, len(r.before))
	copy(before, r.before)
	after := make([]AfterHook, len(r.after))
	copy(after, r.after)
	r.mu.RUnlock()

	for _, h := range before {
		if hookErr := h(e); hookErr != nil {
			return hookErr
		}
	}

	route, ok := r.selectRoute(e)
	if !ok {
		logger.Debug("[Bus] no route for envelope %s (type=%s)", e.MessageID, e.Info.Type)
		return nil
	}
	if handlerErr := route.Handler(ctx, e); handlerErr != nil {
		return fmt.Errorf("route %q: %w", route.Name, handlerErr)
	}

	for _, h := range after {
		h(e)
	}
	return nil
}

// selectRoute picks the first matching route, preferring an exact
// message_type match, then event routes (notice/meta), then generic routes.
func (r *Runtime) selectRoute(e *envelope.Envelope) (Route, bool) {
	r.mu.RLock()
	routes := make([]Route, len(r.routes))
	copy(routes, r.routes)
	r.mu.RUnlock()

	// Pass 1: explicit message_type match.
	for _, route := range routes {
		if route.MessageType != "" && route.MessageType == e.Info.Type && route.Predicate(e) {
			return route, true
		}
	}
	// Pass 2: event routes, for notice/meta traffic.
	if e.Info.Type == envelope.MessageTypeNotice || e.Info.Type == envelope.MessageTypeMeta {
		for _, route := range routes {
			if (route.MessageType == envelope.MessageTypeNotice || route.MessageType == envelope.MessageTypeMeta) && route.Predicate(e) {
				return route, true
			}
		}
	}
	// Pass 3: generic routes.
	for _, route := range routes {
		if route.MessageType == "" && route.Predicate(e) {
			return route, true
		}
	}
	return Route{}, false
}

// BadEnvelopeCount returns how many inbound envelopes failed validation.
func (r *Runtime) BadEnvelopeCount() int64 {
	return r.badEnvelopes.Load()
}
