// Package stream tracks conversation context per (platform, party) pair and
// provides the per-stream serial execution guarantee.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// DefaultWindowSize bounds the recent-message ring per stream.
const DefaultWindowSize = 30

// mailboxSize bounds the per-stream serial queue. Submissions beyond it
// block the caller, which is the runtime's dispatch goroutine.
const mailboxSize = 64

// Stream is one conversation thread. The recent window is guarded by the
// stream's own lock; task submission is serialized through the mailbox so
// handlers for the same stream never run concurrently.
type Stream struct {
	ID       string
	Platform string

	mu          sync.Mutex
	window      []*envelope.Envelope
	windowSize  int
	lastActive  time.Time
	lastStampMs int64

	// contextCache holds the last rendered prompt context, invalidated on
	// every append.
	contextCache string

	mailbox chan func()
	done    chan struct{}
	closed  bool
}

func newStream(id, platform string, windowSize int) *Stream {
	s := &Stream{
		ID:         id,
		Platform:   platform,
		windowSize: windowSize,
		lastActive: time.Now(),
		mailbox:    make(chan func(), mailboxSize),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

// run drains the mailbox, executing tasks strictly in submission order.
func (s *Stream) run() {
	defer close(s.done)
	for task := range s.mailbox {
		task()
	}
}

// Submit enqueues a task on the stream's serial executor. Returns false
// when the stream has been destroyed.
func (s *Stream) Submit(task func()) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	defer func() {
		// Losing the race with close() is tolerated: the task is dropped
		// like every other in-flight item of a destroyed stream.
		_ = recover()
	}()
	s.mailbox <- task
	return true
}

// Append records an envelope in the recent window, clamping timestamps so
// they never decrease within the stream, and invalidates the context cache.
func (s *Stream) Append(e *envelope.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.TimestampMs < s.lastStampMs {
		logger.Debug("[Stream] %s: clamping regressed timestamp %d -> %d", s.ID, e.TimestampMs, s.lastStampMs)
		clone := *e
		clone.TimestampMs = s.lastStampMs
		e = &clone
	}
	s.lastStampMs = e.TimestampMs

	s.window = append(s.window, e)
	if len(s.window) > s.windowSize {
		s.window = s.window[len(s.window)-s.windowSize:]
	}
	s.lastActive = time.Now()
	s.contextCache = ""
}

// Recent returns a copy of the window, oldest first.
func (s *Stream) Recent() []*envelope.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*envelope.Envelope, len(s.window))
	copy(out, s.window)
	return out
}

// LastActive returns the last append or creation time.
func (s *Stream) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// ContextCache returns the cached prompt context and whether it is valid.
func (s *Stream) ContextCache() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contextCache, s.contextCache != ""
}

// SetContextCache stores a rendered prompt context for reuse until the next
// append.
func (s *Stream) SetContextCache(rendered string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contextCache = rendered
}

// close stops the serial executor. Pending tasks are dropped.
func (s *Stream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.mailbox)
	<-s.done
}

// Registry owns all live streams, keyed by stream id.
type Registry struct {
	mu         sync.RWMutex
	streams    map[string]*Stream
	windowSize int
}

// NewRegistry creates an empty stream registry. windowSize <= 0 selects
// DefaultWindowSize.
func NewRegistry(windowSize int) *Registry {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Registry{
		streams:    make(map[string]*Stream),
		windowSize: windowSize,
	}
}

// GetOrCreate returns the stream for the envelope, creating it lazily on
// first sight.
func (r *Registry) GetOrCreate(e *envelope.Envelope) *Stream {
	return r.ColdStart(e.StreamID(), e.Platform)
}

// ColdStart returns the stream with the given id, creating it if missing.
// Used by proactive initiation, where no inbound envelope exists yet.
func (r *Registry) ColdStart(id, platform string) *Stream {
	r.mu.RLock()
	if s, ok := r.streams[id]; ok {
		r.mu.RUnlock()
		return s
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.streams[id]; ok {
		return s
	}
	s := newStream(id, platform, r.windowSize)
	r.streams[id] = s
	logger.Info("[Stream] created stream %s", id)
	return s
}

// Get returns the stream if it exists.
func (r *Registry) Get(id string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[id]
	return s, ok
}

// ResetPlatform destroys every stream belonging to the platform. This is
// the only path that removes streams.
func (r *Registry) ResetPlatform(platform string) int {
	r.mu.Lock()
	var victims []*Stream
	for id, s := range r.streams {
		if s.Platform == platform {
			victims = append(victims, s)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.close()
	}
	if len(victims) > 0 {
		logger.Info("[Stream] platform %s reset, %d streams destroyed", platform, len(victims))
	}
	return len(victims)
}

// Shutdown drains all streams: waits until every serial executor finishes
// its queued work or the context expires.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.streams = make(map[string]*Stream)
	r.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		for _, s := range streams {
			s.close()
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
		logger.Warn("[Stream] shutdown deadline reached with streams still draining")
	}
}

// Len returns the number of live streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
