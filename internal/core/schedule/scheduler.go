package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorikeet-ai/lorikeet/internal/core/event"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// TickInterval is the fixed scheduler cadence. Not user-tunable.
const TickInterval = time.Second

// listenerID is the direct-listener identity the scheduler registers with
// the event manager, one per distinct event name.
const listenerID = "unified-scheduler"

// Scheduler fires callbacks when time, event, or predicate conditions are
// met, with second-level resolution. Event-triggered entries bypass the
// tick loop entirely: the event manager calls back into the scheduler the
// moment the event is dispatched.
type Scheduler struct {
	mu      sync.Mutex
	entries map[string]*Entry

	// eventSubs tracks which event names currently hold a direct listener.
	eventSubs map[event.Name]int

	events *event.Manager

	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	totalFires int64
	nextSeq    int64
}

// NewScheduler creates a stopped scheduler bound to the event manager.
func NewScheduler(events *event.Manager) *Scheduler {
	return &Scheduler{
		entries:   make(map[string]*Entry),
		eventSubs: make(map[event.Name]int),
		events:    events,
	}
}

// Start launches the tick loop. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)
	logger.Info("[Scheduler] started (tick=%s)", TickInterval)
}

// Stop cancels the tick loop and waits for in-flight callbacks. Removal of
// individual entries is cooperative; running callbacks are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.wg.Wait()
	logger.Info("[Scheduler] stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick snapshots active entries, evaluates TIME and CUSTOM triggers, and
// fires eligible entries concurrently. EVENT entries are passive here.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	candidates := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Active && e.Kind != TriggerEvent {
			candidates = append(candidates, e)
		}
	}
	s.mu.Unlock()

	for _, e := range candidates {
		eligible := false
		switch e.Kind {
		case TriggerTime:
			eligible = e.due(now)
		case TriggerCustom:
			eligible = s.checkCondition(e)
		}
		if eligible {
			s.fire(ctx, e, nil)
		}
	}
}

// checkCondition evaluates a CUSTOM predicate; any error or panic counts
// as false for this tick.
func (s *Scheduler) checkCondition(e *Entry) (result bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("[Scheduler] condition for %q (%s) panicked: %v", e.Name, short(e.ID), r)
			result = false
		}
	}()

	if e.Config.Condition == nil {
		logger.Warn("[Scheduler] entry %q has no condition func", e.Name)
		return false
	}
	ok, err := e.Config.Condition()
	if err != nil {
		logger.Error("[Scheduler] condition for %q (%s) failed: %v", e.Name, short(e.ID), err)
		return false
	}
	return ok
}

// fire runs the entry callback on its own goroutine, updates bookkeeping,
// and removes non-recurring entries afterwards.
func (s *Scheduler) fire(ctx context.Context, e *Entry, eventParams event.Params) {
	s.mu.Lock()
	// Re-check: the entry may have been removed between snapshot and fire.
	if _, ok := s.entries[e.ID]; !ok {
		s.mu.Unlock()
		return
	}
	e.LastTriggeredAt = time.Now()
	e.TriggerCount++
	s.totalFires++
	oneShot := !e.Recurring
	if oneShot {
		e.Active = false
	}
	s.mu.Unlock()

	params := make(map[string]interface{}, len(e.Args)+len(eventParams))
	for k, v := range e.Args {
		params[k] = v
	}
	for k, v := range eventParams {
		params[k] = v
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("[Scheduler] callback for %q (%s) panicked: %v", e.Name, short(e.ID), r)
			}
		}()
		if err := e.Callback(ctx, params); err != nil {
			logger.Error("[Scheduler] callback for %q (%s) failed: %v", e.Name, short(e.ID), err)
		}
	}()

	if oneShot {
		s.Remove(e.ID)
		logger.Debug("[Scheduler] one-shot entry %q (%s) completed", e.Name, short(e.ID))
	}
}

// handleEvent is the direct-listener callback: it fires every active EVENT
// entry matching the event name, in creation order, with the event params.
func (s *Scheduler) handleEvent(ctx context.Context) event.DirectListener {
	return func(name event.Name, params event.Params) {
		s.mu.Lock()
		matches := make([]*Entry, 0, 2)
		for _, e := range s.entries {
			if e.Kind == TriggerEvent && e.Config.EventName == name && e.Active {
				matches = append(matches, e)
			}
		}
		s.mu.Unlock()

		if len(matches) == 0 {
			return
		}
		// Map iteration order is random; restore creation order.
		sortEntriesByCreation(matches)
		for _, e := range matches {
			s.fire(ctx, e, params)
		}
	}
}

// CreateOption mutates a new entry before registration.
type CreateOption func(*Entry)

// WithName sets a human-readable entry name.
func WithName(name string) CreateOption {
	return func(e *Entry) { e.Name = name }
}

// WithArgs binds parameters passed to every fire.
func WithArgs(args map[string]interface{}) CreateOption {
	return func(e *Entry) { e.Args = args }
}

// Recurring marks the entry as repeating.
func Recurring() CreateOption {
	return func(e *Entry) { e.Recurring = true }
}

// Create registers a new entry and returns its id. EVENT entries register a
// direct listener with the event manager on first use of their event name.
func (s *Scheduler) Create(ctx context.Context, kind TriggerKind, cfg TriggerConfig, cb Callback, opts ...CreateOption) (string, error) {
	if cb == nil {
		return "", fmt.Errorf("create schedule: nil callback")
	}
	switch kind {
	case TriggerTime:
		if cfg.TriggerAt.IsZero() && cfg.DelaySeconds <= 0 {
			return "", fmt.Errorf("create schedule: TIME trigger needs delay_seconds or trigger_at")
		}
	case TriggerEvent:
		if cfg.EventName == "" {
			return "", fmt.Errorf("create schedule: EVENT trigger needs event_name")
		}
	case TriggerCustom:
		if cfg.Condition == nil {
			return "", fmt.Errorf("create schedule: CUSTOM trigger needs condition_fn")
		}
	default:
		return "", fmt.Errorf("create schedule: unknown trigger kind %q", kind)
	}

	e := &Entry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Config:    cfg,
		Callback:  cb,
		Active:    true,
		CreatedAt: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Name == "" {
		e.Name = "task-" + short(e.ID)
	}

	s.mu.Lock()
	s.nextSeq++
	e.seq = s.nextSeq
	s.entries[e.ID] = e
	if kind == TriggerEvent {
		name := cfg.EventName
		s.eventSubs[name]++
		if s.eventSubs[name] == 1 {
			s.events.RegisterDirectListener(name, listenerID, s.handleEvent(ctx))
		}
	}
	s.mu.Unlock()

	logger.Info("[Scheduler] created entry %q (%s, kind=%s, recurring=%v)", e.Name, short(e.ID), kind, e.Recurring)
	return e.ID, nil
}

// Remove deletes an entry. When the last EVENT entry for an event name is
// removed, the direct listener is unregistered. In-flight callbacks are not
// interrupted.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.entries, id)
	if e.Kind == TriggerEvent {
		name := e.Config.EventName
		s.eventSubs[name]--
		if s.eventSubs[name] <= 0 {
			delete(s.eventSubs, name)
			s.mu.Unlock()
			s.events.UnregisterDirectListener(name, listenerID)
			logger.Debug("[Scheduler] last subscriber for event %q removed, listener unregistered", name)
			return true
		}
	}
	s.mu.Unlock()
	return true
}

// Pause deactivates an entry without removing it.
func (s *Scheduler) Pause(id string) bool {
	return s.setActive(id, false)
}

// Resume reactivates a paused entry.
func (s *Scheduler) Resume(id string) bool {
	return s.setActive(id, true)
}

func (s *Scheduler) setActive(id string, active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return false
	}
	e.Active = active
	return true
}

// TriggerNow forces an immediate fire regardless of trigger state. A paused
// entry fires but stays paused.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return false
	}

	// Forced fires ignore trigger state; a paused entry fires once and
	// stays paused.
	s.fire(ctx, e, nil)
	return true
}

// Info returns a snapshot of the entry, or false when absent.
func (s *Scheduler) Info(id string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return Info{}, false
	}
	return e.snapshot(), true
}

// List returns snapshots of all entries, optionally filtered by kind,
// ordered by creation time.
func (s *Scheduler) List(kind TriggerKind) []Info {
	s.mu.Lock()
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if kind == "" || e.Kind == kind {
			entries = append(entries, e)
		}
	}
	s.mu.Unlock()

	sortEntriesByCreation(entries)
	infos := make([]Info, len(entries))
	for i, e := range entries {
		infos[i] = e.snapshot()
	}
	return infos
}

// Stats returns aggregate counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		ByKind:      map[TriggerKind]int{TriggerTime: 0, TriggerEvent: 0, TriggerCustom: 0},
		TotalFires:  s.totalFires,
		TickSeconds: TickInterval.Seconds(),
	}
	for _, e := range s.entries {
		st.Total++
		if e.Active {
			st.Active++
		}
		st.ByKind[e.Kind]++
	}
	st.Paused = st.Total - st.Active
	return st
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sortEntriesByCreation(entries []*Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
}
