// Package schedule implements the unified task scheduler: a one-second tick
// loop that fires callbacks on time, event, or predicate triggers.
package schedule

import (
	"context"
	"time"

	"github.com/lorikeet-ai/lorikeet/internal/core/event"
)

// TriggerKind selects how an entry is triggered.
type TriggerKind string

const (
	// TriggerTime fires after a delay, at an absolute moment, or on an
	// interval when recurring.
	TriggerTime TriggerKind = "time"

	// TriggerEvent fires when the event manager dispatches a named event.
	// Event entries are passive on the tick loop.
	TriggerEvent TriggerKind = "event"

	// TriggerCustom fires when a predicate evaluates true on a tick.
	TriggerCustom TriggerKind = "custom"
)

// Callback is the work an entry performs when fired. For event-triggered
// entries, params carries the event parameters merged over the bound args.
type Callback func(ctx context.Context, params map[string]interface{}) error

// Condition is the predicate for TriggerCustom entries, evaluated once per
// tick. A panic or error counts as false for that tick.
type Condition func() (bool, error)

// TriggerConfig carries the kind-specific trigger settings.
type TriggerConfig struct {
	// DelaySeconds fires once this many seconds after creation (or after
	// the previous fire, when recurring). TIME only.
	DelaySeconds float64

	// TriggerAt fires once the wall clock reaches this moment. TIME only.
	TriggerAt time.Time

	// IntervalSeconds is the repeat interval for recurring TIME entries
	// anchored at TriggerAt.
	IntervalSeconds float64

	// EventName is the subscribed event for EVENT entries.
	EventName event.Name

	// Condition is the predicate for CUSTOM entries.
	Condition Condition
}

// Entry is one scheduled task.
type Entry struct {
	ID       string
	Name     string
	Kind     TriggerKind
	Config   TriggerConfig
	Callback Callback

	// Args are bound parameters passed to every fire.
	Args map[string]interface{}

	Recurring bool
	Active    bool

	CreatedAt       time.Time
	LastTriggeredAt time.Time
	TriggerCount    int64

	// seq is the registration index, used for creation-order iteration.
	seq int64
}

// Info is the read-only snapshot returned by Scheduler.Info and List.
type Info struct {
	ID              string      `json:"schedule_id"`
	Name            string      `json:"name"`
	Kind            TriggerKind `json:"trigger_kind"`
	EventName       event.Name  `json:"event_name,omitempty"`
	Recurring       bool        `json:"recurring"`
	Active          bool        `json:"active"`
	CreatedAt       time.Time   `json:"created_at"`
	LastTriggeredAt time.Time   `json:"last_triggered_at,omitempty"`
	TriggerCount    int64       `json:"trigger_count"`
}

// Stats summarizes the scheduler state.
type Stats struct {
	Total       int                 `json:"total_tasks"`
	Active      int                 `json:"active_tasks"`
	Paused      int                 `json:"paused_tasks"`
	ByKind      map[TriggerKind]int `json:"by_kind"`
	TotalFires  int64               `json:"total_fires"`
	TickSeconds float64             `json:"tick_seconds"`
}

func (e *Entry) snapshot() Info {
	return Info{
		ID:              e.ID,
		Name:            e.Name,
		Kind:            e.Kind,
		EventName:       e.Config.EventName,
		Recurring:       e.Recurring,
		Active:          e.Active,
		CreatedAt:       e.CreatedAt,
		LastTriggeredAt: e.LastTriggeredAt,
		TriggerCount:    e.TriggerCount,
	}
}

// due reports whether a TIME entry should fire at now.
func (e *Entry) due(now time.Time) bool {
	cfg := e.Config
	switch {
	case !cfg.TriggerAt.IsZero():
		if e.Recurring && cfg.IntervalSeconds > 0 && !e.LastTriggeredAt.IsZero() {
			return now.Sub(e.LastTriggeredAt).Seconds() >= cfg.IntervalSeconds
		}
		return !now.Before(cfg.TriggerAt)
	case cfg.DelaySeconds > 0:
		anchor := e.CreatedAt
		if !e.LastTriggeredAt.IsZero() {
			anchor = e.LastTriggeredAt
		}
		return now.Sub(anchor).Seconds() >= cfg.DelaySeconds
	}
	return false
}
