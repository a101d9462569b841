package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/event"
)

func newTestScheduler() (*Scheduler, *event.Manager) {
	em := event.NewManager()
	return NewScheduler(em), em
}

func TestCreateValidation(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()
	noop := func(context.Context, map[string]interface{}) error { return nil }

	_, err := s.Create(ctx, TriggerTime, TriggerConfig{}, noop)
	assert.Error(t, err)

	_, err = s.Create(ctx, TriggerEvent, TriggerConfig{}, noop)
	assert.Error(t, err)

	_, err = s.Create(ctx, TriggerCustom, TriggerConfig{}, noop)
	assert.Error(t, err)

	id, err := s.Create(ctx, TriggerTime, TriggerConfig{DelaySeconds: 60}, noop, WithName("later"))
	require.NoError(t, err)

	info, ok := s.Info(id)
	require.True(t, ok)
	assert.Equal(t, "later", info.Name)
	assert.True(t, info.Active)
	assert.Zero(t, info.TriggerCount)
}

func TestEventEntryFiresOnTrigger(t *testing.T) {
	s, em := newTestScheduler()
	ctx := context.Background()

	fired := make(chan map[string]interface{}, 1)
	_, err := s.Create(ctx, TriggerEvent,
		TriggerConfig{EventName: event.ProactiveInitiation},
		func(_ context.Context, params map[string]interface{}) error {
			fired <- params
			return nil
		},
		WithName("cold-start"), Recurring())
	require.NoError(t, err)

	require.True(t, em.HasDirectListener(event.ProactiveInitiation, listenerID))

	em.Trigger(event.ProactiveInitiation, event.PermissionGroupSystem,
		event.Params{"stream_id": "qq:private:42"})

	select {
	case params := <-fired:
		assert.Equal(t, "qq:private:42", params["stream_id"])
	case <-time.After(20 * time.Millisecond):
		t.Fatal("event entry did not fire within 20ms")
	}
}

func TestOneShotEventEntryRemovedAfterFire(t *testing.T) {
	s, em := newTestScheduler()
	ctx := context.Background()

	var fires atomic.Int32
	id, err := s.Create(ctx, TriggerEvent,
		TriggerConfig{EventName: event.OnPlan},
		func(context.Context, map[string]interface{}) error {
			fires.Add(1)
			return nil
		})
	require.NoError(t, err)

	em.Trigger(event.OnPlan, event.PermissionGroupSystem, nil)
	s.wg.Wait()
	assert.Equal(t, int32(1), fires.Load())

	_, ok := s.Info(id)
	assert.False(t, ok)

	// Last subscriber gone: the direct listener must be unregistered and
	// further triggers must not fire anything.
	assert.False(t, em.HasDirectListener(event.OnPlan, listenerID))
	em.Trigger(event.OnPlan, event.PermissionGroupSystem, nil)
	s.wg.Wait()
	assert.Equal(t, int32(1), fires.Load())
}

func TestRemoveLastSubscriberUnregistersListener(t *testing.T) {
	s, em := newTestScheduler()
	ctx := context.Background()
	noop := func(context.Context, map[string]interface{}) error { return nil }

	a, _ := s.Create(ctx, TriggerEvent, TriggerConfig{EventName: event.OnPlan}, noop, Recurring())
	b, _ := s.Create(ctx, TriggerEvent, TriggerConfig{EventName: event.OnPlan}, noop, Recurring())

	s.Remove(a)
	assert.True(t, em.HasDirectListener(event.OnPlan, listenerID))
	s.Remove(b)
	assert.False(t, em.HasDirectListener(event.OnPlan, listenerID))
}

func TestTimeTriggerDue(t *testing.T) {
	now := time.Now()

	delay := &Entry{Kind: TriggerTime, CreatedAt: now.Add(-3 * time.Second),
		Config: TriggerConfig{DelaySeconds: 2}}
	assert.True(t, delay.due(now))

	notYet := &Entry{Kind: TriggerTime, CreatedAt: now.Add(-1 * time.Second),
		Config: TriggerConfig{DelaySeconds: 2}}
	assert.False(t, notYet.due(now))

	at := &Entry{Kind: TriggerTime, CreatedAt: now,
		Config: TriggerConfig{TriggerAt: now.Add(-time.Second)}}
	assert.True(t, at.due(now))

	recurring := &Entry{Kind: TriggerTime, Recurring: true, CreatedAt: now,
		LastTriggeredAt: now.Add(-10 * time.Second),
		Config:          TriggerConfig{TriggerAt: now.Add(-time.Minute), IntervalSeconds: 5}}
	assert.True(t, recurring.due(now))
	recurring.LastTriggeredAt = now.Add(-2 * time.Second)
	assert.False(t, recurring.due(now))
}

func TestCustomTriggerFiresOnTick(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()

	var armed atomic.Bool
	var fires atomic.Int32
	_, err := s.Create(ctx, TriggerCustom,
		TriggerConfig{Condition: func() (bool, error) { return armed.Load(), nil }},
		func(context.Context, map[string]interface{}) error {
			fires.Add(1)
			return nil
		},
		WithName("predicate"))
	require.NoError(t, err)

	s.tick(ctx, time.Now())
	assert.Zero(t, fires.Load())

	armed.Store(true)
	s.tick(ctx, time.Now())
	s.wg.Wait()
	assert.Equal(t, int32(1), fires.Load())
}

func TestConditionErrorCountsAsFalse(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()

	var fires atomic.Int32
	_, err := s.Create(ctx, TriggerCustom,
		TriggerConfig{Condition: func() (bool, error) { return true, assert.AnError }},
		func(context.Context, map[string]interface{}) error {
			fires.Add(1)
			return nil
		})
	require.NoError(t, err)

	s.tick(ctx, time.Now())
	s.wg.Wait()
	assert.Zero(t, fires.Load())
}

func TestPauseResumeAndTriggerNow(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()

	var fires atomic.Int32
	id, err := s.Create(ctx, TriggerTime,
		TriggerConfig{DelaySeconds: 3600},
		func(context.Context, map[string]interface{}) error {
			fires.Add(1)
			return nil
		},
		Recurring())
	require.NoError(t, err)

	require.True(t, s.Pause(id))
	s.tick(ctx, time.Now().Add(2*time.Hour))
	s.wg.Wait()
	assert.Zero(t, fires.Load(), "paused entry must not fire on tick")

	// trigger_now fires regardless of state but leaves the entry paused.
	require.True(t, s.TriggerNow(ctx, id))
	s.wg.Wait()
	assert.Equal(t, int32(1), fires.Load())
	info, _ := s.Info(id)
	assert.False(t, info.Active)

	require.True(t, s.Resume(id))
	info, _ = s.Info(id)
	assert.True(t, info.Active)
}

func TestTriggerNowThenRemoveEqualsRemove(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()

	id, _ := s.Create(ctx, TriggerTime, TriggerConfig{DelaySeconds: 1},
		func(context.Context, map[string]interface{}) error { return nil }, Recurring())

	require.True(t, s.TriggerNow(ctx, id))
	require.True(t, s.Remove(id))
	s.wg.Wait()

	// Future ticks see no trace of the entry.
	s.tick(ctx, time.Now().Add(time.Hour))
	_, ok := s.Info(id)
	assert.False(t, ok)
	assert.Zero(t, s.Stats().Total)
}

func TestListAndStats(t *testing.T) {
	s, _ := newTestScheduler()
	ctx := context.Background()
	noop := func(context.Context, map[string]interface{}) error { return nil }

	first, _ := s.Create(ctx, TriggerTime, TriggerConfig{DelaySeconds: 10}, noop, WithName("t1"))
	_, _ = s.Create(ctx, TriggerEvent, TriggerConfig{EventName: event.OnPlan}, noop, WithName("e1"), Recurring())
	second, _ := s.Create(ctx, TriggerTime, TriggerConfig{DelaySeconds: 20}, noop, WithName("t2"))
	s.Pause(second)

	all := s.List("")
	require.Len(t, all, 3)
	assert.Equal(t, first, all[0].ID, "list is creation-ordered")

	timed := s.List(TriggerTime)
	require.Len(t, timed, 2)

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.Active)
	assert.Equal(t, 1, st.Paused)
	assert.Equal(t, 2, st.ByKind[TriggerTime])
	assert.Equal(t, 1, st.ByKind[TriggerEvent])
	assert.Equal(t, 1.0, st.TickSeconds)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestScheduler()
	s.Start(context.Background())
	s.Start(context.Background()) // idempotent
	s.Stop()
	s.Stop()
}
