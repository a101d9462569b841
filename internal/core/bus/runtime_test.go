package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
)

func incoming(user, text string, stamp int64) *envelope.Envelope {
	return &envelope.Envelope{
		Direction:   envelope.DirectionIncoming,
		Platform:    "qq",
		MessageID:   text,
		TimestampMs: stamp,
		Info: envelope.MessageInfo{
			Type: envelope.MessageTypePrivate,
			User: &envelope.UserInfo{ID: user},
		},
		Segment: envelope.Text(text),
	}
}

func newRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt := NewRuntime(stream.NewRegistry(0), 16)
	rt.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rt.Stop(ctx)
	})
	return rt
}

func TestPerStreamSerialOrder(t *testing.T) {
	rt := newRuntime(t)

	var mu sync.Mutex
	seen := map[string][]string{}
	var wg sync.WaitGroup

	require.NoError(t, rt.AddRoute(Route{
		Name: "normal_message",
		Handler: func(_ context.Context, e *envelope.Envelope) error {
			defer wg.Done()
			mu.Lock()
			seen[e.StreamID()] = append(seen[e.StreamID()], e.MessageID)
			mu.Unlock()
			return nil
		},
	}))

	users := []string{"1", "2"}
	for i := 0; i < 20; i++ {
		for _, u := range users {
			wg.Add(1)
			require.NoError(t, rt.PushIncoming(incoming(u, u+"-"+string(rune('a'+i)), int64(i))))
		}
	}
	wg.Wait()

	for _, u := range users {
		msgs := seen["qq:private:"+u]
		require.Len(t, msgs, 20)
		for i := 1; i < len(msgs); i++ {
			assert.Less(t, msgs[i-1], msgs[i], "stream %s out of order", u)
		}
	}
}

func TestRouteSelectionPrefersMessageType(t *testing.T) {
	rt := newRuntime(t)
	picked := make(chan string, 1)

	_ = rt.AddRoute(Route{
		Name:    "generic",
		Handler: func(context.Context, *envelope.Envelope) error { picked <- "generic"; return nil },
	})
	_ = rt.AddRoute(Route{
		Name:        "private",
		MessageType: envelope.MessageTypePrivate,
		Handler:     func(context.Context, *envelope.Envelope) error { picked <- "private"; return nil },
	})

	require.NoError(t, rt.PushIncoming(incoming("1", "hello", 1)))
	assert.Equal(t, "private", <-picked)
}

func TestEventRouteCatchesNotice(t *testing.T) {
	rt := newRuntime(t)
	picked := make(chan string, 1)

	_ = rt.AddRoute(Route{
		Name:        "notices",
		MessageType: envelope.MessageTypeNotice,
		Handler:     func(context.Context, *envelope.Envelope) error { picked <- "notices"; return nil },
	})

	e := incoming("1", "poke", 1)
	e.Info.Type = envelope.MessageTypeMeta
	e.Info.User = nil
	require.NoError(t, rt.PushIncoming(e))
	assert.Equal(t, "notices", <-picked)
}

func TestBeforeHookSkipAbortsWithoutFault(t *testing.T) {
	rt := newRuntime(t)

	handled := make(chan struct{}, 1)
	errs := make(chan error, 1)

	rt.RegisterBeforeHook(func(e *envelope.Envelope) error {
		if e.PlainText() == "spam" {
			return ErrSkipMessage
		}
		return nil
	})
	rt.RegisterErrorHook(func(_ *envelope.Envelope, err error) { errs <- err })
	_ = rt.AddRoute(Route{
		Name:    "all",
		Handler: func(context.Context, *envelope.Envelope) error { handled <- struct{}{}; return nil },
	})

	require.NoError(t, rt.PushIncoming(incoming("1", "spam", 1)))
	assert.ErrorIs(t, <-errs, ErrSkipMessage)
	select {
	case <-handled:
		t.Fatal("handler ran despite skip")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHandlerPanicDoesNotStopRouting(t *testing.T) {
	rt := newRuntime(t)

	handled := make(chan string, 2)
	_ = rt.AddRoute(Route{
		Name: "flaky",
		Handler: func(_ context.Context, e *envelope.Envelope) error {
			if e.PlainText() == "boom" {
				panic("exploded")
			}
			handled <- e.PlainText()
			return nil
		},
	})

	require.NoError(t, rt.PushIncoming(incoming("1", "boom", 1)))
	require.NoError(t, rt.PushIncoming(incoming("1", "fine", 2)))
	assert.Equal(t, "fine", <-handled)
}

func TestPushIncomingRejectsBadEnvelope(t *testing.T) {
	rt := newRuntime(t)

	bad := incoming("1", "x", 1)
	bad.Platform = ""
	err := rt.PushIncoming(bad)
	assert.ErrorIs(t, err, envelope.ErrBadEnvelope)
	assert.Equal(t, int64(1), rt.BadEnvelopeCount())
}

func TestTryPushIncomingBufferFull(t *testing.T) {
	// No Start: the queue fills up because nothing drains it.
	rt := NewRuntime(stream.NewRegistry(0), 2)
	require.NoError(t, rt.TryPushIncoming(incoming("1", "a", 1)))
	require.NoError(t, rt.TryPushIncoming(incoming("1", "b", 2)))
	assert.ErrorIs(t, rt.TryPushIncoming(incoming("1", "c", 3)), ErrBufferFull)
}

func TestSendOutgoing(t *testing.T) {
	rt := newRuntime(t)

	sent := make(chan *envelope.Envelope, 1)
	rt.RegisterSink(NewInProcessSink("qq", func(_ context.Context, e *envelope.Envelope) error {
		sent <- e
		return nil
	}))

	out := incoming("1", "reply", 10)
	require.NoError(t, rt.SendOutgoing(context.Background(), out))
	got := <-sent
	assert.Equal(t, envelope.DirectionOutgoing, got.Direction)

	other := incoming("1", "x", 11)
	other.Platform = "xmpp"
	assert.ErrorIs(t, rt.SendOutgoing(context.Background(), other), ErrNoAdapterForPlatform)
}

func TestAfterHooksRunOnSuccessOnly(t *testing.T) {
	rt := newRuntime(t)

	after := make(chan string, 2)
	rt.RegisterAfterHook(func(e *envelope.Envelope) { after <- e.PlainText() })
	_ = rt.AddRoute(Route{
		Name: "maybe",
		Handler: func(_ context.Context, e *envelope.Envelope) error {
			if e.PlainText() == "fail" {
				return assert.AnError
			}
			return nil
		},
	})

	require.NoError(t, rt.PushIncoming(incoming("1", "fail", 1)))
	require.NoError(t, rt.PushIncoming(incoming("1", "ok", 2)))
	assert.Equal(t, "ok", <-after)
}
