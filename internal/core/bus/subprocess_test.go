package bus

import (
	"bufio"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// fakeAdapter speaks the subprocess wire protocol from the far end.
type fakeAdapter struct {
	in      *io.PipeReader // frames written by the sink
	out     *io.PipeWriter // frames read by the sink
	scanner *bufio.Scanner
}

func newSinkPair(t *testing.T, rt *Runtime) (*SubprocessSink, *fakeAdapter) {
	t.Helper()
	sinkIn, adapterOut := io.Pipe()
	adapterIn, sinkOut := io.Pipe()
	sink := NewSubprocessSink("qq", rt, sinkIn, sinkOut, nil)
	t.Cleanup(func() {
		_ = adapterOut.Close()
		_ = sinkOut.Close()
	})
	return sink, &fakeAdapter{in: adapterIn, out: adapterOut, scanner: bufio.NewScanner(adapterIn)}
}

func (a *fakeAdapter) readFrame(t *testing.T) Frame {
	t.Helper()
	require.True(t, a.scanner.Scan(), "expected a frame")
	var f Frame
	require.NoError(t, json.Unmarshal(a.scanner.Bytes(), &f))
	return f
}

func (a *fakeAdapter) writeFrame(t *testing.T, f Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	_, err = a.out.Write(append(data, '\n'))
	require.NoError(t, err)
}

func TestSubprocessSendFramesEnvelope(t *testing.T) {
	rt := NewRuntime(stream.NewRegistry(0), 4)
	sink, adapter := newSinkPair(t, rt)

	go func() {
		_ = sink.Send(context.Background(), incoming("1", "hello", 5))
	}()

	f := adapter.readFrame(t)
	assert.Equal(t, FrameMessage, f.Type)

	e, err := envelope.Decode(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, "hello", e.PlainText())
}

func TestSubprocessCallCorrelatesByEcho(t *testing.T) {
	rt := NewRuntime(stream.NewRegistry(0), 4)
	sink, adapter := newSinkPair(t, rt)

	type result struct {
		raw json.RawMessage
		err error
	}
	got := make(chan result, 1)
	go func() {
		raw, err := sink.Call(context.Background(), "send_msg", map[string]interface{}{"user_id": "1"})
		got <- result{raw, err}
	}()

	f := adapter.readFrame(t)
	require.Equal(t, FrameAPICall, f.Type)
	require.NotEmpty(t, f.Echo)

	// A response with the wrong echo must be dropped, not delivered.
	adapter.writeFrame(t, Frame{Type: FrameAPIResponse, Echo: "bogus", Payload: json.RawMessage(`{"status":"wrong"}`)})
	adapter.writeFrame(t, Frame{Type: FrameAPIResponse, Echo: f.Echo, Payload: json.RawMessage(`{"status":"ok"}`)})

	res := <-got
	require.NoError(t, res.err)
	assert.JSONEq(t, `{"status":"ok"}`, string(res.raw))
}

func TestSubprocessCallTimesOut(t *testing.T) {
	rt := NewRuntime(stream.NewRegistry(0), 4)
	rt.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rt.Stop(ctx)
	})

	sink, adapter := newSinkPair(t, rt)
	sink.SetCallTimeout(30 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := sink.Call(context.Background(), "send_msg", nil)
		done <- err
	}()

	// Drain the call frame but never answer.
	_ = adapter.readFrame(t)
	assert.ErrorIs(t, <-done, ErrAdapterTimeout)

	// The runtime keeps processing after the timeout.
	handled := make(chan struct{}, 1)
	_ = rt.AddRoute(Route{Name: "all", Handler: func(context.Context, *envelope.Envelope) error {
		handled <- struct{}{}
		return nil
	}})
	require.NoError(t, rt.PushIncoming(incoming("1", "still-alive", 9)))
	select {
	case <-handled:
	case <-time.After(time.Second):
		t.Fatal("runtime stopped processing after adapter timeout")
	}
}

func TestSubprocessInboundMessageFrameRouted(t *testing.T) {
	rt := NewRuntime(stream.NewRegistry(0), 4)
	rt.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		rt.Stop(ctx)
	})

	handled := make(chan string, 1)
	_ = rt.AddRoute(Route{Name: "all", Handler: func(_ context.Context, e *envelope.Envelope) error {
		handled <- e.PlainText()
		return nil
	}})

	_, adapter := newSinkPair(t, rt)

	payload, err := envelope.Encode(incoming("1", "from-adapter", 7))
	require.NoError(t, err)
	adapter.writeFrame(t, Frame{Type: FrameMessage, Payload: payload})

	select {
	case text := <-handled:
		assert.Equal(t, "from-adapter", text)
	case <-time.After(time.Second):
		t.Fatal("inbound frame never routed")
	}
}
