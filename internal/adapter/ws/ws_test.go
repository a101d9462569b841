package ws

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/bus"
	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	server   *Server
	http     *httptest.Server
	runtime  *bus.Runtime
	received chan *envelope.Envelope
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{received: make(chan *envelope.Envelope, 16)}

	h.runtime = bus.NewRuntime(stream.NewRegistry(0), 16)
	require.NoError(t, h.runtime.AddRoute(bus.Route{
		Name: "capture",
		Handler: func(_ context.Context, e *envelope.Envelope) error {
			h.received <- e
			return nil
		},
	}))
	ctx, cancel := context.WithCancel(context.Background())
	h.runtime.Start(ctx)

	h.server = (&Config{CallTimeout: 200 * time.Millisecond}).Complete().New(h.runtime)
	h.http = httptest.NewServer(h.server.Handler())

	t.Cleanup(func() {
		_ = h.server.Shutdown(context.Background())
		h.http.Close()
		h.runtime.Stop(context.Background())
		cancel()
	})
	return h
}

func (h *harness) dial(t *testing.T, platform string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http") + "/adapter/ws/" + platform
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (h *harness) waitSink(t *testing.T, platform string) *Sink {
	t.Helper()
	var sink *Sink
	require.Eventually(t, func() bool {
		s, ok := h.server.Sink(platform)
		sink = s
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	return sink
}

func (h *harness) waitEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	select {
	case e := <-h.received:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for routed envelope")
		return nil
	}
}

func inbound(id string, ts int64) *envelope.Envelope {
	return &envelope.Envelope{
		Direction:   envelope.DirectionIncoming,
		Platform:    "qq",
		MessageID:   id,
		TimestampMs: ts,
		Info: envelope.MessageInfo{
			Type: envelope.MessageTypePrivate,
			User: &envelope.UserInfo{ID: "1"},
		},
		Segment: envelope.Text("hi"),
	}
}

func writeFrame(t *testing.T, conn *websocket.Conn, f bus.Frame) {
	t.Helper()
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) bus.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f bus.Frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestBatchEndpointRoutesEnvelopes(t *testing.T) {
	h := newHarness(t)

	body, err := envelope.EncodeBatch([]*envelope.Envelope{
		inbound("late", 200),
		inbound("early", 100),
	})
	require.NoError(t, err)

	resp, err := http.Post(h.http.URL+"/adapter/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Accepted int               `json:"accepted"`
		Results  []batchItemResult `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2, out.Accepted)
	require.Len(t, out.Results, 2)
	for _, r := range out.Results {
		assert.True(t, r.Accepted)
	}

	// Batch decoding orders by timestamp, so the earlier message routes
	// first despite arriving second in the payload.
	assert.Equal(t, "early", h.waitEnvelope(t).MessageID)
	assert.Equal(t, "late", h.waitEnvelope(t).MessageID)
}

func TestBatchEndpointRejectsGarbage(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.http.URL+"/adapter/messages", "application/json",
		strings.NewReader("not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBatchEndpointRefusesFutureSchema(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Post(h.http.URL+"/adapter/messages", "application/json",
		strings.NewReader(`{"schema_version": 99, "items": []}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestMessageFrameReachesRuntime(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "qq")

	payload, err := envelope.Encode(inbound("ws-1", 100))
	require.NoError(t, err)
	writeFrame(t, conn, bus.Frame{Type: bus.FrameMessage, Payload: payload})

	e := h.waitEnvelope(t)
	assert.Equal(t, "ws-1", e.MessageID)
	assert.Equal(t, "hi", e.PlainText())
}

func TestOutboundDeliveredOverWebSocket(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "qq")
	h.waitSink(t, "qq")

	out := inbound("reply-1", 100)
	out.Direction = envelope.DirectionOutgoing
	out.Segment = envelope.Text("pong")
	require.NoError(t, h.runtime.SendOutgoing(context.Background(), out))

	f := readFrame(t, conn)
	require.Equal(t, bus.FrameMessage, f.Type)
	got, err := envelope.Decode(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, "pong", got.PlainText())
	assert.Equal(t, envelope.DirectionOutgoing, got.Direction)
}

func TestAPICallRoundTrip(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t, "qq")
	sink := h.waitSink(t, "qq")

	// The adapter side answers the call with the same echo.
	go func() {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f bus.Frame
		if json.Unmarshal(data, &f) != nil || f.Type != bus.FrameAPICall {
			return
		}
		reply, _ := json.Marshal(bus.Frame{
			Type:    bus.FrameAPIResponse,
			Echo:    f.Echo,
			Payload: json.RawMessage(`{"group_count": 3}`),
		})
		_ = conn.WriteMessage(websocket.TextMessage, reply)
	}()

	resp, err := sink.Call(context.Background(), "get_group_list", map[string]interface{}{"self_id": "7"})
	require.NoError(t, err)
	assert.Contains(t, string(resp), "group_count")
}

func TestAPICallTimesOutWithoutResponse(t *testing.T) {
	h := newHarness(t)
	h.dial(t, "qq")
	sink := h.waitSink(t, "qq")

	_, err := sink.Call(context.Background(), "get_group_list", nil)
	require.ErrorIs(t, err, bus.ErrAdapterTimeout)
}

func TestReconnectReplacesSink(t *testing.T) {
	h := newHarness(t)
	h.dial(t, "qq")
	first := h.waitSink(t, "qq")

	h.dial(t, "qq")
	require.Eventually(t, func() bool {
		s, ok := h.server.Sink("qq")
		return ok && s != first
	}, 2*time.Second, 10*time.Millisecond)

	// The first connection is closed by the replacement.
	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous sink never closed")
	}
}
