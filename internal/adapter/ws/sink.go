package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lorikeet-ai/lorikeet/internal/core/bus"
	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// Sink frames envelopes over one WebSocket connection to a platform adapter.
// It speaks the same outer frame protocol as the subprocess channel: message
// frames carry envelopes, api_call/api_response frames are correlated by echo.
type Sink struct {
	platform string
	runtime  *bus.Runtime
	conn     *websocket.Conn

	wmu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	timeout   time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// NewSink wraps an established connection and starts the read loop.
func NewSink(platform string, rt *bus.Runtime, conn *websocket.Conn) *Sink {
	s := &Sink{
		platform: platform,
		runtime:  rt,
		conn:     conn,
		pending:  make(map[string]chan json.RawMessage),
		timeout:  bus.DefaultCallTimeout,
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// SetCallTimeout overrides the default response deadline.
func (s *Sink) SetCallTimeout(d time.Duration) {
	s.timeout = d
}

func (s *Sink) Platform() string { return s.platform }

// Done is closed when the read loop ends, whether by Close or by the peer
// disconnecting.
func (s *Sink) Done() <-chan struct{} { return s.done }

// Send frames an outbound envelope as a message frame. No response is
// awaited.
func (s *Sink) Send(_ context.Context, e *envelope.Envelope) error {
	payload, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	return s.writeFrame(bus.Frame{Type: bus.FrameMessage, Payload: payload})
}

// Call issues an api_call frame and waits for the response carrying the same
// echo. Missing responses fail with bus.ErrAdapterTimeout.
func (s *Sink) Call(ctx context.Context, action string, params map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(bus.APICall{Action: action, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal api call: %w", err)
	}

	echo := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	s.pendingMu.Lock()
	s.pending[echo] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, echo)
		s.pendingMu.Unlock()
	}()

	if err := s.writeFrame(bus.Frame{Type: bus.FrameAPICall, Payload: payload, Echo: echo}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: action %q (echo=%s)", bus.ErrAdapterTimeout, action, echo)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("%w: connection closed", bus.ErrAdapterTimeout)
	}
}

// writeFrame serializes through the sonic facade; gorilla's WriteJSON would
// bypass it.
func (s *Sink) writeFrame(f bus.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop decodes inbound frames until the connection drops: message frames
// feed the runtime, api_response frames resolve pending calls, responses with
// no matching echo are dropped.
func (s *Sink) readLoop() {
	defer close(s.done)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Info("[Adapter] %s: connection closed by peer", s.platform)
			} else {
				logger.Warn("[Adapter] %s: read loop ended: %v", s.platform, err)
			}
			return
		}
		var f bus.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			logger.Warn("[Adapter] %s: dropping unparseable frame: %v", s.platform, err)
			continue
		}
		switch f.Type {
		case bus.FrameMessage:
			e, err := envelope.Decode(f.Payload)
			if err != nil {
				logger.Warn("[Adapter] %s: dropping bad envelope frame: %v", s.platform, err)
				continue
			}
			if err := s.runtime.PushIncoming(e); err != nil {
				logger.Warn("[Adapter] %s: push incoming: %v", s.platform, err)
			}
		case bus.FrameAPIResponse:
			s.pendingMu.Lock()
			ch, ok := s.pending[f.Echo]
			s.pendingMu.Unlock()
			if !ok {
				logger.Debug("[Adapter] %s: response with unknown echo %q dropped", s.platform, f.Echo)
				continue
			}
			ch <- f.Payload
		default:
			logger.Debug("[Adapter] %s: ignoring frame type %q", s.platform, f.Type)
		}
	}
}

// Close tears down the connection. The read loop exits on the resulting read
// error.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}
