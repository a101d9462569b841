package bus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// DefaultCallTimeout bounds API calls awaiting an echoed response.
const DefaultCallTimeout = 10 * time.Second

// Frame kinds on the subprocess duplex channel.
const (
	FrameMessage     = "message"
	FrameAPICall     = "api_call"
	FrameAPIResponse = "api_response"
)

// Frame is the outer wire record on the subprocess channel. Frames are
// newline-delimited JSON.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Echo    string          `json:"echo,omitempty"`
}

// APICall is the payload of an api_call frame.
type APICall struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// SubprocessSink frames envelopes over a duplex byte channel to an adapter
// running out of process, and multiplexes API responses by correlation id
// (echo). Inbound message frames are pushed into the runtime.
type SubprocessSink struct {
	platform string
	runtime  *Runtime

	wmu    sync.Mutex
	writer *bufio.Writer

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	timeout time.Duration
	closer  io.Closer
	done    chan struct{}
}

// NewSubprocessSink wires a sink over the duplex pair and starts the read
// loop. closer is closed on Close; pass nil when the caller owns the pipes.
func NewSubprocessSink(platform string, rt *Runtime, r io.Reader, w io.Writer, closer io.Closer) *SubprocessSink {
	s := &SubprocessSink{
		platform: platform,
		runtime:  rt,
		writer:   bufio.NewWriter(w),
		pending:  make(map[string]chan json.RawMessage),
		timeout:  DefaultCallTimeout,
		closer:   closer,
		done:     make(chan struct{}),
	}
	go s.readLoop(bufio.NewScanner(r))
	return s
}

// SetCallTimeout overrides the default response deadline.
func (s *SubprocessSink) SetCallTimeout(d time.Duration) {
	s.timeout = d
}

func (s *SubprocessSink) Platform() string { return s.platform }

// Send frames an outbound envelope as a message frame. No response is
// awaited.
func (s *SubprocessSink) Send(_ context.Context, e *envelope.Envelope) error {
	payload, err := envelope.Encode(e)
	if err != nil {
		return err
	}
	return s.writeFrame(Frame{Type: FrameMessage, Payload: payload})
}

// Call issues an api_call frame and waits for the response frame carrying
// the same echo. Missing responses fail with ErrAdapterTimeout after the
// configured deadline.
func (s *SubprocessSink) Call(ctx context.Context, action string, params map[string]interface{}) (json.RawMessage, error) {
	payload, err := json.Marshal(APICall{Action: action, Params: params})
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

	if err := s.writeFrame(Frame{Type: FrameAPICall, Payload: payload, Echo: echo}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("%w: action %q (echo=%s)", ErrAdapterTimeout, action, echo)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, fmt.Errorf("%w: sink closed", ErrAdapterTimeout)
	}
}

func (s *SubprocessSink) writeFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return s.writer.Flush()
}

// readLoop decodes inbound frames: message frames feed the runtime,
// api_response frames resolve pending calls, responses with no matching
// echo are dropped.
func (s *SubprocessSink) readLoop(scanner *bufio.Scanner) {
	defer close(s.done)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var f Frame
		if err := json.Unmarshal(line, &f); err != nil {
			logger.Warn("[Bus] %s: dropping unparseable frame: %v", s.platform, err)
			continue
		}
		switch f.Type {
		case FrameMessage:
			e, err := envelope.Decode(f.Payload)
			if err != nil {
				logger.Warn("[Bus] %s: dropping bad envelope frame: %v", s.platform, err)
				continue
			}
			if err := s.runtime.PushIncoming(e); err != nil {
				logger.Warn("[Bus] %s: push incoming: %v", s.platform, err)
			}
		case FrameAPIResponse:
			s.pendingMu.Lock()
			ch, ok := s.pending[f.Echo]
			s.pendingMu.Unlock()
			if !ok {
				logger.Debug("[Bus] %s: response with unknown echo %q dropped", s.platform, f.Echo)
				continue
			}
			ch <- f.Payload
		default:
			logger.Debug("[Bus] %s: ignoring frame type %q", s.platform, f.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("[Bus] %s: read loop ended: %v", s.platform, err)
	}
}

// Close tears down the channel owner, if any.
func (s *SubprocessSink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
