// Package ws exposes the adapter boundary over HTTP: a batch message intake
// endpoint and a WebSocket transport that registers one outbound sink per
// connected platform adapter.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/lorikeet-ai/lorikeet/internal/core/bus"
	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// Config defines the adapter server configuration.
type Config struct {
	// Addr is the listen address.
	Addr string

	// CallTimeout bounds API calls on WebSocket sinks. Zero selects
	// bus.DefaultCallTimeout.
	CallTimeout time.Duration
}

type completedConfig struct {
	*Config
}

// Complete fills in defaults that can be derived from other fields.
func (c *Config) Complete() *completedConfig {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:11789"
	}
	return &completedConfig{c}
}

// New builds the adapter server against the message runtime.
func (c *completedConfig) New(rt *bus.Runtime) *Server {
	s := &Server{
		runtime:     rt,
		addr:        c.Addr,
		callTimeout: c.CallTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		sinks: make(map[string]*Sink),
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.POST("/adapter/messages", s.handleBatch)
	engine.GET("/adapter/ws/:platform", s.handleConnect)
	s.engine = engine
	return s
}

// Server is the HTTP face of the adapter boundary.
type Server struct {
	runtime     *bus.Runtime
	engine      *gin.Engine
	addr        string
	callTimeout time.Duration
	upgrader    websocket.Upgrader

	mu    sync.Mutex
	sinks map[string]*Sink
	srv   *http.Server
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Sink returns the live WebSocket sink for a platform, if one is connected.
func (s *Server) Sink(platform string) (*Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sink, ok := s.sinks[platform]
	return sink, ok
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	errc := make(chan error, 1)
	go func() {
		logger.Info("[Adapter] server listening on %s", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown stops the listener and closes every connected sink.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	sinks := make([]*Sink, 0, len(s.sinks))
	for _, sink := range s.sinks {
		sinks = append(sinks, sink)
	}
	s.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Close(); err != nil {
			logger.Warn("[Adapter] closing sink %q: %v", sink.Platform(), err)
		}
	}
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// batchItemResult reports the fate of one envelope in a batch.
type batchItemResult struct {
	MessageID string `json:"message_id"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

// handleBatch handles POST /adapter/messages. The body is the envelope batch
// wire form; each item is enqueued with the drop policy so a full queue
// rejects items instead of stalling the adapter.
func (s *Server) handleBatch(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := envelope.DecodeBatch(body)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, envelope.ErrUnknownSchema) {
			status = http.StatusNotImplemented
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	results := make([]batchItemResult, 0, len(items))
	accepted := 0
	for _, e := range items {
		r := batchItemResult{MessageID: e.MessageID}
		if pushErr := s.runtime.TryPushIncoming(e); pushErr != nil {
			r.Error = pushErr.Error()
		} else {
			r.Accepted = true
			accepted++
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted, "results": results})
}

// handleConnect handles GET /adapter/ws/:platform. The upgraded connection
// becomes the platform's outbound sink; a reconnect replaces the previous
// one.
func (s *Server) handleConnect(c *gin.Context) {
	platform := c.Param("platform")
	if platform == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing platform"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("[Adapter] upgrade for platform %q: %v", platform, err)
		return
	}

	sink := NewSink(platform, s.runtime, conn)
	if s.callTimeout > 0 {
		sink.SetCallTimeout(s.callTimeout)
	}

	// Runtime registration first so the sink is routable as soon as it is
	// observable through Sink().
	s.runtime.RegisterSink(sink)
	s.mu.Lock()
	if prev, ok := s.sinks[platform]; ok {
		_ = prev.Close()
	}
	s.sinks[platform] = sink
	s.mu.Unlock()
	logger.Info("[Adapter] platform %q connected from %s", platform, c.ClientIP())

	// Drop the table entry once the connection dies so Sink() reports only
	// live connections.
	go func() {
		<-sink.Done()
		s.mu.Lock()
		if s.sinks[platform] == sink {
			delete(s.sinks, platform)
		}
		s.mu.Unlock()
		logger.Info("[Adapter] platform %q disconnected", platform)
	}()
}
