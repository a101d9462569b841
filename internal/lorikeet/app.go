// Package lorikeet assembles the platform: stores, message runtime, events,
// scheduler, plugin host, permission system, memory engine, reply generator,
// and the adapter server, with shutdown in reverse construction order.
package lorikeet

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/gg/gptr"

	"github.com/lorikeet-ai/lorikeet/internal/adapter/ws"
	"github.com/lorikeet-ai/lorikeet/internal/core/bus"
	"github.com/lorikeet-ai/lorikeet/internal/core/command"
	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/event"
	"github.com/lorikeet-ai/lorikeet/internal/core/llm"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/permission"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
	"github.com/lorikeet-ai/lorikeet/internal/core/reply"
	"github.com/lorikeet-ai/lorikeet/internal/core/schedule"
	"github.com/lorikeet-ai/lorikeet/internal/core/stream"
	"github.com/lorikeet-ai/lorikeet/internal/lorikeet/options"
	"github.com/lorikeet-ai/lorikeet/internal/store/bolt"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// AppName labels logs and default paths.
const AppName = "lorikeet"

// proactiveTaskName keys durable proactive schedules for callback rebinding
// after a restart.
const proactiveTaskName = "proactive-initiation"

// Application owns every subsystem for one process.
type Application struct {
	opts *options.Options

	db            *bolt.DB
	streamStore   *bolt.StreamStore
	messageStore  *bolt.MessageStore
	scheduleStore *bolt.ScheduleStore

	streams     *stream.Registry
	runtime     *bus.Runtime
	events      *event.Manager
	scheduler   *schedule.Scheduler
	permStore   *permission.Store
	permissions *permission.Manager
	host        *plugin.Host
	watcher     *plugin.ConfigWatcher
	dispatcher  *command.Dispatcher
	engine      *memory.Engine
	generator   *reply.Generator
	adapter     *ws.Server
}

// NewApplication constructs every subsystem without starting any of them.
func NewApplication(ctx context.Context, opts *options.Options) (*Application, error) {
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", errs)
	}
	if opts.LogFile != "" {
		if err := logger.InitLog(opts.LogFile); err != nil {
			return nil, err
		}
	}

	a := &Application{opts: opts}
	dataDir := opts.Server.DataDir

	db, err := bolt.Open(filepath.Join(dataDir, "lorikeet.db"))
	if err != nil {
		return nil, err
	}
	a.db = db
	a.streamStore = bolt.NewStreamStore(db)
	a.messageStore = bolt.NewMessageStore(db)
	a.scheduleStore = bolt.NewScheduleStore(db)

	a.streams = stream.NewRegistry(opts.Server.WindowSize)
	a.runtime = bus.NewRuntime(a.streams, opts.Server.QueueSize)
	a.events = event.NewManager()
	a.scheduler = schedule.NewScheduler(a.events)

	permStore, err := permission.OpenStore(filepath.Join(dataDir, "permission.db"))
	if err != nil {
		return nil, err
	}
	a.permStore = permStore
	a.permissions = permission.NewManager(permStore, opts.Permission.UserRefs())
	guard := permission.NewGuard(a.permissions)

	registry := plugin.NewRegistry()
	watcher, err := plugin.NewConfigWatcher(opts.Server.PluginConfigDir)
	if err != nil {
		return nil, err
	}
	a.watcher = watcher
	installer := newAssetInstaller(filepath.Join(dataDir, "plugin-deps"), opts.Dependencies.ProxyURL)
	resolver := plugin.NewResolver(installer, opts.Dependencies.ToPolicy())
	a.host = plugin.NewHost(registry, a.events, resolver, opts.Server.PluginConfigDir, watcher)

	permCmd := permission.NewCommand(a.permissions)
	if err := registry.Register(plugin.Component{Info: permCmd.Info(), Impl: permCmd}); err != nil {
		return nil, err
	}
	a.dispatcher = command.NewDispatcher(registry, guard)

	client, err := llm.NewOpenAIClient(ctx, llm.Config{
		BaseURL:     opts.Models.BaseURL,
		APIKey:      opts.Models.APIKey,
		Model:       opts.Models.Model,
		Temperature: gptr.Of(float32(opts.Models.Temperature)),
		MaxTokens:   opts.Models.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	embedBase := opts.Models.EmbeddingBaseURL
	if embedBase == "" {
		embedBase = opts.Models.BaseURL
	}
	embedder := embedding.NewOpenAIProvider(embedding.Options{
		APIKey:  opts.Models.APIKey,
		BaseURL: embedBase,
		Model:   opts.Models.EmbeddingModel,
	})

	memCfg := opts.Memory.ToConfig(dataDir)
	judgeClient, err := llm.NewOpenAIClient(ctx, judgeModelConfig(opts.Models, memCfg))
	if err != nil {
		return nil, err
	}

	a.engine, err = memory.NewEngine(memCfg, embedder, llm.NewJudge(judgeClient), a.scheduler)
	if err != nil {
		return nil, err
	}

	a.generator = reply.NewGenerator(client, a.engine, a.streams, a, a.events, registry, reply.Config{
		Persona:        opts.Reply.Persona,
		ReplyThreshold: opts.Reply.ReplyThreshold,
	})

	a.adapter = (&ws.Config{Addr: opts.Server.Addr}).Complete().New(a.runtime)

	a.installRoutes()
	a.installPersistence()
	return a, nil
}

// SendOutgoing delivers through the runtime and persists the outgoing record,
// satisfying the generator's Sender.
func (a *Application) SendOutgoing(ctx context.Context, e *envelope.Envelope) error {
	if err := a.runtime.SendOutgoing(ctx, e); err != nil {
		return err
	}
	a.persistEnvelope(e)
	return nil
}

// installRoutes registers the conversational routes: commands first, then the
// reply generator.
func (a *Application) installRoutes() {
	for _, mt := range []envelope.MessageType{envelope.MessageTypePrivate, envelope.MessageTypeGroup} {
		mt := mt
		_ = a.runtime.AddRoute(bus.Route{
			Name:        "conversation-" + string(mt),
			MessageType: mt,
			Handler:     a.handleConversation,
		})
	}
}

func (a *Application) handleConversation(ctx context.Context, e *envelope.Envelope) error {
	res, err := a.dispatcher.Dispatch(ctx, e)
	if res.Reply != "" {
		if sendErr := a.SendOutgoing(ctx, outgoingText(e, res.Reply)); sendErr != nil {
			logger.Warn("[App] command reply to %s: %v", e.StreamID(), sendErr)
		}
	}
	if err != nil {
		return err
	}
	if res.Consumed {
		return nil
	}
	return a.generator.HandleMessage(ctx, e)
}

// installPersistence keeps the bolt store in step with traffic: every routed
// inbound envelope lands in the message history and bumps stream metadata.
func (a *Application) installPersistence() {
	a.runtime.RegisterAfterHook(func(e *envelope.Envelope) {
		a.persistEnvelope(e)
	})
}

func (a *Application) persistEnvelope(e *envelope.Envelope) {
	ctx := context.Background()
	streamID := e.StreamID()
	r := bolt.RecordFromEnvelope(e)
	if r.Text != "" {
		if err := a.messageStore.Append(ctx, streamID, []bolt.MessageRecord{r}); err != nil {
			logger.Warn("[App] persist message for %s: %v", streamID, err)
			return
		}
	}
	meta, err := a.streamStore.Get(ctx, streamID)
	if err != nil {
		meta = &bolt.StreamMeta{ID: streamID, Platform: e.Platform}
	}
	meta.LastActiveMs = e.TimestampMs
	meta.MessageCount++
	if err := a.streamStore.Save(ctx, meta); err != nil {
		logger.Warn("[App] persist stream meta for %s: %v", streamID, err)
	}
}

// restoreContext preloads a cold-started stream's prompt context from the
// stored history. Runs ahead of the reply generator on proactive wakeups.
func (a *Application) restoreContext(streamID string) {
	parts := strings.SplitN(streamID, ":", 3)
	if len(parts) != 3 {
		return
	}
	st := a.streams.ColdStart(streamID, parts[0])
	if len(st.Recent()) > 0 {
		return
	}
	records, err := a.messageStore.Recent(context.Background(), streamID, a.opts.Server.WindowSize)
	if err != nil || len(records) == 0 {
		return
	}
	var b strings.Builder
	b.WriteString("Recent conversation:")
	for _, r := range records {
		who := r.Sender
		if r.Direction == string(envelope.DirectionOutgoing) {
			who = "you"
		} else if who == "" {
			who = "them"
		}
		fmt.Fprintf(&b, "\n%s: %s", who, r.Text)
	}
	st.SetContextCache(b.String())
	logger.Info("[App] restored %d stored messages for stream %s", len(records), streamID)
}

// CreateProactiveSchedule registers a durable TIME entry that wakes a stream
// through ProactiveInitiationEvent, surviving restarts via the schedule
// store.
func (a *Application) CreateProactiveSchedule(ctx context.Context, streamID string, cfg schedule.TriggerConfig, recurring bool) (string, error) {
	opts := []schedule.CreateOption{
		schedule.WithName(proactiveTaskName),
		schedule.WithArgs(map[string]interface{}{"stream_id": streamID}),
	}
	if recurring {
		opts = append(opts, schedule.Recurring())
	}
	id, err := a.scheduler.Create(ctx, schedule.TriggerTime, cfg, a.proactiveCallback(streamID), opts...)
	if err != nil {
		return "", err
	}
	record := &bolt.TaskRecord{
		ID:              id,
		Name:            proactiveTaskName,
		Kind:            schedule.TriggerTime,
		DelaySeconds:    cfg.DelaySeconds,
		IntervalSeconds: cfg.IntervalSeconds,
		Recurring:       recurring,
		Args:            map[string]interface{}{"stream_id": streamID},
		CreatedAtMs:     time.Now().UnixMilli(),
	}
	if !cfg.TriggerAt.IsZero() {
		record.TriggerAtMs = cfg.TriggerAt.UnixMilli()
	}
	if err := a.scheduleStore.Save(ctx, record); err != nil {
		logger.Warn("[App] persist schedule %s: %v", id, err)
	}
	return id, nil
}

// RemoveSchedule drops a schedule entry and its durable record.
func (a *Application) RemoveSchedule(ctx context.Context, id string) bool {
	removed := a.scheduler.Remove(id)
	if err := a.scheduleStore.Delete(ctx, id); err != nil {
		logger.Warn("[App] delete schedule record %s: %v", id, err)
	}
	return removed
}

func (a *Application) proactiveCallback(streamID string) schedule.Callback {
	return func(ctx context.Context, _ map[string]interface{}) error {
		result := a.events.Trigger(event.ProactiveInitiation, event.PermissionGroupSystem,
			event.Params{"stream_id": streamID})
		if !result.AllSuccess {
			return fmt.Errorf("proactive initiation for %s: handler failure", streamID)
		}
		return nil
	}
}

// restoreSchedules rebinds persisted durable tasks after a restart. Only
// known task names can be rebound; stale records are dropped.
func (a *Application) restoreSchedules(ctx context.Context) {
	records, err := a.scheduleStore.List(ctx)
	if err != nil {
		logger.Warn("[App] restore schedules: %v", err)
		return
	}
	for _, r := range records {
		if r.Name != proactiveTaskName {
			logger.Warn("[App] dropping unknown durable task %q (%s)", r.Name, r.ID)
			_ = a.scheduleStore.Delete(ctx, r.ID)
			continue
		}
		streamID, _ := r.Args["stream_id"].(string)
		if streamID == "" {
			_ = a.scheduleStore.Delete(ctx, r.ID)
			continue
		}
		cfg := schedule.TriggerConfig{
			DelaySeconds:    r.DelaySeconds,
			IntervalSeconds: r.IntervalSeconds,
		}
		if r.TriggerAtMs > 0 {
			at := time.UnixMilli(r.TriggerAtMs)
			if at.After(time.Now()) || r.Recurring {
				cfg.TriggerAt = at
			} else {
				_ = a.scheduleStore.Delete(ctx, r.ID)
				continue
			}
		}
		_ = a.scheduleStore.Delete(ctx, r.ID)
		if _, err := a.CreateProactiveSchedule(ctx, streamID, cfg, r.Recurring); err != nil {
			logger.Warn("[App] rebind durable task for %s: %v", streamID, err)
		}
	}
}

// Start brings every subsystem up.
func (a *Application) Start(ctx context.Context) error {
	a.runtime.Start(ctx)
	a.scheduler.Start(ctx)
	a.host.LoadAll(ctx)
	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	// Context restoration must observe proactive wakeups before the
	// generator renders its prompt.
	if err := a.events.Subscribe(event.Subscription{
		Event:           event.ProactiveInitiation,
		HandlerName:     "context-restore",
		Weight:          100,
		PermissionGroup: event.PermissionGroupSystem,
		Handler: func(params event.Params) event.HandlerResult {
			if streamID, _ := params["stream_id"].(string); streamID != "" {
				a.restoreContext(streamID)
			}
			return event.HandlerResult{Success: true, ContinueProcess: true, HandlerName: "context-restore"}
		},
	}); err != nil {
		return err
	}
	if err := a.generator.Start(ctx); err != nil {
		return err
	}
	a.restoreSchedules(ctx)

	logger.Info("[App] %s started (addr=%s, plugins=%d)", AppName, a.opts.Server.Addr, len(a.host.Plugins()))
	return nil
}

// Run starts everything, serves the adapter endpoint, and shuts down when
// the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	err := a.adapter.Run(ctx)
	a.Shutdown()
	return err
}

// Shutdown tears the platform down in reverse order: stop intake and drain,
// stop the scheduler, flush memory journals, then close adapters and stores.
func (a *Application) Shutdown() {
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.runtime.Stop(drainCtx)

	a.scheduler.Stop()
	a.host.UnloadAll(context.Background())

	if err := a.engine.Close(); err != nil {
		logger.Warn("[App] closing memory engine: %v", err)
	}
	if err := a.adapter.Shutdown(context.Background()); err != nil {
		logger.Warn("[App] closing adapter server: %v", err)
	}
	if err := a.watcher.Close(); err != nil {
		logger.Warn("[App] closing config watcher: %v", err)
	}
	if err := a.permStore.Close(); err != nil {
		logger.Warn("[App] closing permission store: %v", err)
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("[App] closing store: %v", err)
	}
	logger.FlushLog()
	logger.Info("[App] %s stopped", AppName)
}

// judgeModelConfig derives the memory judge's client config: the configured
// judge model at judge temperature on the main endpoint. An empty judge model
// falls back to the main chat model.
func judgeModelConfig(models *options.ModelOptions, mem entity.Config) llm.Config {
	cfg := llm.Config{
		BaseURL:     models.BaseURL,
		APIKey:      models.APIKey,
		Model:       mem.JudgeModelName,
		Temperature: gptr.Of(float32(mem.JudgeTemperature)),
	}
	if cfg.Model == "" {
		cfg.Model = models.Model
		cfg.Temperature = gptr.Of(float32(models.Temperature))
	}
	return cfg
}

// outgoingText builds the outbound counterpart of an inbound envelope with
// the given text.
func outgoingText(in *envelope.Envelope, text string) *envelope.Envelope {
	return &envelope.Envelope{
		SchemaVersion: envelope.SchemaVersion,
		Direction:     envelope.DirectionOutgoing,
		Platform:      in.Platform,
		TimestampMs:   time.Now().UnixMilli(),
		Info: envelope.MessageInfo{
			Type:   in.Info.Type,
			User:   in.Info.User,
			Group:  in.Info.Group,
			SelfID: in.Info.SelfID,
		},
		Segment: envelope.Text(text),
	}
}
