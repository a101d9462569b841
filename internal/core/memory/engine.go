package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/lorikeet-ai/lorikeet/internal/core/llm"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
	"github.com/lorikeet-ai/lorikeet/internal/core/schedule"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// Background cadences not exposed through config.
const (
	shortTermDecayInterval  = 10 * time.Minute
	longTermDecayInterval   = 24 * time.Hour
	relationDiscoveryPeriod = time.Hour
	reindexInterval         = 5 * time.Minute
)

// Engine wires the three tiers behind one ingestion and retrieval surface
// and owns their background maintenance tasks.
type Engine struct {
	cfg entity.Config

	vectors      vector.Store
	perceptual   *Perceptual
	shortTerm    *ShortTerm
	queue        *TransferQueue
	graph        *Graph
	consolidator *Consolidator
	retrieval    *Retrieval

	scheduler   *schedule.Scheduler
	scheduleIDs []string
}

// NewEngine builds a fully wired engine. The judge client drives every
// model-consulting role; dataDir holds the staging journals and databases.
func NewEngine(cfg entity.Config, embedder embedding.Provider, judge *llm.Judge, scheduler *schedule.Scheduler) (*Engine, error) {
	vectors, err := vector.OpenSQLite(filepath.Join(cfg.DataDir, "vectors.db"))
	if err != nil {
		return nil, err
	}
	ops := NewModelOps(judge)
	return newEngine(cfg, vectors, embedder, ops, ops, ops, ops, ops, scheduler)
}

// newEngine wires explicit dependencies; tests inject fakes here.
func newEngine(cfg entity.Config, vectors vector.Store, embedder embedding.Provider,
	extractor Extractor, decider Decider, planner Planner, causality CausalityJudge,
	sufficiency SufficiencyJudge, scheduler *schedule.Scheduler) (*Engine, error) {

	queue, err := NewTransferQueue(cfg.DataDir, 0)
	if err != nil {
		return nil, err
	}
	perceptual, err := NewPerceptual(cfg, vectors, embedder, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	shortTerm, err := NewShortTerm(cfg, vectors, embedder, extractor, decider, queue, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	graph, err := OpenGraph(filepath.Join(cfg.DataDir, "graph.db"), cfg, vectors, embedder)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		vectors:      vectors,
		perceptual:   perceptual,
		shortTerm:    shortTerm,
		queue:        queue,
		graph:        graph,
		consolidator: NewConsolidator(cfg, graph, queue, shortTerm, planner, causality),
		retrieval:    NewRetrieval(cfg, embedder, vectors, perceptual, shortTerm, graph, sufficiency),
		scheduler:    scheduler,
	}
	return e, nil
}

// Start registers the background tasks on the unified scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if !e.cfg.Enable || e.scheduler == nil {
		return nil
	}
	tasks := []struct {
		name     string
		interval time.Duration
		run      func(context.Context)
	}{
		{"memory-consolidation", e.cfg.TransferInterval(), func(ctx context.Context) { e.consolidator.RunOnce(ctx) }},
		{"memory-short-term-decay", shortTermDecayInterval, func(context.Context) {
			e.shortTerm.DecayAll(time.Now().Add(-shortTermDecayInterval))
		}},
		{"memory-long-term-decay", longTermDecayInterval, func(ctx context.Context) {
			if err := e.graph.DecayAll(ctx); err != nil {
				logger.Warn("[Memory] long-term decay: %v", err)
			}
		}},
		{"memory-relation-discovery", relationDiscoveryPeriod, func(ctx context.Context) {
			e.consolidator.DiscoverRelations(ctx, relationDiscoveryPeriod)
		}},
		{"memory-reindex", reindexInterval, func(ctx context.Context) {
			e.perceptual.Reindex(ctx)
			e.graph.ReindexNodes(ctx)
		}},
	}
	for _, t := range tasks {
		run := t.run
		id, err := e.scheduler.Create(ctx, schedule.TriggerTime,
			schedule.TriggerConfig{DelaySeconds: t.interval.Seconds(), IntervalSeconds: t.interval.Seconds()},
			func(ctx context.Context, _ map[string]interface{}) error {
				run(ctx)
				return nil
			},
			schedule.WithName(t.name), schedule.Recurring())
		if err != nil {
			return fmt.Errorf("register %s: %w", t.name, err)
		}
		e.scheduleIDs = append(e.scheduleIDs, id)
	}
	logger.Info("[Memory] engine started with %d background tasks", len(e.scheduleIDs))
	return nil
}

// Observe ingests one message into the perceptual layer and runs extraction
// for any block that crossed the activation threshold.
func (e *Engine) Observe(ctx context.Context, streamID, text string) error {
	if !e.cfg.Enable {
		return nil
	}
	_, promoted, err := e.perceptual.AddMessage(ctx, streamID, text)
	if err != nil {
		return err
	}
	for _, block := range promoted {
		e.shortTerm.ProcessBlock(ctx, block)
	}
	return nil
}

// Retrieve answers a query across all tiers.
func (e *Engine) Retrieve(ctx context.Context, query string) ([]Result, error) {
	if !e.cfg.Enable {
		return nil, nil
	}
	return e.retrieval.Retrieve(ctx, query)
}

// Consolidate forces one consolidation pass, used by tests and shutdown.
func (e *Engine) Consolidate(ctx context.Context) {
	e.consolidator.RunOnce(ctx)
}

// Perceptual exposes the first tier.
func (e *Engine) Perceptual() *Perceptual { return e.perceptual }

// ShortTerm exposes the middle tier.
func (e *Engine) ShortTerm() *ShortTerm { return e.shortTerm }

// Graph exposes the long-term tier.
func (e *Engine) Graph() *Graph { return e.graph }

// Queue exposes the transfer queue.
func (e *Engine) Queue() *TransferQueue { return e.queue }

// Close unregisters background tasks and closes the stores. Journals are
// already durable; nothing is flushed here.
func (e *Engine) Close() error {
	for _, id := range e.scheduleIDs {
		e.scheduler.Remove(id)
	}
	e.scheduleIDs = nil
	if err := e.graph.Close(); err != nil {
		return err
	}
	return e.vectors.Close()
}
