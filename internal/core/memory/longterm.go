package memory

import (
	"context"
	"strings"
	"time"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

const (
	// Temporal neighbours within this window are candidates for causality.
	discoveryWindow = time.Hour

	// referenceImportance is assigned to discovered shared-node edges.
	referenceImportance = 0.4
)

// Planner turns a drained batch plus graph context into graph operations.
type Planner interface {
	PlanConsolidation(ctx context.Context, batch []QueuedMemory, neighbourhood string) ([]entity.GraphOperation, error)
}

// CausalityJudge evaluates whether memory a plausibly caused memory b.
type CausalityJudge interface {
	JudgeCausality(ctx context.Context, a, b *entity.LongTermMemory) (causal bool, relation string, err error)
}

// Consolidator drains the transfer queue into the long-term graph and runs
// the periodic relation-discovery pass.
type Consolidator struct {
	cfg       entity.Config
	graph     *Graph
	queue     *TransferQueue
	shortTerm *ShortTerm
	planner   Planner
	causality CausalityJudge
}

func NewConsolidator(cfg entity.Config, graph *Graph, queue *TransferQueue, shortTerm *ShortTerm,
	planner Planner, causality CausalityJudge) *Consolidator {
	return &Consolidator{
		cfg: cfg, graph: graph, queue: queue, shortTerm: shortTerm,
		planner: planner, causality: causality,
	}
}

// RunOnce drains one batch and applies it atomically. A failed batch goes
// back to the queue with bumped retry counters.
func (c *Consolidator) RunOnce(ctx context.Context) {
	batch := c.queue.Drain(c.cfg.LongTermBatchSize)
	if len(batch) == 0 {
		return
	}

	neighbourhood := c.neighbourhood(ctx, batch)
	ops, err := c.planner.PlanConsolidation(ctx, batch, neighbourhood)
	if err != nil {
		logger.Error("[Memory] consolidation plan failed: %v", err)
		c.requeue(batch)
		return
	}
	if len(ops) == 0 {
		// A successful call returning no operations is the model declining
		// the batch, not a failure: the memories are consumed rather than
		// requeued. Only errors above go back with bumped retries.
		logger.Info("[Memory] planner declined batch of %d memories", len(batch))
		c.finish(ctx, batch)
		return
	}

	if err := c.graph.ApplyOperations(ctx, ops); err != nil {
		logger.Error("[Memory] consolidation batch failed: %v", err)
		c.requeue(batch)
		return
	}
	c.finish(ctx, batch)
	logger.Info("[Memory] consolidated %d memories via %d graph ops", len(batch), len(ops))
}

func (c *Consolidator) finish(ctx context.Context, batch []QueuedMemory) {
	for _, it := range batch {
		c.shortTerm.Remove(ctx, it.Memory.ID)
	}
}

func (c *Consolidator) requeue(batch []QueuedMemory) {
	for _, droppedID := range c.queue.Requeue(batch) {
		c.shortTerm.ClearPromoting(droppedID)
	}
}

// neighbourhood summarises graph context around the batch for the planner
// prompt: for each candidate subject, the matching node and its edges.
func (c *Consolidator) neighbourhood(ctx context.Context, batch []QueuedMemory) string {
	var b strings.Builder
	seen := map[string]struct{}{}
	for _, it := range batch {
		for _, content := range []string{it.Memory.Subject, it.Memory.Topic, it.Memory.Object} {
			if content == "" {
				continue
			}
			if _, done := seen[content]; done {
				continue
			}
			seen[content] = struct{}{}
			node, err := c.graph.FindNodeByContent(ctx, content)
			if err != nil || node == nil {
				continue
			}
			b.WriteString("node ")
			b.WriteString(node.ID)
			b.WriteString(" (")
			b.WriteString(string(node.Type))
			b.WriteString("): ")
			b.WriteString(node.Content)
			b.WriteString("\n")
			edges, err := c.graph.EdgesOf(ctx, node.ID)
			if err != nil {
				continue
			}
			for _, e := range edges {
				b.WriteString("  edge ")
				b.WriteString(e.SourceID)
				b.WriteString(" -[")
				b.WriteString(e.Relation)
				b.WriteString("]-> ")
				b.WriteString(e.TargetID)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// DiscoverRelations scans recently consolidated memories for temporal
// causality and shared-node references. Discovered edges carry lower
// importance than observed ones.
func (c *Consolidator) DiscoverRelations(ctx context.Context, lookback time.Duration) {
	recent, err := c.graph.RecentMemories(ctx, time.Now().Add(-lookback))
	if err != nil {
		logger.Warn("[Memory] relation discovery scan: %v", err)
		return
	}
	if len(recent) < 2 {
		return
	}

	for i := 0; i < len(recent); i++ {
		for j := i + 1; j < len(recent); j++ {
			a, b := recent[i], recent[j]

			if c.causality != nil && within(a.CreatedAt, b.CreatedAt, discoveryWindow) {
				causal, relation, err := c.causality.JudgeCausality(ctx, a, b)
				if err != nil {
					logger.Warn("[Memory] causality judge: %v", err)
				} else if causal {
					if relation == "" {
						relation = "causes"
					}
					if err := c.graph.AddDiscoveredEdge(ctx, a.ID, b.ID, relation, entity.EdgeCausality, referenceImportance); err != nil {
						logger.Warn("[Memory] add causality edge: %v", err)
					}
					continue
				}
			}

			if sharesNode(a, b) {
				if err := c.graph.AddDiscoveredEdge(ctx, a.ID, b.ID, "references", entity.EdgeReference, referenceImportance); err != nil {
					logger.Warn("[Memory] add reference edge: %v", err)
				}
			}
		}
	}
}

func within(a, b time.Time, window time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func sharesNode(a, b *entity.LongTermMemory) bool {
	set := map[string]struct{}{a.SubjectNodeID: {}}
	for _, id := range a.NodeIDs {
		set[id] = struct{}{}
	}
	if _, ok := set[b.SubjectNodeID]; ok && b.SubjectNodeID != "" {
		return true
	}
	for _, id := range b.NodeIDs {
		if _, ok := set[id]; ok && id != "" {
			return true
		}
	}
	return false
}
