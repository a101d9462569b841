package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
)

type retrievalFixture struct {
	cfg        entity.Config
	embedder   *fakeEmbedder
	vectors    vector.Store
	perceptual *Perceptual
	shortTerm  *ShortTerm
	graph      *Graph
	retrieval  *Retrieval
}

func newRetrievalFixture(t *testing.T, judge SufficiencyJudge, judgeEnabled bool) *retrievalFixture {
	t.Helper()
	cfg := testConfig(t)
	cfg.EnableJudgeRetrieval = judgeEnabled
	embedder := newFakeEmbedder()
	vectors := testVectors(t)
	graph := testGraph(t, cfg, vectors, embedder)

	queue, err := NewTransferQueue(cfg.DataDir, 0)
	require.NoError(t, err)
	perceptual, err := NewPerceptual(cfg, vectors, embedder, cfg.DataDir)
	require.NoError(t, err)
	shortTerm, err := NewShortTerm(cfg, vectors, embedder,
		&fakeExtractor{}, &fakeDecider{decision: entity.Decision{Action: entity.ActionCreateNew}},
		queue, cfg.DataDir)
	require.NoError(t, err)

	return &retrievalFixture{
		cfg: cfg, embedder: embedder, vectors: vectors,
		perceptual: perceptual, shortTerm: shortTerm, graph: graph,
		retrieval: NewRetrieval(cfg, embedder, vectors, perceptual, shortTerm, graph, judge),
	}
}

// seedChain builds trip -> delay -> storm with one memory hanging off the
// far end, and aligns the query embedding with the entry node.
func (f *retrievalFixture) seedChain(t *testing.T, queries ...string) {
	t.Helper()
	axis := func(i int) []float32 {
		v := make([]float32, 4)
		v[i] = 1
		return v
	}
	f.embedder.fixed["trip"] = axis(0)
	f.embedder.fixed["delay"] = axis(1)
	f.embedder.fixed["storm"] = axis(2)
	for _, q := range queries {
		f.embedder.fixed[q] = axis(0)
	}

	require.NoError(t, f.graph.ApplyOperations(context.Background(), []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "trip", NodeContent: "trip", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateNode, NodeID: "delay", NodeContent: "delay", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateNode, NodeID: "storm", NodeContent: "storm", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateEdge, SourceID: "trip", TargetID: "delay",
			Relation: "delayed_by", EdgeType: entity.EdgeCoreRelation, Importance: 0.7},
		{Kind: entity.OpCreateEdge, SourceID: "delay", TargetID: "storm",
			Relation: "caused_by", EdgeType: entity.EdgeCausality, Importance: 0.7},
		{Kind: entity.OpCreateMemory, MemoryID: "m-storm", SourceID: "storm",
			MemoryType: entity.MemoryEvent, MemoryContent: "a storm grounded the flight", Importance: 0.8},
	}))
}

func longTermIDs(results []Result) []string {
	var ids []string
	for _, r := range results {
		if r.Tier == TierLongTerm {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func TestRetrieveSkipsExpansionWhenJudgeSatisfied(t *testing.T) {
	judge := &fakeSufficiency{sufficient: true}
	f := newRetrievalFixture(t, judge, true)
	f.seedChain(t, "the trip")

	results, err := f.retrieval.Retrieve(context.Background(), "the trip")
	require.NoError(t, err)
	assert.Equal(t, 1, judge.calls)
	assert.Empty(t, longTermIDs(results))
}

func TestRetrieveExpandsWhenJudgeUnsatisfied(t *testing.T) {
	judge := &fakeSufficiency{sufficient: false}
	f := newRetrievalFixture(t, judge, true)
	f.seedChain(t, "why was the trip late")

	results, err := f.retrieval.Retrieve(context.Background(), "why was the trip late")
	require.NoError(t, err)
	assert.Equal(t, 1, judge.calls)
	assert.Contains(t, longTermIDs(results), "m-storm")
}

func TestRetrieveAlwaysExpandsWithJudgeDisabled(t *testing.T) {
	judge := &fakeSufficiency{sufficient: true}
	f := newRetrievalFixture(t, judge, false)

	// Memory directly on the entry node, reachable without any hop.
	f.embedder.fixed["trip"] = []float32{1, 0, 0, 0}
	f.embedder.fixed["the trip"] = []float32{1, 0, 0, 0}
	require.NoError(t, f.graph.ApplyOperations(context.Background(), []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "trip", NodeContent: "trip", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateMemory, MemoryID: "m-trip", SourceID: "trip",
			MemoryType: entity.MemoryEvent, MemoryContent: "the trip was fun", Importance: 0.8},
	}))

	results, err := f.retrieval.Retrieve(context.Background(), "the trip")
	require.NoError(t, err)
	assert.Zero(t, judge.calls, "disabled judge must not be consulted")
	require.Contains(t, longTermIDs(results), "m-trip")
	for _, r := range results {
		if r.ID == "m-trip" {
			assert.Equal(t, 1, r.GraphDistance)
		}
	}
}

func TestCausalQueryWalksDeeper(t *testing.T) {
	f := newRetrievalFixture(t, nil, false)
	f.seedChain(t, "tell me about the trip", "why was the trip late")
	ctx := context.Background()

	// A plain query walks one hop and never reaches the storm memory.
	results, err := f.retrieval.Retrieve(ctx, "tell me about the trip")
	require.NoError(t, err)
	assert.NotContains(t, longTermIDs(results), "m-storm")

	// A causal query walks two hops.
	results, err = f.retrieval.Retrieve(ctx, "why was the trip late")
	require.NoError(t, err)
	require.Contains(t, longTermIDs(results), "m-storm")
	for _, r := range results {
		if r.ID == "m-storm" {
			assert.Equal(t, 3, r.GraphDistance)
		}
	}
}

func TestRetrieveCoversAllTiers(t *testing.T) {
	f := newRetrievalFixture(t, nil, false)
	ctx := context.Background()

	query := "what did we plan"
	blockText := "plan\nplan\nplan\nplan\nplan"
	f.embedder.fixed[query] = []float32{1, 0, 0, 0}
	f.embedder.fixed[blockText] = []float32{1, 0, 0, 0}

	// Perceptual: one closed block.
	for i := 0; i < 5; i++ {
		_, _, err := f.perceptual.AddMessage(ctx, "s", "plan")
		require.NoError(t, err)
	}

	// Long-term: one memory on a matching node.
	f.embedder.fixed["offsite"] = []float32{1, 0, 0, 0}
	require.NoError(t, f.graph.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "offsite", NodeContent: "offsite", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateMemory, MemoryID: "m-offsite", SourceID: "offsite",
			MemoryType: entity.MemoryEvent, MemoryContent: "the last offsite was in May", Importance: 0.7},
	}))

	results, err := f.retrieval.Retrieve(ctx, query)
	require.NoError(t, err)

	tiers := map[Tier]bool{}
	for _, r := range results {
		tiers[r.Tier] = true
	}
	assert.True(t, tiers[TierPerceptual], "missing perceptual result")
	assert.True(t, tiers[TierLongTerm], "missing long-term result")
}

func TestRetrieveCapsResultsAtTen(t *testing.T) {
	f := newRetrievalFixture(t, nil, false)
	ctx := context.Background()

	f.embedder.fixed["hub"] = []float32{1, 0, 0, 0}
	f.embedder.fixed["hub query"] = []float32{1, 0, 0, 0}
	ops := []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "hub", NodeContent: "hub", NodeType: entity.NodeTopic},
	}
	for i := 0; i < 15; i++ {
		ops = append(ops, entity.GraphOperation{
			Kind: entity.OpCreateMemory, MemoryID: fmt.Sprintf("m%02d", i), SourceID: "hub",
			MemoryType: entity.MemoryFact, MemoryContent: fmt.Sprintf("fact %d", i), Importance: 0.5,
		})
	}
	require.NoError(t, f.graph.ApplyOperations(ctx, ops))

	results, err := f.retrieval.Retrieve(ctx, "hub query")
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestRetrieveBumpsAccessCounters(t *testing.T) {
	f := newRetrievalFixture(t, nil, false)
	ctx := context.Background()

	f.embedder.fixed["trip"] = []float32{1, 0, 0, 0}
	f.embedder.fixed["the trip"] = []float32{1, 0, 0, 0}
	require.NoError(t, f.graph.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "trip", NodeContent: "trip", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateMemory, MemoryID: "m-trip", SourceID: "trip",
			MemoryType: entity.MemoryEvent, MemoryContent: "the trip", Importance: 0.8},
	}))

	_, err := f.retrieval.Retrieve(ctx, "the trip")
	require.NoError(t, err)

	m, err := f.graph.GetMemory(ctx, "m-trip")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 1, m.AccessCount)
}
