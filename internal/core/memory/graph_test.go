package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
)

func TestApplyOperationsRollsBackOnBadOp(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	err := g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "n1", NodeContent: "alice", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateNode, NodeID: "n2", NodeType: entity.NodeTopic},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsolidationFault)

	n, err := g.NodeCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "rolled-back batch left nodes behind")
}

func TestApplyOperationsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	ops := []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "alice", NodeContent: "alice", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateNode, NodeID: "coffee", NodeContent: "coffee", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateEdge, EdgeID: "e1", SourceID: "alice", TargetID: "coffee",
			Relation: "likes", EdgeType: entity.EdgeCoreRelation, Importance: 0.8},
		{Kind: entity.OpCreateMemory, MemoryID: "m1", SourceID: "alice", TargetID: "coffee",
			MemoryType: entity.MemoryFact, MemoryContent: "alice likes coffee", Importance: 0.8},
	}
	require.NoError(t, g.ApplyOperations(ctx, ops))
	require.NoError(t, g.ApplyOperations(ctx, ops))

	n, err := g.NodeCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	edges, err := g.EdgesOf(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, edges, 1)

	m, err := g.GetMemory(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "alice likes coffee", m.Content)
	assert.Equal(t, []string{"alice", "coffee"}, m.NodeIDs)
}

func TestNodeDedupRemapsLaterOps(t *testing.T) {
	cfg := testConfig(t)
	embedder := newFakeEmbedder()
	same := []float32{0, 1, 0, 0}
	embedder.fixed["coffee"] = same
	embedder.fixed["the coffee"] = same
	g := testGraph(t, cfg, testVectors(t), embedder)
	ctx := context.Background()

	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "n1", NodeContent: "coffee", NodeType: entity.NodeTopic},
	}))

	// A near-identical node folds into n1; the edge in the same batch must
	// follow the remap.
	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "bob", NodeContent: "bob", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateNode, NodeID: "n2", NodeContent: "the coffee", NodeType: entity.NodeTopic},
		{Kind: entity.OpCreateEdge, SourceID: "bob", TargetID: "n2",
			Relation: "drinks", EdgeType: entity.EdgeCoreRelation, Importance: 0.7},
	}))

	dup, err := g.GetNode(ctx, "n2")
	require.NoError(t, err)
	assert.Nil(t, dup, "duplicate node should not exist")

	edges, err := g.EdgesOf(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "bob", edges[0].SourceID)
	assert.Equal(t, "n1", edges[0].TargetID)
}

func TestDeleteNodeCascadesEdges(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "a", NodeContent: "a", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateNode, NodeID: "b", NodeContent: "b", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateEdge, EdgeID: "e", SourceID: "a", TargetID: "b",
			Relation: "knows", EdgeType: entity.EdgeCoreRelation, Importance: 0.5},
	}))
	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpDeleteNode, NodeID: "a"},
	}))

	edges, err := g.EdgesOf(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, edges)
}

func TestMergeMemoriesConcatenatesAndDeletesSource(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "s", NodeContent: "s", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateMemory, MemoryID: "m1", SourceID: "s",
			MemoryType: entity.MemoryFact, MemoryContent: "likes tea", Importance: 0.5},
		{Kind: entity.OpCreateMemory, MemoryID: "m2", SourceID: "s",
			MemoryType: entity.MemoryFact, MemoryContent: "drinks it daily", Importance: 0.5},
	}))
	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpMergeMemories, MemoryID: "m2", MergeIntoID: "m1"},
	}))

	gone, err := g.GetMemory(ctx, "m2")
	require.NoError(t, err)
	assert.Nil(t, gone)

	m, err := g.GetMemory(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "likes tea; drinks it daily", m.Content)
	assert.InDelta(t, 0.55, m.Importance, 1e-9)
}

func TestAddDiscoveredEdgeCarriesMarker(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, g.AddDiscoveredEdge(ctx, "m1", "m2", "causes", entity.EdgeCausality, 0.4))

	edges, err := g.EdgesOf(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, entity.EdgeCausality, edges[0].Type)
	assert.Equal(t, "true", edges[0].Metadata["discovered"])
	assert.InDelta(t, 0.4, edges[0].Importance, 1e-9)
}

func TestGraphDecayAll(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "s", NodeContent: "s", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateMemory, MemoryID: "m", SourceID: "s",
			MemoryType: entity.MemoryEvent, MemoryContent: "went hiking", Importance: 0.8},
	}))
	require.NoError(t, g.DecayAll(ctx))

	m, err := g.GetMemory(ctx, "m")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.InDelta(t, 0.8*cfg.LongTermDecayFactor, m.Importance, 1e-9)
}

func TestRecentMemoriesHonoursCutoff(t *testing.T) {
	cfg := testConfig(t)
	g := testGraph(t, cfg, testVectors(t), newFakeEmbedder())
	ctx := context.Background()

	require.NoError(t, g.ApplyOperations(ctx, []entity.GraphOperation{
		{Kind: entity.OpCreateNode, NodeID: "s", NodeContent: "s", NodeType: entity.NodeSubject},
		{Kind: entity.OpCreateMemory, MemoryID: "m", SourceID: "s",
			MemoryType: entity.MemoryEvent, MemoryContent: "something happened", Importance: 0.5},
	}))

	recent, err := g.RecentMemories(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	none, err := g.RecentMemories(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}
