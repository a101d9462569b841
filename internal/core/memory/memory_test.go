package memory

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
)

// fakeEmbedder returns fixed vectors for registered texts and a
// text-derived unit vector otherwise.
type fakeEmbedder struct {
	fixed map[string][]float32
	fail  bool
}

var _ embedding.Provider = (*fakeEmbedder)(nil)

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{fixed: map[string][]float32{}}
}

func (f *fakeEmbedder) ID() string    { return "fake" }
func (f *fakeEmbedder) Model() string { return "fake-embed" }

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	if v, ok := f.fixed[text]; ok {
		return v, nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum32()
	v := []float32{
		float32(seed%97) + 1,
		float32(seed%89) + 1,
		float32(seed%83) + 1,
		float32(seed%79) + 1,
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type fakeExtractor struct {
	triples []entity.Triple
	err     error
	calls   int
}

func (f *fakeExtractor) ExtractTriples(context.Context, string) ([]entity.Triple, error) {
	f.calls++
	return f.triples, f.err
}

type fakeDecider struct {
	decision entity.Decision
	err      error
}

func (f *fakeDecider) DecideMemory(context.Context, *entity.ShortTermMemory, []*entity.ShortTermMemory) (entity.Decision, error) {
	return f.decision, f.err
}

type fakePlanner struct {
	ops           []entity.GraphOperation
	err           error
	calls         int
	neighbourhood string
}

func (f *fakePlanner) PlanConsolidation(_ context.Context, _ []QueuedMemory, neighbourhood string) ([]entity.GraphOperation, error) {
	f.calls++
	f.neighbourhood = neighbourhood
	return f.ops, f.err
}

type fakeSufficiency struct {
	sufficient bool
	err        error
	calls      int
}

func (f *fakeSufficiency) JudgeSufficiency(context.Context, string, []string) (bool, error) {
	f.calls++
	return f.sufficient, f.err
}

type fakeCausality struct {
	causal bool
}

func (f *fakeCausality) JudgeCausality(context.Context, *entity.LongTermMemory, *entity.LongTermMemory) (bool, string, error) {
	return f.causal, "causes", nil
}

func testConfig(t *testing.T) entity.Config {
	cfg := entity.DefaultConfig()
	cfg.DataDir = t.TempDir()
	return cfg
}

func testVectors(t *testing.T) vector.Store {
	t.Helper()
	s, err := vector.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testGraph(t *testing.T, cfg entity.Config, vectors vector.Store, embedder embedding.Provider) *Graph {
	t.Helper()
	g, err := OpenGraph(":memory:", cfg, vectors, embedder)
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.Close() })
	return g
}
