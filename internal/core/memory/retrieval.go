package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

const (
	retrievalLimit       = 10
	shortTermSearchLimit = 5
	graphEntryLimit      = 5
	graphEntryThreshold  = 0.5
)

// Scoring weights: semantic, importance, graph proximity, time decay,
// access frequency.
const (
	weightSemantic   = 0.4
	weightImportance = 0.2
	weightGraph      = 0.2
	weightTime       = 0.1
	weightAccess     = 0.1
)

// causalKeywords trigger the deeper BFS expansion.
var causalKeywords = []string{"because", "so ", "why", "cause"}

// SufficiencyJudge decides whether the staged hits already answer the
// query.
type SufficiencyJudge interface {
	JudgeSufficiency(ctx context.Context, query string, hits []string) (bool, error)
}

// Tier labels the source of a retrieval result.
type Tier string

const (
	TierPerceptual Tier = "perceptual"
	TierShortTerm  Tier = "short_term"
	TierLongTerm   Tier = "long_term"
)

// Result is one scored retrieval candidate.
type Result struct {
	Tier          Tier
	ID            string
	Content       string
	Score         float64
	GraphDistance int
}

// Retrieval runs the unified query path across all three tiers.
type Retrieval struct {
	cfg        entity.Config
	embedder   embedding.Provider
	vectors    vector.Store
	perceptual *Perceptual
	shortTerm  *ShortTerm
	graph      *Graph
	judge      SufficiencyJudge
}

func NewRetrieval(cfg entity.Config, embedder embedding.Provider, vectors vector.Store,
	perceptual *Perceptual, shortTerm *ShortTerm, graph *Graph, judge SufficiencyJudge) *Retrieval {
	return &Retrieval{
		cfg: cfg, embedder: embedder, vectors: vectors,
		perceptual: perceptual, shortTerm: shortTerm, graph: graph, judge: judge,
	}
}

// Retrieve answers a query with up to 10 scored results. Accessed memories
// get their counters bumped.
func (r *Retrieval) Retrieve(ctx context.Context, query string) ([]Result, error) {
	queryEmb, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var candidates []Result

	perceptualHits, err := r.vectors.Search(ctx, CollectionPerceptual, queryEmb,
		r.cfg.PerceptualTopK, r.cfg.PerceptualSimilarityThreshold)
	if err != nil {
		logger.Warn("[Memory] retrieval perceptual search: %v", err)
	}
	for _, hit := range perceptualHits {
		block := r.findBlock(hit.ID)
		if block == nil {
			continue
		}
		candidates = append(candidates, Result{
			Tier:    TierPerceptual,
			ID:      block.ID,
			Content: block.Text(),
			Score:   r.score(hit.Similarity, 0.3, 0, block.CreatedAt, block.ActivationCount),
		})
	}

	shortHits, err := r.vectors.Search(ctx, CollectionShortTerm, queryEmb, shortTermSearchLimit, 0)
	if err != nil {
		logger.Warn("[Memory] retrieval short-term search: %v", err)
	}
	var shortMemories []*entity.ShortTermMemory
	for _, hit := range shortHits {
		m, ok := r.shortTerm.Get(hit.ID)
		if !ok {
			continue
		}
		shortMemories = append(shortMemories, m)
		candidates = append(candidates, Result{
			Tier:    TierShortTerm,
			ID:      m.ID,
			Content: m.Summary(),
			Score:   r.score(hit.Similarity, m.Importance, 0, m.LastAccessed, m.ActivationCount),
		})
	}

	if r.needExpansion(ctx, query, candidates) {
		depth := 1
		if isCausalQuery(query) {
			depth = 2
		}
		candidates = append(candidates, r.expand(ctx, queryEmb, shortMemories, depth)...)
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Score > candidates[j].Score })
	candidates = dedupeResults(candidates)
	if len(candidates) > retrievalLimit {
		candidates = candidates[:retrievalLimit]
	}

	for _, c := range candidates {
		switch c.Tier {
		case TierShortTerm:
			r.shortTerm.Access(c.ID)
		case TierLongTerm:
			if err := r.graph.Access(ctx, c.ID); err != nil {
				logger.Warn("[Memory] bump access for %s: %v", c.ID, err)
			}
		}
	}
	return candidates, nil
}

// needExpansion consults the judge; with the judge disabled, expansion
// always runs.
func (r *Retrieval) needExpansion(ctx context.Context, query string, staged []Result) bool {
	if !r.cfg.EnableJudgeRetrieval || r.judge == nil {
		return true
	}
	hits := make([]string, len(staged))
	for i, c := range staged {
		hits[i] = c.Content
	}
	sufficient, err := r.judge.JudgeSufficiency(ctx, query, hits)
	if err != nil {
		logger.Warn("[Memory] sufficiency judge failed, expanding: %v", err)
		return true
	}
	return !sufficient
}

// expand walks the graph from entry nodes up to depth and scores the
// memories attached to visited nodes.
func (r *Retrieval) expand(ctx context.Context, queryEmb []float32, shortMemories []*entity.ShortTermMemory, depth int) []Result {
	entrySim := map[string]float64{}

	entryHits, err := r.graph.SearchNodes(ctx, queryEmb, graphEntryLimit, graphEntryThreshold)
	if err != nil {
		logger.Warn("[Memory] graph entry search: %v", err)
	}
	for _, hit := range entryHits {
		entrySim[hit.ID] = hit.Similarity
	}

	// Short-term hits anchor the walk to their graph counterparts.
	for _, m := range shortMemories {
		for _, content := range []string{m.Subject, m.Topic, m.Object} {
			if content == "" {
				continue
			}
			node, err := r.graph.FindNodeByContent(ctx, content)
			if err != nil || node == nil {
				continue
			}
			if _, seen := entrySim[node.ID]; !seen {
				entrySim[node.ID] = 0.6
			}
		}
	}

	// BFS over edges, recording the hop count at which each node appears.
	distance := map[string]int{}
	frontier := make([]string, 0, len(entrySim))
	for id := range entrySim {
		distance[id] = 0
		frontier = append(frontier, id)
	}
	sort.Strings(frontier)
	for hop := 1; hop <= depth; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := r.graph.EdgesOf(ctx, id)
			if err != nil {
				continue
			}
			for _, e := range edges {
				for _, peer := range []string{e.SourceID, e.TargetID} {
					if _, seen := distance[peer]; !seen {
						distance[peer] = hop
						next = append(next, peer)
					}
				}
			}
		}
		frontier = next
	}

	var out []Result
	seenMemory := map[string]struct{}{}
	for nodeID, dist := range distance {
		memories, err := r.graph.MemoriesByNode(ctx, nodeID)
		if err != nil {
			continue
		}
		sim := entrySim[nodeID]
		for _, m := range memories {
			if _, dup := seenMemory[m.ID]; dup {
				continue
			}
			seenMemory[m.ID] = struct{}{}
			out = append(out, Result{
				Tier:          TierLongTerm,
				ID:            m.ID,
				Content:       m.Content,
				GraphDistance: dist + 1,
				Score:         r.score(sim, m.Importance, dist+1, m.LastAccessed, m.AccessCount),
			})
		}
	}
	return out
}

// score combines the weighted components. A zero graph distance means the
// candidate did not come through the graph.
func (r *Retrieval) score(semantic, importance float64, graphDistance int, lastTouched time.Time, accessCount int) float64 {
	graphTerm := 0.0
	if graphDistance > 0 {
		graphTerm = 1.0 / float64(graphDistance)
	}
	ageHours := time.Since(lastTouched).Hours()
	timeTerm := math.Pow(r.cfg.LongTermDecayFactor, ageHours)
	accessTerm := math.Min(1.0, float64(accessCount)/10.0)

	return weightSemantic*semantic +
		weightImportance*importance +
		weightGraph*graphTerm +
		weightTime*timeTerm +
		weightAccess*accessTerm
}

func (r *Retrieval) findBlock(id string) *entity.MemoryBlock {
	for _, b := range r.perceptual.Blocks() {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func isCausalQuery(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range causalKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func dedupeResults(in []Result) []Result {
	seen := map[string]struct{}{}
	out := in[:0]
	for _, c := range in {
		key := string(c.Tier) + "/" + c.ID
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out
}
