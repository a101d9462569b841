package memory

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// CollectionShortTerm is the vector collection for short-term memories.
const CollectionShortTerm = "short_term"

// decisionNeighbours is how many similar memories the decision model sees.
const decisionNeighbours = 5

// Extractor turns a promoted block's text into candidate triples.
type Extractor interface {
	ExtractTriples(ctx context.Context, blockText string) ([]entity.Triple, error)
}

// Decider chooses what to do with a candidate given its nearest neighbours.
type Decider interface {
	DecideMemory(ctx context.Context, candidate *entity.ShortTermMemory, neighbours []*entity.ShortTermMemory) (entity.Decision, error)
}

// ShortTerm is the middle tier: structured triples with importance decay,
// bounded capacity, and promotion to the transfer queue.
type ShortTerm struct {
	cfg       entity.Config
	vectors   vector.Store
	embedder  embedding.Provider
	extractor Extractor
	decider   Decider
	journal   *journal
	queue     *TransferQueue

	mu       sync.Mutex
	memories []*entity.ShortTermMemory // insertion order, oldest first
}

func NewShortTerm(cfg entity.Config, vectors vector.Store, embedder embedding.Provider,
	extractor Extractor, decider Decider, queue *TransferQueue, dataDir string) (*ShortTerm, error) {
	j, err := newJournal(dataDir, journalShortTerm)
	if err != nil {
		return nil, err
	}
	s := &ShortTerm{
		cfg: cfg, vectors: vectors, embedder: embedder,
		extractor: extractor, decider: decider, queue: queue, journal: j,
	}
	s.replay()
	return s, nil
}

func (s *ShortTerm) replay() {
	var memories []*entity.ShortTermMemory
	if err := s.journal.Load(&memories); err != nil {
		logger.Warn("[Memory] short-term replay: %v", err)
		return
	}
	s.memories = memories
	if len(memories) > 0 {
		logger.Info("[Memory] short-term layer replayed %d memories", len(memories))
	}
}

func (s *ShortTerm) persistLocked() {
	if err := s.journal.Save(s.memories); err != nil {
		logger.Error("[Memory] persist short-term journal: %v", err)
	}
}

// ProcessBlock extracts triples from a promoted block and folds each
// candidate into the layer via the decision model. Model failures skip the
// item and keep the block's promotion state.
func (s *ShortTerm) ProcessBlock(ctx context.Context, block *entity.MemoryBlock) {
	triples, err := s.extractor.ExtractTriples(ctx, block.Text())
	if err != nil {
		logger.Error("[Memory] extract from block %s: %v", block.ID, err)
		return
	}

	for _, triple := range triples {
		candidate := &entity.ShortTermMemory{
			ID:             uuid.NewString(),
			Subject:        triple.Subject,
			Topic:          triple.Topic,
			Object:         triple.Object,
			Attributes:     triple.Attributes,
			Importance:     clamp01(triple.Importance),
			LastAccessed:   time.Now(),
			CreatedAt:      time.Now(),
			OriginBlockIDs: []string{block.ID},
		}
		if err := s.admit(ctx, candidate); err != nil {
			logger.Warn("[Memory] admit candidate %q: %v", candidate.Summary(), err)
		}
	}
}

func (s *ShortTerm) admit(ctx context.Context, candidate *entity.ShortTermMemory) error {
	emb, err := s.embedder.EmbedQuery(ctx, candidate.Summary())
	if err != nil {
		return err
	}
	candidate.Embedding = emb

	neighbours := s.nearest(ctx, emb, decisionNeighbours)
	decision, err := s.decider.DecideMemory(ctx, candidate, neighbours)
	if err != nil {
		logger.Warn("[Memory] decision for %q failed, skipping: %v", candidate.Summary(), err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch decision.Action {
	case entity.ActionDiscard:
		return nil

	case entity.ActionMerge:
		target := s.findLocked(decision.TargetID)
		if target == nil {
			return s.insertLocked(ctx, candidate)
		}
		if target.Attributes == nil {
			target.Attributes = map[string]string{}
		}
		for k, v := range candidate.Attributes {
			if _, exists := target.Attributes[k]; !exists {
				target.Attributes[k] = v
			}
		}
		// Merge bumps importance by a bounded delta.
		target.Importance = clamp01(target.Importance + 0.1)
		target.LastAccessed = time.Now()
		target.OriginBlockIDs = append(target.OriginBlockIDs, candidate.OriginBlockIDs...)
		s.maybePromoteLocked(target)
		s.persistLocked()
		return nil

	case entity.ActionUpdate:
		target := s.findLocked(decision.TargetID)
		if target == nil {
			return s.insertLocked(ctx, candidate)
		}
		if target.Attributes == nil {
			target.Attributes = map[string]string{}
		}
		for k, v := range candidate.Attributes {
			target.Attributes[k] = v
		}
		if len(decision.Merged) > 0 {
			for k, v := range decision.Merged {
				target.Attributes[k] = v
			}
		}
		target.Importance = clamp01(target.Importance + 0.1)
		target.LastAccessed = time.Now()
		s.maybePromoteLocked(target)
		s.persistLocked()
		return nil

	default: // CREATE_NEW and anything unrecognized
		return s.insertLocked(ctx, candidate)
	}
}

func (s *ShortTerm) insertLocked(ctx context.Context, m *entity.ShortTermMemory) error {
	s.memories = append(s.memories, m)
	if err := s.vectors.Upsert(ctx, CollectionShortTerm, m.ID, m.Embedding); err != nil {
		logger.Warn("[Memory] index short-term %s: %v", m.ID, err)
	}
	s.evictLocked(ctx)
	s.maybePromoteLocked(m)
	s.persistLocked()
	return nil
}

// evictLocked keeps the layer at capacity by dropping the lowest
// (importance x decay^age) scores. Promoting memories are never evicted.
func (s *ShortTerm) evictLocked(ctx context.Context) {
	for len(s.memories) > s.cfg.ShortTermMaxMemories {
		worstIdx := -1
		worstScore := math.Inf(1)
		for i, m := range s.memories {
			if m.Promoting {
				continue
			}
			score := s.rankScore(m)
			if score < worstScore {
				worstScore = score
				worstIdx = i
			}
		}
		if worstIdx < 0 {
			return
		}
		victim := s.memories[worstIdx]
		s.memories = append(s.memories[:worstIdx], s.memories[worstIdx+1:]...)
		if err := s.vectors.Delete(ctx, CollectionShortTerm, victim.ID); err != nil {
			logger.Warn("[Memory] drop evicted short-term %s from index: %v", victim.ID, err)
		}
	}
}

func (s *ShortTerm) rankScore(m *entity.ShortTermMemory) float64 {
	ageHours := time.Since(m.LastAccessed).Hours()
	return m.Importance * math.Pow(s.cfg.ShortTermDecayFactor, ageHours)
}

func (s *ShortTerm) maybePromoteLocked(m *entity.ShortTermMemory) {
	if m.Promoting || m.Importance < s.cfg.ShortTermTransferThreshold {
		return
	}
	m.Promoting = true
	s.queue.Push(m)
}

// Access marks a memory read: refresh last-accessed and apply access decay.
func (s *ShortTerm) Access(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLocked(id)
	if m == nil {
		return
	}
	m.ActivationCount++
	m.Importance = clamp01(m.Importance * s.cfg.ShortTermDecayFactor)
	m.LastAccessed = time.Now()
	s.persistLocked()
}

// DecayAll applies the decay factor to every memory not accessed since the
// given cutoff. Run periodically by the engine.
func (s *ShortTerm) DecayAll(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, m := range s.memories {
		if m.LastAccessed.Before(cutoff) {
			m.Importance = clamp01(m.Importance * s.cfg.ShortTermDecayFactor)
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
}

// Remove deletes a memory after successful consolidation.
func (s *ShortTerm) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	for i, m := range s.memories {
		if m.ID == id {
			s.memories = append(s.memories[:i], s.memories[i+1:]...)
			break
		}
	}
	s.persistLocked()
	s.mu.Unlock()
	if err := s.vectors.Delete(ctx, CollectionShortTerm, id); err != nil {
		logger.Warn("[Memory] drop consolidated short-term %s from index: %v", id, err)
	}
}

// ClearPromoting resets the promotion flag, used when a batch is dropped.
func (s *ShortTerm) ClearPromoting(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findLocked(id); m != nil {
		m.Promoting = false
		s.persistLocked()
	}
}

func (s *ShortTerm) nearest(ctx context.Context, query []float32, limit int) []*entity.ShortTermMemory {
	hits, err := s.vectors.Search(ctx, CollectionShortTerm, query, limit, 0)
	if err != nil {
		logger.Warn("[Memory] short-term neighbour search: %v", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*entity.ShortTermMemory
	for _, hit := range hits {
		if m := s.findLocked(hit.ID); m != nil {
			out = append(out, m)
		}
	}
	return out
}

// Search returns up to limit memories ranked by similarity to the query.
func (s *ShortTerm) Search(ctx context.Context, query []float32, limit int) []*entity.ShortTermMemory {
	return s.nearest(ctx, query, limit)
}

func (s *ShortTerm) findLocked(id string) *entity.ShortTermMemory {
	for _, m := range s.memories {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// Get returns a memory by id.
func (s *ShortTerm) Get(id string) (*entity.ShortTermMemory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLocked(id)
	return m, m != nil
}

// Memories snapshots the layer, ordered by created-at (stable insertion
// order, earliest first).
func (s *ShortTerm) Memories() []*entity.ShortTermMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entity.ShortTermMemory, len(s.memories))
	copy(out, s.memories)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
