package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// CollectionPerceptual is the vector collection for closed blocks.
const CollectionPerceptual = "perceptual"

// Perceptual is the first tier: a global FIFO of message blocks. A block
// closes at exactly BlockSize messages; the next message opens a new one.
type Perceptual struct {
	cfg      entity.Config
	vectors  vector.Store
	embedder embedding.Provider
	journal  *journal

	mu     sync.Mutex
	blocks []*entity.MemoryBlock // closed blocks, oldest first
	open   *entity.MemoryBlock
}

func NewPerceptual(cfg entity.Config, vectors vector.Store, embedder embedding.Provider, dataDir string) (*Perceptual, error) {
	j, err := newJournal(dataDir, journalPerceptual)
	if err != nil {
		return nil, err
	}
	p := &Perceptual{cfg: cfg, vectors: vectors, embedder: embedder, journal: j}
	p.replay()
	return p, nil
}

type perceptualState struct {
	Blocks []*entity.MemoryBlock `json:"blocks"`
	Open   *entity.MemoryBlock   `json:"open,omitempty"`
}

func (p *Perceptual) replay() {
	var state perceptualState
	if err := p.journal.Load(&state); err != nil {
		logger.Warn("[Memory] perceptual replay: %v", err)
		return
	}
	p.blocks = state.Blocks
	p.open = state.Open
	if len(p.blocks) > 0 || p.open != nil {
		logger.Info("[Memory] perceptual layer replayed %d closed blocks", len(p.blocks))
	}
}

func (p *Perceptual) persist() {
	if err := p.journal.Save(perceptualState{Blocks: p.blocks, Open: p.open}); err != nil {
		logger.Error("[Memory] persist perceptual journal: %v", err)
	}
}

// AddMessage appends one message. When the open block reaches BlockSize it
// closes: the block is embedded, indexed, recalled against, and any block
// whose activation reaches the threshold is returned for promotion.
func (p *Perceptual) AddMessage(ctx context.Context, streamID, text string) (closed *entity.MemoryBlock, promoted []*entity.MemoryBlock, err error) {
	p.mu.Lock()
	if p.open == nil {
		p.open = &entity.MemoryBlock{
			ID:        uuid.NewString(),
			StreamID:  streamID,
			CreatedAt: time.Now(),
		}
	}
	p.open.Messages = append(p.open.Messages, text)
	if len(p.open.Messages) < p.cfg.PerceptualBlockSize {
		p.persist()
		p.mu.Unlock()
		return nil, nil, nil
	}

	block := p.open
	block.Closed = true
	p.open = nil
	p.blocks = append(p.blocks, block)
	evicted := p.evictLocked()
	p.persist()
	p.mu.Unlock()

	for _, old := range evicted {
		if err := p.vectors.Delete(ctx, CollectionPerceptual, old.ID); err != nil {
			logger.Warn("[Memory] drop evicted block %s from index: %v", old.ID, err)
		}
	}

	if err := p.index(ctx, block); err != nil {
		// The block stays closed but unretrievable until Reindex runs.
		logger.Error("[Memory] embed block %s: %v", block.ID, err)
		return block, nil, nil
	}

	promoted = p.recall(ctx, block)
	return block, promoted, nil
}

func (p *Perceptual) evictLocked() []*entity.MemoryBlock {
	var evicted []*entity.MemoryBlock
	for len(p.blocks) > p.cfg.PerceptualMaxBlocks {
		evicted = append(evicted, p.blocks[0])
		p.blocks = p.blocks[1:]
	}
	return evicted
}

func (p *Perceptual) index(ctx context.Context, block *entity.MemoryBlock) error {
	emb, err := p.embedder.EmbedQuery(ctx, block.Text())
	if err != nil {
		return err
	}
	if err := p.vectors.Upsert(ctx, CollectionPerceptual, block.ID, emb); err != nil {
		return err
	}
	p.mu.Lock()
	block.Embedding = emb
	p.persist()
	p.mu.Unlock()
	return nil
}

// recall searches the collection with the new block and bumps activation on
// the hits. Blocks crossing the activation threshold are marked and
// returned once.
func (p *Perceptual) recall(ctx context.Context, block *entity.MemoryBlock) []*entity.MemoryBlock {
	hits, err := p.vectors.Search(ctx, CollectionPerceptual, block.Embedding,
		p.cfg.PerceptualTopK+1, p.cfg.PerceptualSimilarityThreshold)
	if err != nil {
		logger.Warn("[Memory] perceptual recall: %v", err)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var promoted []*entity.MemoryBlock
	matched := 0
	for _, hit := range hits {
		if hit.ID == block.ID {
			continue
		}
		if matched >= p.cfg.PerceptualTopK {
			break
		}
		matched++
		b := p.findLocked(hit.ID)
		if b == nil {
			continue
		}
		b.ActivationCount++
		if b.ActivationCount >= p.cfg.ActivationThreshold && !b.Promoted {
			b.Promoted = true
			promoted = append(promoted, b)
		}
	}
	if matched > 0 {
		p.persist()
	}
	return promoted
}

func (p *Perceptual) findLocked(id string) *entity.MemoryBlock {
	for _, b := range p.blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Reindex retries embedding for closed blocks that failed earlier.
func (p *Perceptual) Reindex(ctx context.Context) {
	p.mu.Lock()
	var pending []*entity.MemoryBlock
	for _, b := range p.blocks {
		if len(b.Embedding) == 0 {
			pending = append(pending, b)
		}
	}
	p.mu.Unlock()

	for _, b := range pending {
		if err := p.index(ctx, b); err != nil {
			logger.Warn("[Memory] reindex block %s: %v", b.ID, err)
		}
	}
}

// Blocks snapshots the closed blocks, oldest first.
func (p *Perceptual) Blocks() []*entity.MemoryBlock {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*entity.MemoryBlock, len(p.blocks))
	copy(out, p.blocks)
	return out
}

// ClosedCount returns the number of closed blocks held.
func (p *Perceptual) ClosedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.blocks)
}
