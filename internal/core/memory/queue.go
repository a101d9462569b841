package memory

import (
	"sync"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// defaultQueueCapacity bounds the transfer queue; overflow sheds the
// lowest-importance entry.
const defaultQueueCapacity = 200

// maxConsolidationRetries caps how often a rolled-back batch item is
// requeued before being dropped.
const maxConsolidationRetries = 3

// QueuedMemory is one short-term memory awaiting consolidation.
type QueuedMemory struct {
	Memory  *entity.ShortTermMemory `json:"memory"`
	Retries int                     `json:"retries"`
}

// TransferQueue is the staging area between the short-term layer and the
// long-term consolidator, journaled for crash recovery.
type TransferQueue struct {
	capacity int
	journal  *journal

	mu    sync.Mutex
	items []QueuedMemory
}

func NewTransferQueue(dataDir string, capacity int) (*TransferQueue, error) {
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	j, err := newJournal(dataDir, journalPromotion)
	if err != nil {
		return nil, err
	}
	q := &TransferQueue{capacity: capacity, journal: j}
	if err := j.Load(&q.items); err != nil {
		logger.Warn("[Memory] promotion queue replay: %v", err)
	}
	if len(q.items) > 0 {
		logger.Info("[Memory] promotion queue replayed %d entries", len(q.items))
	}
	return q, nil
}

func (q *TransferQueue) persistLocked() {
	if err := q.journal.Save(q.items); err != nil {
		logger.Error("[Memory] persist promotion queue: %v", err)
	}
}

// Push enqueues a memory. A full queue sheds its lowest-importance entry in
// favour of a more important newcomer, otherwise the newcomer is dropped.
func (q *TransferQueue) Push(m *entity.ShortTermMemory) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.capacity {
		worst := -1
		for i, it := range q.items {
			if worst < 0 || it.Memory.Importance < q.items[worst].Memory.Importance {
				worst = i
			}
		}
		if worst < 0 || q.items[worst].Memory.Importance >= m.Importance {
			logger.Warn("[Memory] promotion queue full, shedding %q", m.Summary())
			return
		}
		logger.Warn("[Memory] promotion queue full, shedding %q", q.items[worst].Memory.Summary())
		q.items = append(q.items[:worst], q.items[worst+1:]...)
	}

	q.items = append(q.items, QueuedMemory{Memory: m})
	q.persistLocked()
}

// Drain removes and returns up to n entries, FIFO.
func (q *TransferQueue) Drain(n int) []QueuedMemory {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.items) {
		n = len(q.items)
	}
	if n <= 0 {
		return nil
	}
	batch := make([]QueuedMemory, n)
	copy(batch, q.items[:n])
	q.items = q.items[n:]
	q.persistLocked()
	return batch
}

// Requeue returns a failed batch with bumped retry counters. Entries over
// the retry cap are dropped with an error log; their ids are returned so
// the caller can clear promotion state.
func (q *TransferQueue) Requeue(batch []QueuedMemory) (dropped []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range batch {
		it.Retries++
		if it.Retries > maxConsolidationRetries {
			logger.Error("[Memory] dropping %q after %d failed consolidations", it.Memory.Summary(), it.Retries-1)
			dropped = append(dropped, it.Memory.ID)
			continue
		}
		q.items = append(q.items, it)
	}
	q.persistLocked()
	return dropped
}

// Len returns the queue depth.
func (q *TransferQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
