package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/embedding"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/vector"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

const (
	tableNodes    = "memory_nodes"
	tableEdges    = "memory_edges"
	tableMemories = "long_term_memories"

	// CollectionGraphNodes indexes TOPIC/OBJECT node embeddings for dedup
	// and retrieval entry points.
	CollectionGraphNodes = "graph_nodes"

	// Dedup thresholds: above mergeAlways merge unconditionally; between
	// mergeCandidate and mergeAlways merge only with compatible adjacent
	// relations.
	mergeCandidateSimilarity = 0.85
	mergeAlwaysSimilarity    = 0.95
)

// ErrConsolidationFault marks a failed batch application.
var ErrConsolidationFault = errors.New("consolidation fault")

// Graph is the long-term tier: a node+edge graph in sqlite with an
// embedding index over topic/object nodes.
type Graph struct {
	cfg      entity.Config
	vectors  vector.Store
	embedder embedding.Provider

	// mu serialises write transactions and dedup lookups.
	mu sync.Mutex
	db *sql.DB
}

func OpenGraph(path string, cfg entity.Config, vectors vector.Store, embedder embedding.Provider) (*Graph, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open graph db: %w", err)
	}
	g := &Graph{cfg: cfg, vectors: vectors, embedder: embedder, db: db}
	if err := g.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return g, nil
}

func (g *Graph) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + tableNodes + ` (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			type TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tableEdges + ` (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relation TEXT NOT NULL,
			type TEXT NOT NULL,
			importance REAL NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tableMemories + ` (
			id TEXT PRIMARY KEY,
			subject_node_id TEXT NOT NULL,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			node_ids TEXT NOT NULL DEFAULT '[]',
			edge_ids TEXT NOT NULL DEFAULT '[]',
			importance REAL NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed INTEGER NOT NULL,
			decay_factor REAL NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON ` + tableEdges + `(source_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON ` + tableEdges + `(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_subject ON ` + tableMemories + `(subject_node_id)`,
	}
	for _, stmt := range stmts {
		if _, err := g.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec graph schema: %w", err)
		}
	}
	return nil
}

// ApplyOperations applies one consolidation batch atomically: either every
// operation lands or the transaction rolls back.
func (g *Graph) ApplyOperations(ctx context.Context, ops []entity.GraphOperation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrConsolidationFault, err)
	}

	// aliases remaps ids of nodes that dedup folded into existing ones so
	// later ops in the batch keep resolving.
	aliases := map[string]string{}
	var indexed []entity.MemoryNode
	for i, op := range ops {
		nodes, err := g.applyOne(ctx, tx, op, aliases)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("%w: op %d (%s): %v", ErrConsolidationFault, i, op.Kind, err)
		}
		indexed = append(indexed, nodes...)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrConsolidationFault, err)
	}

	// Vector index updates happen after commit; a failure leaves the node
	// unretrievable until ReindexNodes runs.
	for _, n := range indexed {
		if len(n.Embedding) == 0 {
			continue
		}
		if err := g.vectors.Upsert(ctx, CollectionGraphNodes, n.ID, n.Embedding); err != nil {
			logger.Warn("[Memory] index graph node %s: %v", n.ID, err)
		}
	}
	return nil
}

// applyOne executes one operation inside the transaction and returns any
// nodes that need vector indexing after commit.
func (g *Graph) applyOne(ctx context.Context, tx *sql.Tx, op entity.GraphOperation, aliases map[string]string) ([]entity.MemoryNode, error) {
	resolve := func(id string) string {
		if target, ok := aliases[id]; ok {
			return target
		}
		return id
	}
	now := time.Now().UnixMilli()
	switch op.Kind {
	case entity.OpCreateNode, entity.OpUpdateNode:
		node := entity.MemoryNode{
			ID:      op.NodeID,
			Content: op.NodeContent,
			Type:    op.NodeType,
		}
		if node.ID == "" {
			node.ID = uuid.NewString()
		}
		if node.Content == "" {
			return nil, fmt.Errorf("node without content")
		}

		if op.Kind == entity.OpCreateNode && (node.Type == entity.NodeTopic || node.Type == entity.NodeObject) {
			emb, err := g.embedder.EmbedQuery(ctx, node.Content)
			if err != nil {
				logger.Warn("[Memory] embed node %q: %v", node.Content, err)
			} else {
				node.Embedding = emb
				if existing, ok := g.dedupTarget(ctx, tx, node, op.Relation); ok {
					logger.Info("[Memory] dedup: %q merges into existing node %s", node.Content, existing)
					aliases[node.ID] = existing
					return nil, nil
				}
			}
		}

		encoded := "[]"
		if len(node.Embedding) > 0 {
			b, _ := json.Marshal(node.Embedding)
			encoded = string(b)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO `+tableNodes+` (id, content, type, embedding, created_at) VALUES (?, ?, ?, ?, ?)`,
			node.ID, node.Content, string(node.Type), encoded, now)
		if err != nil {
			return nil, err
		}
		return []entity.MemoryNode{node}, nil

	case entity.OpDeleteNode:
		if op.NodeID == "" {
			return nil, fmt.Errorf("delete node without id")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+tableNodes+` WHERE id = ?`, op.NodeID); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM `+tableEdges+` WHERE source_id = ? OR target_id = ?`, op.NodeID, op.NodeID)
		return nil, err

	case entity.OpCreateEdge, entity.OpUpdateEdge:
		id := op.EdgeID
		if id == "" {
			id = uuid.NewString()
		}
		if op.SourceID == "" || op.TargetID == "" {
			return nil, fmt.Errorf("edge without endpoints")
		}
		meta := "{}"
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO `+tableEdges+` (id, source_id, target_id, relation, type, importance, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			id, resolve(op.SourceID), resolve(op.TargetID), op.Relation, string(op.EdgeType), op.Importance, meta, now)
		return nil, err

	case entity.OpDeleteEdge:
		if op.EdgeID == "" {
			return nil, fmt.Errorf("delete edge without id")
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM `+tableEdges+` WHERE id = ?`, op.EdgeID)
		return nil, err

	case entity.OpCreateMemory, entity.OpUpdateMemory:
		id := op.MemoryID
		if id == "" {
			id = uuid.NewString()
		}
		if op.MemoryContent == "" {
			return nil, fmt.Errorf("memory without content")
		}
		importance := op.Importance
		if importance == 0 {
			importance = 0.5
		}
		nodeIDs := nodeIDsOf(op)
		for i := range nodeIDs {
			nodeIDs[i] = resolve(nodeIDs[i])
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO `+tableMemories+
				` (id, subject_node_id, type, content, node_ids, edge_ids, importance, access_count, last_accessed, decay_factor, created_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
			id, resolve(op.SourceID), string(op.MemoryType), op.MemoryContent,
			encodeIDs(nodeIDs), "[]", importance, now, g.cfg.LongTermDecayFactor, now)
		return nil, err

	case entity.OpMergeMemories:
		if op.MemoryID == "" || op.MergeIntoID == "" {
			return nil, fmt.Errorf("merge without source and target")
		}
		var content string
		if err := tx.QueryRowContext(ctx,
			`SELECT content FROM `+tableMemories+` WHERE id = ?`, op.MemoryID).Scan(&content); err != nil {
			return nil, fmt.Errorf("merge source %s: %w", op.MemoryID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE `+tableMemories+` SET content = content || '; ' || ?, importance = MIN(1.0, importance + 0.05) WHERE id = ?`,
			content, op.MergeIntoID); err != nil {
			return nil, err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM `+tableMemories+` WHERE id = ?`, op.MemoryID)
		return nil, err

	case entity.OpCreateSubgraph:
		var indexed []entity.MemoryNode
		for _, sub := range append(append([]entity.GraphOperation{}, op.Nodes...), op.Edges...) {
			nodes, err := g.applyOne(ctx, tx, sub, aliases)
			if err != nil {
				return nil, err
			}
			indexed = append(indexed, nodes...)
		}
		return indexed, nil

	case entity.OpQueryGraph:
		// Read-only op emitted by the model for its own context; nothing to
		// apply.
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown operation %q", op.Kind)
	}
}

func nodeIDsOf(op entity.GraphOperation) []string {
	var ids []string
	if op.SourceID != "" {
		ids = append(ids, op.SourceID)
	}
	if op.TargetID != "" {
		ids = append(ids, op.TargetID)
	}
	return ids
}

func encodeIDs(ids []string) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// dedupTarget decides whether a new TOPIC/OBJECT node should merge into an
// existing one. Above mergeAlwaysSimilarity the merge is unconditional;
// between the thresholds the existing node must share an adjacent relation
// label with the incoming edge.
func (g *Graph) dedupTarget(ctx context.Context, tx *sql.Tx, node entity.MemoryNode, pendingRelation string) (string, bool) {
	hits, err := g.vectors.Search(ctx, CollectionGraphNodes, node.Embedding, 3, mergeCandidateSimilarity)
	if err != nil {
		logger.Warn("[Memory] node dedup search: %v", err)
		return "", false
	}
	for _, hit := range hits {
		if hit.ID == node.ID {
			continue
		}
		if hit.Similarity >= mergeAlwaysSimilarity {
			return hit.ID, true
		}
		if pendingRelation != "" && g.hasAdjacentRelation(ctx, tx, hit.ID, pendingRelation) {
			return hit.ID, true
		}
	}
	return "", false
}

func (g *Graph) hasAdjacentRelation(ctx context.Context, tx *sql.Tx, nodeID, relation string) bool {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM `+tableEdges+` WHERE (source_id = ? OR target_id = ?) AND relation = ? LIMIT 1`,
		nodeID, nodeID, relation).Scan(&one)
	return err == nil
}

// GetNode loads one node.
func (g *Graph) GetNode(ctx context.Context, id string) (*entity.MemoryNode, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT id, content, type, embedding, created_at FROM `+tableNodes+` WHERE id = ?`, id)
	return scanNode(row)
}

// FindNodeByContent looks a node up by exact content.
func (g *Graph) FindNodeByContent(ctx context.Context, content string) (*entity.MemoryNode, error) {
	row := g.db.QueryRowContext(ctx,
		`SELECT id, content, type, embedding, created_at FROM `+tableNodes+` WHERE content = ? LIMIT 1`, content)
	return scanNode(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*entity.MemoryNode, error) {
	var n entity.MemoryNode
	var typ, encoded string
	var created int64
	if err := row.Scan(&n.ID, &n.Content, &typ, &encoded, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	n.Type = entity.NodeType(typ)
	n.CreatedAt = time.UnixMilli(created)
	if encoded != "" && encoded != "[]" {
		_ = json.Unmarshal([]byte(encoded), &n.Embedding)
	}
	return &n, nil
}

// EdgesOf returns every edge touching the node.
func (g *Graph) EdgesOf(ctx context.Context, nodeID string) ([]entity.MemoryEdge, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relation, type, importance, metadata, created_at FROM `+
			tableEdges+` WHERE source_id = ? OR target_id = ?`, nodeID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]entity.MemoryEdge, error) {
	var out []entity.MemoryEdge
	for rows.Next() {
		var e entity.MemoryEdge
		var typ, meta string
		var created int64
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation, &typ, &e.Importance, &meta, &created); err != nil {
			return nil, err
		}
		e.Type = entity.EdgeType(typ)
		e.CreatedAt = time.UnixMilli(created)
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddDiscoveredEdge inserts a relation-discovery edge carrying the
// discovered marker.
func (g *Graph) AddDiscoveredEdge(ctx context.Context, sourceID, targetID, relation string, typ entity.EdgeType, importance float64) error {
	meta, _ := json.Marshal(map[string]string{"discovered": "true"})
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+tableEdges+` (id, source_id, target_id, relation, type, importance, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sourceID, targetID, relation, string(typ), importance, string(meta), time.Now().UnixMilli())
	return err
}

// GetMemory loads one long-term memory.
func (g *Graph) GetMemory(ctx context.Context, id string) (*entity.LongTermMemory, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, subject_node_id, type, content, node_ids, edge_ids, importance, access_count, last_accessed, decay_factor, created_at FROM `+
			tableMemories+` WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	memories, err := scanMemories(rows)
	if err != nil || len(memories) == 0 {
		return nil, err
	}
	return memories[0], nil
}

// MemoriesByNode returns memories whose node set contains the node.
func (g *Graph) MemoriesByNode(ctx context.Context, nodeID string) ([]*entity.LongTermMemory, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, subject_node_id, type, content, node_ids, edge_ids, importance, access_count, last_accessed, decay_factor, created_at FROM `+
			tableMemories+` WHERE subject_node_id = ? OR node_ids LIKE ?`, nodeID, `%"`+nodeID+`"%`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

// RecentMemories returns memories consolidated after the cutoff.
func (g *Graph) RecentMemories(ctx context.Context, since time.Time) ([]*entity.LongTermMemory, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, subject_node_id, type, content, node_ids, edge_ids, importance, access_count, last_accessed, decay_factor, created_at FROM `+
			tableMemories+` WHERE created_at >= ? ORDER BY created_at`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]*entity.LongTermMemory, error) {
	var out []*entity.LongTermMemory
	for rows.Next() {
		var m entity.LongTermMemory
		var typ, nodeIDs, edgeIDs string
		var accessed, created int64
		if err := rows.Scan(&m.ID, &m.SubjectNodeID, &typ, &m.Content, &nodeIDs, &edgeIDs,
			&m.Importance, &m.AccessCount, &accessed, &m.DecayFactor, &created); err != nil {
			return nil, err
		}
		m.Type = entity.MemoryType(typ)
		m.LastAccessed = time.UnixMilli(accessed)
		m.CreatedAt = time.UnixMilli(created)
		_ = json.Unmarshal([]byte(nodeIDs), &m.NodeIDs)
		_ = json.Unmarshal([]byte(edgeIDs), &m.EdgeIDs)
		out = append(out, &m)
	}
	return out, rows.Err()
}

// Access bumps the access counters of a memory.
func (g *Graph) Access(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.ExecContext(ctx,
		`UPDATE `+tableMemories+` SET access_count = access_count + 1, last_accessed = ? WHERE id = ?`,
		time.Now().UnixMilli(), id)
	return err
}

// DecayAll applies the slow long-term decay to every memory. Run nightly.
func (g *Graph) DecayAll(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.ExecContext(ctx,
		`UPDATE `+tableMemories+` SET importance = importance * decay_factor`)
	return err
}

// SearchNodes finds graph entry points by embedding similarity.
func (g *Graph) SearchNodes(ctx context.Context, query []float32, limit int, threshold float64) ([]vector.Hit, error) {
	return g.vectors.Search(ctx, CollectionGraphNodes, query, limit, threshold)
}

// ReindexNodes retries vector indexing for nodes whose embedding landed in
// sqlite but not in the index.
func (g *Graph) ReindexNodes(ctx context.Context) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, embedding FROM `+tableNodes+` WHERE embedding != '' AND embedding != '[]'`)
	if err != nil {
		logger.Warn("[Memory] reindex nodes: %v", err)
		return
	}
	defer rows.Close()
	for rows.Next() {
		var id, encoded string
		if err := rows.Scan(&id, &encoded); err != nil {
			return
		}
		var emb []float32
		if json.Unmarshal([]byte(encoded), &emb) != nil || len(emb) == 0 {
			continue
		}
		if err := g.vectors.Upsert(ctx, CollectionGraphNodes, id, emb); err != nil {
			logger.Warn("[Memory] reindex node %s: %v", id, err)
		}
	}
}

// NodeCount returns how many nodes the graph holds.
func (g *Graph) NodeCount(ctx context.Context) (int, error) {
	var n int
	err := g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+tableNodes).Scan(&n)
	return n, err
}

// Close releases the database handle.
func (g *Graph) Close() error {
	return g.db.Close()
}
