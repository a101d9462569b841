package vector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

const tableVectors = "vectors"

// sqliteStore is a brute-force cosine index backed by sqlite. Per-collection
// scans are serialised by one mutex; collection sizes here are small (tens
// to low thousands).
type sqliteStore struct {
	mu sync.Mutex
	db *sql.DB
}

// OpenSQLite opens (or creates) a vector database at path. ":memory:" works
// for tests.
func OpenSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	stmt := `CREATE TABLE IF NOT EXISTS ` + tableVectors + ` (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		embedding TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (collection, id)
	)`
	if _, err := db.Exec(stmt); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("exec vector schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Upsert(ctx context.Context, collection, id string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for %s/%s", collection, id)
	}
	encoded, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO `+tableVectors+` (collection, id, embedding, updated_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(encoded), time.Now().UnixMilli())
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM `+tableVectors+` WHERE collection = ? AND id = ?`, collection, id)
	return err
}

func (s *sqliteStore) Search(ctx context.Context, collection string, query []float32, limit int, threshold float64) ([]Hit, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, embedding FROM `+tableVectors+` WHERE collection = ?`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id, encoded string
		if err := rows.Scan(&id, &encoded); err != nil {
			return nil, err
		}
		var embedding []float32
		if err := json.Unmarshal([]byte(encoded), &embedding); err != nil {
			continue
		}
		sim := CosineSimilarity(query, embedding)
		if sim >= threshold {
			hits = append(hits, Hit{ID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *sqliteStore) Count(ctx context.Context, collection string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+tableVectors+` WHERE collection = ?`, collection).Scan(&n)
	return n, err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
