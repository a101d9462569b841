package bolt

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// StreamMeta is the durable view of one conversation stream.
type StreamMeta struct {
	ID           string `json:"stream_id"`
	Platform     string `json:"platform"`
	LastActiveMs int64  `json:"last_active_ms"`
	MessageCount int64  `json:"message_count"`
}

// StreamStore persists stream metadata so cold-started streams keep their
// identity and activity counters across restarts.
type StreamStore struct {
	boltDB *bolt.DB
}

// NewStreamStore creates a StreamStore over the shared database.
func NewStreamStore(db *DB) *StreamStore {
	return &StreamStore{boltDB: db.Bolt()}
}

// Save upserts the metadata record for a stream.
func (s *StreamStore) Save(_ context.Context, meta *StreamMeta) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams)
		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal stream meta: %w", err)
		}
		return b.Put([]byte(meta.ID), data)
	})
}

// Get returns the metadata for a stream id.
func (s *StreamStore) Get(_ context.Context, id string) (*StreamMeta, error) {
	var meta StreamMeta
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStreams).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: stream %q", ErrNotFound, id)
		}
		return json.Unmarshal(data, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

// List returns every stored stream, optionally filtered by platform.
func (s *StreamStore) List(_ context.Context, platform string) ([]*StreamMeta, error) {
	var metas []*StreamMeta
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStreams).ForEach(func(_, v []byte) error {
			var meta StreamMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("unmarshal stream meta: %w", err)
			}
			if platform == "" || meta.Platform == platform {
				metas = append(metas, &meta)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return metas, nil
}

// Delete removes a stream's metadata and its stored messages.
func (s *StreamStore) Delete(_ context.Context, id string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketStreams).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketMessages).Delete([]byte(id))
	})
}
