package bolt

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// maxStoredMessages caps the per-stream history so the store never grows
// unbounded. Oldest records are dropped first.
const maxStoredMessages = 200

// MessageRecord is the stored summary of one envelope. Only what prompt
// reconstruction needs survives; segments beyond plain text are flattened.
type MessageRecord struct {
	Direction   string `json:"direction"`
	Sender      string `json:"sender,omitempty"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
}

// MessageStore persists closed-window message summaries per stream so a
// cold-started stream can rebuild its prompt context.
type MessageStore struct {
	boltDB *bolt.DB
}

// NewMessageStore creates a MessageStore over the shared database.
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{boltDB: db.Bolt()}
}

// RecordFromEnvelope flattens an envelope into its stored summary. Empty-text
// envelopes (pure notice/meta traffic) yield a zero record the caller should
// skip.
func RecordFromEnvelope(e *envelope.Envelope) MessageRecord {
	r := MessageRecord{
		Direction:   string(e.Direction),
		Text:        e.PlainText(),
		TimestampMs: e.TimestampMs,
	}
	if e.Info.User != nil {
		r.Sender = e.Info.User.Name
		if r.Sender == "" {
			r.Sender = e.Info.User.ID
		}
	}
	return r
}

// Append adds records to a stream's history, trimming to the retention cap.
func (s *MessageStore) Append(_ context.Context, streamID string, records []MessageRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		var history []MessageRecord
		if data := b.Get([]byte(streamID)); data != nil {
			if err := json.Unmarshal(data, &history); err != nil {
				return fmt.Errorf("unmarshal history for %q: %w", streamID, err)
			}
		}
		history = append(history, records...)
		if len(history) > maxStoredMessages {
			history = history[len(history)-maxStoredMessages:]
		}
		data, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("marshal history for %q: %w", streamID, err)
		}
		return b.Put([]byte(streamID), data)
	})
}

// Recent returns up to limit of the newest records for a stream, oldest
// first. limit <= 0 returns the whole stored history.
func (s *MessageStore) Recent(_ context.Context, streamID string, limit int) ([]MessageRecord, error) {
	var history []MessageRecord
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(streamID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &history)
	})
	if err != nil {
		return nil, fmt.Errorf("load history for %q: %w", streamID, err)
	}
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	return history, nil
}
