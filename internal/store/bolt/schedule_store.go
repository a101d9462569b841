package bolt

import (
	"context"
	"fmt"

	"github.com/boltdb/bolt"

	"github.com/lorikeet-ai/lorikeet/internal/core/schedule"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// TaskRecord is the durable form of a schedule entry. Callbacks cannot be
// serialized; on boot the application rebinds them by Name, so only named
// entries are worth persisting.
type TaskRecord struct {
	ID              string                 `json:"schedule_id"`
	Name            string                 `json:"name"`
	Kind            schedule.TriggerKind   `json:"trigger_kind"`
	DelaySeconds    float64                `json:"delay_seconds,omitempty"`
	TriggerAtMs     int64                  `json:"trigger_at_ms,omitempty"`
	IntervalSeconds float64                `json:"interval_seconds,omitempty"`
	EventName       string                 `json:"event_name,omitempty"`
	Recurring       bool                   `json:"recurring"`
	Args            map[string]interface{} `json:"args,omitempty"`
	CreatedAtMs     int64                  `json:"created_at_ms"`
}

// ScheduleStore persists schedule entries so durable tasks survive restarts.
type ScheduleStore struct {
	boltDB *bolt.DB
}

// NewScheduleStore creates a ScheduleStore over the shared database.
func NewScheduleStore(db *DB) *ScheduleStore {
	return &ScheduleStore{boltDB: db.Bolt()}
}

// Save upserts a task record.
func (s *ScheduleStore) Save(_ context.Context, record *TaskRecord) error {
	if record.ID == "" {
		return fmt.Errorf("save task: missing schedule id")
	}
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSchedules)
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal task %q: %w", record.ID, err)
		}
		return b.Put([]byte(record.ID), data)
	})
}

// Get returns one task record by schedule id.
func (s *ScheduleStore) Get(_ context.Context, id string) (*TaskRecord, error) {
	var record TaskRecord
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: task %q", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// List returns every persisted task record.
func (s *ScheduleStore) List(_ context.Context) ([]*TaskRecord, error) {
	var records []*TaskRecord
	err := s.boltDB.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(_, v []byte) error {
			var record TaskRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshal task: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return records, nil
}

// Delete removes a task record. Removing a missing record is not an error.
func (s *ScheduleStore) Delete(_ context.Context, id string) error {
	return s.boltDB.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).Delete([]byte(id))
	})
}
