// Package memory implements the three-tier memory engine: a perceptual
// block layer, a structured short-term layer, and a long-term graph, plus
// unified retrieval across all tiers.
package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lorikeet-ai/lorikeet/pkg/logger"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

const (
	journalPerceptual = "perceptual.json"
	journalShortTerm  = "short_term.json"
	journalPromotion  = "promotion_queue.json"
)

// journal persists one staging layer's state as a JSON file, written
// atomically via rename. It is the fallback when database writes fail and
// the replay source on startup.
type journal struct {
	path string
}

func newJournal(dir, name string) (*journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &journal{path: filepath.Join(dir, name)}, nil
}

// Save writes v as indented JSON.
func (j *journal) Save(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode journal %s: %w", j.path, err)
	}
	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write journal %s: %w", j.path, err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("commit journal %s: %w", j.path, err)
	}
	return nil
}

// Load reads the journal into v. A missing file is not an error and leaves
// v untouched.
func (j *journal) Load(v interface{}) error {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read journal %s: %w", j.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		// A corrupt journal is logged and skipped so startup proceeds.
		logger.Warn("[Memory] journal %s corrupt, ignoring: %v", j.path, err)
		return nil
	}
	return nil
}
