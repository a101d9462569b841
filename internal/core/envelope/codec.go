package envelope

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lorikeet-ai/lorikeet/pkg/logger"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// UpgradeHook rewrites a raw envelope object produced under an older schema
// version into the shape expected by version+1. Hooks are registered per
// origin version and chained until SchemaVersion is reached.
type UpgradeHook func(raw map[string]interface{}) (map[string]interface{}, error)

var (
	upgradeMu    sync.RWMutex
	upgradeHooks = map[int]UpgradeHook{}
)

// RegisterUpgradeHook installs the hook that lifts envelopes from the given
// schema version to the next one. Replaces any previous hook for version.
func RegisterUpgradeHook(version int, hook UpgradeHook) {
	upgradeMu.Lock()
	defer upgradeMu.Unlock()
	upgradeHooks[version] = hook
}

// Encode serializes an envelope to its JSON wire form, stamping the current
// schema version.
func Encode(e *Envelope) ([]byte, error) {
	e.SchemaVersion = SchemaVersion
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses the JSON wire form, upgrading older schema versions through
// the registered hooks. Unknown (future) versions fail with ErrUnknownSchema.
func Decode(data []byte) (*Envelope, error) {
	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	version := probe.SchemaVersion
	if version == 0 {
		version = 1
	}
	if version > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSchema, version)
	}

	if version < SchemaVersion {
		upgraded, err := upgrade(data, version)
		if err != nil {
			return nil, err
		}
		data = upgraded
	}

	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	e.SchemaVersion = SchemaVersion
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

func upgrade(data []byte, from int) ([]byte, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}

	upgradeMu.RLock()
	defer upgradeMu.RUnlock()

	for v := from; v < SchemaVersion; v++ {
		hook, ok := upgradeHooks[v]
		if !ok {
			logger.Debug("[Envelope] no upgrade hook for schema v%d, passing through", v)
			continue
		}
		next, err := hook(raw)
		if err != nil {
			return nil, fmt.Errorf("upgrade envelope schema v%d: %w", v, err)
		}
		raw = next
	}
	raw["schema_version"] = SchemaVersion
	return json.Marshal(raw)
}

// Batch is the wire form for transporting several envelopes at once.
type Batch struct {
	SchemaVersion int         `json:"schema_version"`
	Items         []*Envelope `json:"items"`
}

// EncodeBatch serializes a batch, stamping the schema version on the batch
// and every item.
func EncodeBatch(items []*Envelope) ([]byte, error) {
	for _, e := range items {
		e.SchemaVersion = SchemaVersion
	}
	return json.Marshal(Batch{SchemaVersion: SchemaVersion, Items: items})
}

// DecodeBatch parses a batch wire form, validating each item and ordering
// items by timestamp so per-stream monotonicity survives transport batching.
func DecodeBatch(data []byte) ([]*Envelope, error) {
	var b Batch
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if b.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSchema, b.SchemaVersion)
	}
	for _, e := range b.Items {
		if e == nil {
			return nil, fmt.Errorf("%w: nil batch item", ErrBadEnvelope)
		}
		e.SchemaVersion = SchemaVersion
		if err := e.Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(b.Items, func(i, j int) bool {
		return b.Items[i].TimestampMs < b.Items[j].TimestampMs
	})
	return b.Items, nil
}
