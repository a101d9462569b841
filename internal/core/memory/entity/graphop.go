package entity

import (
	"fmt"

	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// GraphOpKind enumerates the operations the consolidator may apply.
type GraphOpKind string

const (
	OpCreateMemory   GraphOpKind = "CREATE_MEMORY"
	OpUpdateMemory   GraphOpKind = "UPDATE_MEMORY"
	OpMergeMemories  GraphOpKind = "MERGE_MEMORIES"
	OpCreateNode     GraphOpKind = "CREATE_NODE"
	OpUpdateNode     GraphOpKind = "UPDATE_NODE"
	OpDeleteNode     GraphOpKind = "DELETE_NODE"
	OpCreateEdge     GraphOpKind = "CREATE_EDGE"
	OpUpdateEdge     GraphOpKind = "UPDATE_EDGE"
	OpDeleteEdge     GraphOpKind = "DELETE_EDGE"
	OpCreateSubgraph GraphOpKind = "CREATE_SUBGRAPH"
	OpQueryGraph     GraphOpKind = "QUERY_GRAPH"
)

var validOps = map[GraphOpKind]struct{}{
	OpCreateMemory: {}, OpUpdateMemory: {}, OpMergeMemories: {},
	OpCreateNode: {}, OpUpdateNode: {}, OpDeleteNode: {},
	OpCreateEdge: {}, OpUpdateEdge: {}, OpDeleteEdge: {},
	OpCreateSubgraph: {}, OpQueryGraph: {},
}

// GraphOperation is one typed operation parsed from model output. Fields are
// populated per kind; unused fields stay zero.
type GraphOperation struct {
	Kind GraphOpKind `json:"op"`

	// Node fields.
	NodeID      string   `json:"node_id,omitempty"`
	NodeContent string   `json:"node_content,omitempty"`
	NodeType    NodeType `json:"node_type,omitempty"`

	// Edge fields.
	EdgeID     string   `json:"edge_id,omitempty"`
	SourceID   string   `json:"source_id,omitempty"`
	TargetID   string   `json:"target_id,omitempty"`
	Relation   string   `json:"relation,omitempty"`
	EdgeType   EdgeType `json:"edge_type,omitempty"`
	Importance float64  `json:"importance,omitempty"`

	// Memory fields.
	MemoryID      string     `json:"memory_id,omitempty"`
	MergeIntoID   string     `json:"merge_into_id,omitempty"`
	MemoryType    MemoryType `json:"memory_type,omitempty"`
	MemoryContent string     `json:"memory_content,omitempty"`

	// Subgraph payload for CREATE_SUBGRAPH.
	Nodes []GraphOperation `json:"nodes,omitempty"`
	Edges []GraphOperation `json:"edges,omitempty"`

	// Query string for QUERY_GRAPH.
	Query string `json:"query,omitempty"`
}

// ParseGraphOperations decodes a model-emitted JSON array of operations.
// Unknown kinds fail the whole parse so a bad plan is rejected, not half
// applied.
func ParseGraphOperations(raw []byte) ([]GraphOperation, error) {
	var ops []GraphOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("parse graph operations: %w", err)
	}
	for i, op := range ops {
		if _, ok := validOps[op.Kind]; !ok {
			return nil, fmt.Errorf("operation %d: unknown kind %q", i, op.Kind)
		}
	}
	return ops, nil
}
