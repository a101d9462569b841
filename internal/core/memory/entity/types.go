// Package entity defines the records flowing through the three memory
// tiers: perceptual blocks, short-term triples, and the long-term graph.
package entity

import (
	"time"
)

// MemoryBlock aggregates up to BlockSize sequential messages in the
// perceptual layer. The embedding is computed when the block closes.
type MemoryBlock struct {
	ID              string    `json:"id"`
	StreamID        string    `json:"stream_id"`
	Messages        []string  `json:"messages"`
	Embedding       []float32 `json:"embedding,omitempty"`
	ActivationCount int       `json:"activation_count"`
	Closed          bool      `json:"closed"`
	Promoted        bool      `json:"promoted"`
	CreatedAt       time.Time `json:"created_at"`
}

// Text concatenates the block's messages for embedding and extraction.
func (b *MemoryBlock) Text() string {
	out := ""
	for i, m := range b.Messages {
		if i > 0 {
			out += "\n"
		}
		out += m
	}
	return out
}

// ShortTermMemory is one structured triple with attributes.
type ShortTermMemory struct {
	ID              string            `json:"id"`
	Subject         string            `json:"subject"`
	Topic           string            `json:"topic"`
	Object          string            `json:"object"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	Embedding       []float32         `json:"embedding,omitempty"`
	Importance      float64           `json:"importance"`
	ActivationCount int               `json:"activation_count"`
	LastAccessed    time.Time         `json:"last_accessed"`
	CreatedAt       time.Time         `json:"created_at"`
	OriginBlockIDs  []string          `json:"origin_block_ids,omitempty"`

	// Promoting guards against eviction while the memory sits in the
	// transfer queue.
	Promoting bool `json:"promoting"`
}

// Summary renders the triple as one line for prompts and embeddings.
func (m *ShortTermMemory) Summary() string {
	s := m.Subject + " " + m.Topic + " " + m.Object
	for k, v := range m.Attributes {
		s += " [" + k + "=" + v + "]"
	}
	return s
}

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeSubject   NodeType = "SUBJECT"
	NodeTopic     NodeType = "TOPIC"
	NodeObject    NodeType = "OBJECT"
	NodeAttribute NodeType = "ATTRIBUTE"
	NodeValue     NodeType = "VALUE"
)

// MemoryNode is one vertex of the long-term graph.
type MemoryNode struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Type      NodeType  `json:"type"`
	Embedding []float32 `json:"embedding,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// EdgeType classifies graph edges.
type EdgeType string

const (
	EdgeMemoryType   EdgeType = "MEMORY_TYPE"
	EdgeCoreRelation EdgeType = "CORE_RELATION"
	EdgeAttribute    EdgeType = "ATTRIBUTE"
	EdgeCausality    EdgeType = "CAUSALITY"
	EdgeReference    EdgeType = "REFERENCE"
)

// MemoryEdge connects two nodes (or a node and a memory).
type MemoryEdge struct {
	ID         string            `json:"id"`
	SourceID   string            `json:"source_id"`
	TargetID   string            `json:"target_id"`
	Relation   string            `json:"relation"`
	Type       EdgeType          `json:"type"`
	Importance float64           `json:"importance"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// MemoryType classifies long-term memories.
type MemoryType string

const (
	MemoryEvent    MemoryType = "EVENT"
	MemoryFact     MemoryType = "FACT"
	MemoryRelation MemoryType = "RELATION"
	MemoryOpinion  MemoryType = "OPINION"
)

// LongTermMemory groups a subject node with its member nodes and edges.
type LongTermMemory struct {
	ID            string     `json:"id"`
	SubjectNodeID string     `json:"subject_node_id"`
	Type          MemoryType `json:"type"`
	Content       string     `json:"content"`
	NodeIDs       []string   `json:"node_ids"`
	EdgeIDs       []string   `json:"edge_ids"`
	Importance    float64    `json:"importance"`
	AccessCount   int        `json:"access_count"`
	LastAccessed  time.Time  `json:"last_accessed"`
	DecayFactor   float64    `json:"decay_factor"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DecisionAction is the model's verdict on a short-term candidate.
type DecisionAction string

const (
	ActionMerge     DecisionAction = "MERGE"
	ActionUpdate    DecisionAction = "UPDATE"
	ActionCreateNew DecisionAction = "CREATE_NEW"
	ActionDiscard   DecisionAction = "DISCARD"
)

// Decision is the parsed model output for one candidate.
type Decision struct {
	Action   DecisionAction    `json:"action"`
	TargetID string            `json:"target_id,omitempty"`
	Merged   map[string]string `json:"merged_attributes,omitempty"`
}

// Triple is one extracted (subject, topic, object) with attributes.
type Triple struct {
	Subject    string            `json:"subject"`
	Topic      string            `json:"topic"`
	Object     string            `json:"object"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Importance float64           `json:"importance"`
}
