// Package embedding abstracts the embedding backend used by the memory
// tiers.
package embedding

import (
	"context"
)

// Provider embeds text into vectors.
type Provider interface {
	// ID identifies the backend ("openai", "local").
	ID() string

	// Model returns the embedding model name.
	Model() string

	// EmbedQuery embeds one text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds several texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
