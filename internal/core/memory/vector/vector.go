// Package vector provides the embedding index used by all memory tiers.
// Collections keep the tiers' vectors separate in one database.
package vector

import (
	"context"
	"math"
)

// Hit is one similarity-search result.
type Hit struct {
	ID         string
	Similarity float64
}

// Store is a cosine-similarity index over named collections.
type Store interface {
	// Upsert inserts or replaces a vector under (collection, id).
	Upsert(ctx context.Context, collection, id string, embedding []float32) error

	// Delete removes a vector. Missing ids are ignored.
	Delete(ctx context.Context, collection, id string) error

	// Search returns up to limit hits with similarity >= threshold,
	// ordered best first.
	Search(ctx context.Context, collection string, query []float32, limit int, threshold float64) ([]Hit, error)

	// Count returns the number of vectors in the collection.
	Count(ctx context.Context, collection string) (int, error)

	Close() error
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths compare the common prefix.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	length := len(a)
	if len(b) < length {
		length = len(b)
	}

	var dot, normA, normB float64
	for i := 0; i < length; i++ {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		normA += av * av
		normB += bv * bv
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
