// Package embeddings defines the Provider interface for vector embedding
// backends. Long-term memory uses it to index session summaries and to embed
// the query when a new session recalls prior context.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to a dense float32 vector.
//
// All vectors returned by one Provider share the length reported by
// Dimensions, which must match the vector column of the memory store.
type Provider interface {
	// Embed computes the embedding vector for a single text string.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every vector.
	Dimensions() int

	// ModelID returns the provider-specific model identifier.
	ModelID() string
}
