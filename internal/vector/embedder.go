// Package vector provides the embedder collaborator of the retrieval layer:
// providers, a bounded embedding cache, the on-disk vector codec and cosine similarity.
package vector

import "context"

const (
	// DefaultEmbeddingDimensions is the vector size of the offline hashing embedder.
	DefaultEmbeddingDimensions = 384

	// DefaultOpenAIModel is used when the openai provider has no model configured.
	DefaultOpenAIModel = "text-embedding-3-small"

	// DefaultGoogleModel is used when the google provider has no model configured.
	DefaultGoogleModel = "text-embedding-004"
)

// Embedder defines the interface for creating vector embeddings from text.
type Embedder interface {
	// Initialize sets up the embedder with any required configuration.
	Initialize() error

	// CreateEmbedding converts text into a vector representation. It honours
	// ctx cancellation and deadlines.
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Dimensions reports the vector size, or 0 when the provider decides it
	// per response.
	Dimensions() int

	// Name identifies the provider in logs and health reports.
	Name() string
}
