package vector

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashingEmbedder produces deterministic bag-of-words vectors by feature
// hashing. It needs no network and no model, so it is the offline default:
// texts sharing words get positive cosine similarity.
type HashingEmbedder struct {
	dimensions int
}

// NewHashingEmbedder creates a new HashingEmbedder with the specified dimensions.
func NewHashingEmbedder(dimensions int) *HashingEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultEmbeddingDimensions
	}
	return &HashingEmbedder{
		dimensions: dimensions,
	}
}

// Initialize sets up the embedder with any required configuration.
func (e *HashingEmbedder) Initialize() error {
	return nil
}

// Dimensions reports the vector size.
func (e *HashingEmbedder) Dimensions() int {
	return e.dimensions
}

// Name identifies the provider.
func (e *HashingEmbedder) Name() string {
	return "hashing"
}

// CreateEmbedding hashes each token and each adjacent token pair into a
// signed bucket and returns the L2-normalized result. Text without tokens
// yields the zero vector.
func (e *HashingEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, e.dimensions)
	tokens := Tokenize(text)

	for i, tok := range tokens {
		e.add(embedding, tok, 1.0)
		if i > 0 {
			e.add(embedding, tokens[i-1]+" "+tok, 0.5)
		}
	}

	Normalize(embedding)
	return embedding, nil
}

func (e *HashingEmbedder) add(embedding []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := int(sum % uint64(e.dimensions))
	if (sum>>63)&1 == 1 {
		weight = -weight
	}
	embedding[idx] += weight
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
