package vector

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"github.com/localrivet/researchmemory/internal/errortypes"
	genaiopt "google.golang.org/api/option"
)

// GoogleEmbedder calls the Gemini embedding API.
type GoogleEmbedder struct {
	options Options
	client  *genai.Client
}

// NewGoogleEmbedder creates an embedder for the Gemini API. Initialize must
// be called before use.
func NewGoogleEmbedder(opts ...Option) *GoogleEmbedder {
	options := NewOptions(opts...)
	if options.Model == "" {
		options.Model = DefaultGoogleModel
	}
	return &GoogleEmbedder{options: options}
}

// Initialize builds the API client.
func (e *GoogleEmbedder) Initialize() error {
	if e.options.ApiKey == "" {
		return errortypes.ConfigError(errortypes.ErrEmbedderUnavailable, "google embedder requires an api key")
	}

	clientOpts := []genaiopt.ClientOption{genaiopt.WithAPIKey(e.options.ApiKey)}
	if e.options.BaseURL != "" {
		clientOpts = append(clientOpts, genaiopt.WithEndpoint(e.options.BaseURL))
	}

	client, err := genai.NewClient(context.Background(), clientOpts...)
	if err != nil {
		return errortypes.ConfigError(err, "failed to create google embedding client")
	}

	e.client = client
	return nil
}

// Close releases the underlying client.
func (e *GoogleEmbedder) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// Dimensions reports the configured vector size.
func (e *GoogleEmbedder) Dimensions() int {
	return e.options.Dimensions
}

// Name identifies the provider.
func (e *GoogleEmbedder) Name() string {
	return "google"
}

// CreateEmbedding embeds text with the configured model.
func (e *GoogleEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, errortypes.ErrEmbedderUnavailable
	}

	model := e.client.EmbeddingModel(e.options.Model)
	rsp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, errortypes.ExternalError(err, "google embedding request failed").
			WithField("model", e.options.Model)
	}

	if rsp == nil || rsp.Embedding == nil || len(rsp.Embedding.Values) == 0 {
		return nil, errortypes.ExternalError(errors.New("no response from Google"), "google embedding request failed")
	}

	return rsp.Embedding.Values, nil
}
