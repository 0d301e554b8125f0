package vector

import (
	"context"
	"errors"
	"net/http"

	"github.com/localrivet/researchmemory/internal/errortypes"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint, or any server speaking
// the same API when a base URL is set.
type OpenAIEmbedder struct {
	options Options
	client  *openai.Client
}

// NewOpenAIEmbedder creates an embedder for the OpenAI API. Initialize must be
// called before use.
func NewOpenAIEmbedder(opts ...Option) *OpenAIEmbedder {
	options := NewOptions(opts...)
	if options.Model == "" {
		options.Model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{options: options}
}

// Initialize builds the API client.
func (e *OpenAIEmbedder) Initialize() error {
	if e.options.ApiKey == "" && e.options.BaseURL == "" {
		return errortypes.ConfigError(errortypes.ErrEmbedderUnavailable, "openai embedder requires an api key or a base url")
	}

	clientConfig := openai.DefaultConfig(e.options.ApiKey)
	if e.options.BaseURL != "" {
		clientConfig.BaseURL = e.options.BaseURL
	}

	httpClient := e.options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   e.options.Timeout,
		}
	}
	clientConfig.HTTPClient = httpClient

	e.client = openai.NewClientWithConfig(clientConfig)
	return nil
}

// Dimensions reports the configured vector size.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.options.Dimensions
}

// Name identifies the provider.
func (e *OpenAIEmbedder) Name() string {
	return "openai"
}

// CreateEmbedding embeds text with the configured model.
func (e *OpenAIEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e.client == nil {
		return nil, errortypes.ErrEmbedderUnavailable
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.options.Model),
	}
	if e.options.Dimensions > 0 && e.options.Model != string(openai.AdaEmbeddingV2) {
		req.Dimensions = e.options.Dimensions
	}

	rsp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errortypes.ExternalError(err, "openai embedding request failed").
			WithField("model", e.options.Model)
	}

	if len(rsp.Data) == 0 || len(rsp.Data[0].Embedding) == 0 {
		return nil, errortypes.ExternalError(errors.New("no response from OpenAI"), "openai embedding request failed")
	}

	return rsp.Data[0].Embedding, nil
}
