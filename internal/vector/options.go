package vector

import (
	"net/http"
	"time"
)

// Option configures a remote embedder.
type Option func(*Options)

// Options holds the settings shared by the remote embedding providers.
type Options struct {
	ApiKey     string
	Model      string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// WithApiKey sets the provider API key.
func WithApiKey(apiKey string) Option {
	return func(o *Options) {
		o.ApiKey = apiKey
	}
}

// WithModel sets the embedding model name.
func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

// WithBaseURL points the client at an alternative, API-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *Options) {
		o.BaseURL = baseURL
	}
}

// WithDimensions declares the expected vector size.
func WithDimensions(dimensions int) Option {
	return func(o *Options) {
		o.Dimensions = dimensions
	}
}

// WithTimeout bounds every embedding call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) {
		o.HTTPClient = client
	}
}

// NewOptions applies opts over the defaults.
func NewOptions(opts ...Option) Options {
	options := Options{}
	for _, opt := range opts {
		opt(&options)
	}
	return options
}
