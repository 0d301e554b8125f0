// Package summarizer derives short summaries for notes saved without one.
package summarizer

const (
	// DefaultMaxSummaryLength defines the default maximum length for summaries, in characters.
	DefaultMaxSummaryLength = 200
)

// Summarizer defines the interface for summarizing text content.
type Summarizer interface {
	// Summarize takes a text input and returns a condensed summary.
	Summarize(text string) (string, error)

	// Initialize sets up the summarizer with any required configuration.
	Initialize() error
}
