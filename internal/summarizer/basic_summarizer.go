package summarizer

import (
	"strings"
)

const ellipsis = "..."

// BasicSummarizer is a simple implementation of the Summarizer interface.
// It keeps the leading sentences of the text that fit the length limit.
// Lengths count runes, so multi-byte text is never cut mid-character.
type BasicSummarizer struct {
	maxSummaryLen int
}

// NewBasicSummarizer creates a new BasicSummarizer instance.
func NewBasicSummarizer(maxSummaryLen int) *BasicSummarizer {
	if maxSummaryLen <= 0 {
		maxSummaryLen = DefaultMaxSummaryLength
	}
	return &BasicSummarizer{
		maxSummaryLen: maxSummaryLen,
	}
}

// Initialize sets up the summarizer with any required configuration.
func (s *BasicSummarizer) Initialize() error {
	return nil
}

// Summarize collapses whitespace, then truncates to the limit, preferring a
// sentence boundary, then a word boundary with an ellipsis.
func (s *BasicSummarizer) Summarize(text string) (string, error) {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= s.maxSummaryLen {
		return text, nil
	}

	truncated := runes[:s.maxSummaryLen]
	if end := lastSentenceBoundary(truncated); end > 0 {
		return string(truncated[:end+1]), nil
	}

	// Leave room for the ellipsis.
	truncateLen := s.maxSummaryLen - len(ellipsis)
	if truncateLen < 0 {
		truncateLen = 0
	}
	truncated = runes[:truncateLen]

	if lastSpace := lastIndexRune(truncated, ' '); lastSpace > 0 {
		return string(truncated[:lastSpace]) + ellipsis, nil
	}

	return string(truncated) + ellipsis, nil
}

func lastSentenceBoundary(runes []rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		switch runes[i] {
		case '.', '?', '!':
			return i
		}
	}
	return -1
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}
