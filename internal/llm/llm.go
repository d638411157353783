package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrNoSummary is returned when the summarizer answered without a summary.
var ErrNoSummary = errors.New("llm: no summary in response")

// Summarizer shortens text before it is read aloud.
type Summarizer interface {
	// Summarize returns a spoken-length version of text.
	Summarize(ctx context.Context, text string) (string, error)
}

// WordCount counts whitespace-delimited tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
