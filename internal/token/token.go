// Package token abstracts the host's token-counting capability and provides
// the length-based estimate used when that capability is unavailable.
package token

import (
	"context"
	"math"
	"unicode/utf8"
)

// Counter counts tokens in a piece of message text. Implementations are
// provided by the host application and may fail.
type Counter interface {
	Count(ctx context.Context, text string) (int64, error)
}

// charsPerToken is the character-length heuristic used when no real counter
// is available.
const charsPerToken = 3.5

// Estimate approximates the token count of text from its character length.
func Estimate(text string) int64 {
	if text == "" {
		return 0
	}
	n := utf8.RuneCountInString(text)
	return int64(math.Round(float64(n) / charsPerToken))
}

// Count returns the counter's result, falling back to Estimate when the
// counter is nil, fails, or reports a negative count. Counting is best-effort;
// an estimate beats losing the event.
func Count(ctx context.Context, c Counter, text string) int64 {
	if c == nil {
		return Estimate(text)
	}
	n, err := c.Count(ctx, text)
	if err != nil || n < 0 {
		return Estimate(text)
	}
	return n
}
