package tokenizer

import (
	"math"
	"strings"
)

// WordEstimateTokenizer approximates token count as words*1.3, the heuristic
// the teacher repo used before token-accurate chunking (internal/service
// estimateTokens). Kept as a zero-dependency fallback for callers that don't
// want to pull in a BPE vocabulary (tests, offline tooling).
type WordEstimateTokenizer struct{}

// CountTokens implements Tokenizer.
func (WordEstimateTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// ModelName implements Tokenizer.
func (WordEstimateTokenizer) ModelName() string {
	return "word-estimate"
}
