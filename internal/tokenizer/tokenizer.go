// Package tokenizer counts tokens in text under a specific model's
// tokenization, grounded on github.com/pkoukk/tiktoken-go (as used by
// Tangerg/lynx's embedding providers for budget accounting).
package tokenizer

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens in a string under one model's tokenization family
// (§3 "Index" invariant: all records in an index share one tokenizer family).
type Tokenizer interface {
	// CountTokens returns the number of tokens text would occupy.
	CountTokens(text string) int
	// ModelName identifies the tokenizer, e.g. the model name passed to
	// ForModel ("gpt-4") or "word-estimate".
	ModelName() string
}

// BPETokenizer wraps a tiktoken-go encoding.
type BPETokenizer struct {
	enc   *tiktoken.Tiktoken
	model string
}

var (
	cacheMu sync.Mutex
	cache   = map[string]*tiktoken.Tiktoken{}
)

// ForModel returns a BPETokenizer for the named OpenAI-style model, e.g.
// "gpt-4", "text-embedding-3-small". Falls back to the cl100k_base encoding
// for unrecognized model names, matching tiktoken-go's own behavior.
func ForModel(model string) (*BPETokenizer, error) {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	if enc, ok := cache[model]; ok {
		return &BPETokenizer{enc: enc, model: model}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokenizer.ForModel: %w", err)
		}
	}
	cache[model] = enc
	return &BPETokenizer{enc: enc, model: model}, nil
}

// CountTokens implements Tokenizer.
func (t *BPETokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// ModelName implements Tokenizer.
func (t *BPETokenizer) ModelName() string {
	return t.model
}

// Tokens returns the ordered token ids for text — used by the chunker to
// compute an overlap suffix measured in tokenizer terms rather than words.
func (t *BPETokenizer) Tokens(text string) []int {
	if text == "" {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

// Decode renders a token id slice back to text.
func (t *BPETokenizer) Decode(tokens []int) string {
	if len(tokens) == 0 {
		return ""
	}
	return t.enc.Decode(tokens)
}
