// Package chunker implements the recursive separator-cascade text splitter
// (spec §4.2): token-budget-aware splitting that prefers strong lexical
// boundaries (sentence punctuation) and only degrades to arbitrary character
// splits when nothing else fits.
//
// Grounded on the teacher's internal/service/chunker.go (paragraph/sentence
// merge-and-split loop with overlap) and internal/service/semantic_chunker.go
// (section-aware segmentation), generalized from a two-level
// paragraph/sentence split into the five-class separator cascade the spec
// requires, and from a word-count token estimate to a real Tokenizer.
package chunker

import (
	"log/slog"
	"strings"
	"unicode/utf8"
)

// Tokenizer counts tokens in a string. Implemented by
// internal/tokenizer.BPETokenizer and internal/tokenizer.WordEstimateTokenizer.
type Tokenizer interface {
	CountTokens(text string) int
}

// TokenSlicer is an optional capability: a Tokenizer that can also produce
// and reassemble the ordered token ids of a string. When the configured
// Tokenizer implements it, overlap prefixes are computed in exact tokenizer
// terms (spec §4.2 overlap invariant); otherwise overlap falls back to a
// whitespace-word approximation.
type TokenSlicer interface {
	Tokens(text string) []int
	Decode(tokens []int) string
}

// Options configures one Split call.
type Options struct {
	// MaxTokensPerChunk is the hard budget for a chunk, inclusive of header
	// and overlap. Must be >= 1; values below 5 make the chunker degrade to
	// near-single-character output (still correct, just not useful).
	MaxTokensPerChunk int
	// Overlap is the number of tokens from the end of chunk i that are
	// repeated as a prefix of chunk i+1. Zero disables overlap.
	Overlap int
	// Header, when non-empty, is prefixed to every chunk (e.g. a document
	// title used to keep each chunk self-describing for the embedder).
	Header string
}

// separatorClasses is the priority-ordered cascade (spec §4.2). Each class is
// tried longest-match-first at every position; NotASeparator (character
// split) is implicit once the list is exhausted.
var separatorClasses = [][]string{
	{"...", "?!", "!!", ". ", "! ", "? ", "。", "！", "？"}, // Explicit
	{"; ", ") ", "] ", "} ", ";", ")", "]", "}", "、"},     // Potential
	{": ", ", ", ":", ",", "：", "，"},                      // Weak-1
	{"\n", "\t", "\"", "'", " "},                         // Weak-2
	{"—", "–", "_", "-", "|", "@", "="},                  // Weak-3
}

// Chunker splits text per Options using the separator cascade.
type Chunker struct {
	tok Tokenizer
}

// New creates a Chunker using tok to measure budgets.
func New(tok Tokenizer) *Chunker {
	return &Chunker{tok: tok}
}

// Split implements the public contract (spec §4.2): an ordered list of
// chunks such that every chunk's token count is within budget except when a
// single indivisible unit cannot be split further (logged, not failed).
func (c *Chunker) Split(text string, opts Options) []string {
	normalized := normalizeNewlines(text)
	if strings.TrimSpace(normalized) == "" {
		return nil
	}
	if opts.MaxTokensPerChunk < 1 {
		opts.MaxTokensPerChunk = 1
	}

	headerTokens := c.tok.CountTokens(opts.Header)
	budgetFirst := opts.MaxTokensPerChunk - headerTokens
	if budgetFirst < 1 {
		budgetFirst = 1
	}
	budgetRest := budgetFirst - opts.Overlap
	if budgetRest < 1 {
		budgetRest = 1
	}

	s := &splitter{tok: c.tok, budgetFirst: budgetFirst, budgetRest: budgetRest}
	s.process(normalized, 0)
	s.finish()

	if len(s.chunks) == 0 {
		return nil
	}

	out := make([]string, len(s.chunks))
	for i, content := range s.chunks {
		piece := content
		if opts.Overlap > 0 && i > 0 {
			tail := c.lastNTokensText(s.chunks[i-1], opts.Overlap)
			piece = tail + content
		}
		out[i] = opts.Header + piece
	}
	return out
}

// lastNTokensText returns the text corresponding to the last n tokens of s,
// using exact tokenizer slicing when available and a whitespace-word
// approximation otherwise.
func (c *Chunker) lastNTokensText(text string, n int) string {
	if n <= 0 || text == "" {
		return ""
	}
	if slicer, ok := c.tok.(TokenSlicer); ok {
		ids := slicer.Tokens(text)
		if n >= len(ids) {
			return text
		}
		return slicer.Decode(ids[len(ids)-n:])
	}
	words := strings.Fields(text)
	if n >= len(words) {
		return text
	}
	return strings.Join(words[len(words)-n:], " ") + " "
}

// splitter accumulates chunks across the whole recursive descent. Budget
// selection (budgetFirst vs. budgetRest) depends only on whether a chunk has
// already been emitted anywhere in the document, so it is shared state
// rather than per-recursion-level state — this is what lets a deep recursion
// correctly observe "am I building the very first chunk of the document".
type splitter struct {
	tok         Tokenizer
	chunks      []string
	cur         strings.Builder
	curTokens   int
	budgetFirst int
	budgetRest  int
}

func (s *splitter) budget() int {
	if len(s.chunks) == 0 {
		return s.budgetFirst
	}
	return s.budgetRest
}

func (s *splitter) emit() {
	if s.cur.Len() == 0 {
		return
	}
	s.chunks = append(s.chunks, s.cur.String())
	s.cur.Reset()
	s.curTokens = 0
}

func (s *splitter) finish() {
	s.emit()
}

// process runs one pass of the cascade over text at classIdx, feeding each
// separator-delimited "sentence" through placeSentence in order.
func (s *splitter) process(text string, classIdx int) {
	if text == "" {
		return
	}
	if classIdx >= len(separatorClasses) {
		for _, r := range text {
			s.placeSentence(string(r), classIdx)
		}
		return
	}
	for _, sentence := range splitIntoSentences(text, separatorClasses[classIdx]) {
		s.placeSentence(sentence, classIdx)
	}
}

// placeSentence implements the four-case table from spec §4.2.
func (s *splitter) placeSentence(sentence string, classIdx int) {
	if sentence == "" {
		return
	}
	isLastClass := classIdx >= len(separatorClasses)
	b := s.budget()
	sentTokens := s.tok.CountTokens(sentence)
	fitsAlone := sentTokens <= b

	switch {
	case s.curTokens == 0 && fitsAlone:
		s.cur.WriteString(sentence)
		s.curTokens = sentTokens

	case s.curTokens == 0 && !fitsAlone:
		if isLastClass {
			slog.Warn("chunker: indivisible unit exceeds token budget",
				"budget", b, "tokens", sentTokens)
			s.cur.WriteString(sentence)
			s.curTokens = sentTokens
			return
		}
		s.process(sentence, classIdx+1)

	case s.curTokens > 0 && fitsAlone && s.curTokens+sentTokens <= b:
		s.cur.WriteString(sentence)
		s.curTokens += sentTokens

	case s.curTokens > 0 && fitsAlone:
		s.emit()
		s.cur.WriteString(sentence)
		s.curTokens = sentTokens

	default: // non-empty, doesn't fit alone
		s.emit()
		if isLastClass {
			slog.Warn("chunker: indivisible unit exceeds token budget",
				"budget", s.budget(), "tokens", sentTokens)
			s.cur.WriteString(sentence)
			s.curTokens = sentTokens
			return
		}
		s.process(sentence, classIdx+1)
	}
}

// splitIntoSentences scans text left to right, matching the longest
// separator in seps at each position (seps need not be pre-sorted; we check
// all and keep the longest match). A "sentence" is a content run plus its
// terminating separator; the final sentence may lack one.
func splitIntoSentences(text string, seps []string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		if m := longestMatch(text[i:], seps); m != "" {
			out = append(out, text[start:i+len(m)])
			i += len(m)
			start = i
			continue
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		if size == 0 {
			size = 1
		}
		i += size
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

func longestMatch(s string, seps []string) string {
	best := ""
	for _, sep := range seps {
		if len(sep) > len(best) && strings.HasPrefix(s, sep) {
			best = sep
		}
	}
	return best
}

// normalizeNewlines collapses \r\n and \r to \n, per spec §4.2 roundtrip
// invariant. \t is left untouched.
func normalizeNewlines(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}
