package textgenerator

import (
	"context"
	"strings"
)

// EchoGenerator is a network-free Generator for tests: it "answers" by
// concatenating the passages with the prompt, so tests can assert on
// composition (ordering, grounding) without a live API key.
type EchoGenerator struct{}

func (EchoGenerator) ModelName() string { return "echo-test" }

func (EchoGenerator) Generate(_ context.Context, prompt string, passages []string) (string, error) {
	var b strings.Builder
	for _, p := range passages {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	b.WriteString(prompt)
	return b.String(), nil
}
