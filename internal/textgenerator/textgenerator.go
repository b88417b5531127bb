// Package textgenerator produces natural-language text from a prompt, used
// by the optional summarize pipeline handler and by searchclient's Ask
// operation. There is no teacher equivalent (the teacher's RAG backend only
// retrieves, never generates) — this is grounded on Tangerg-lynx's model
// provider structure (one narrow interface per capability, one
// provider-specific adapter file per backend).
package textgenerator

import "context"

// Generator produces a text completion for a prompt, optionally grounded in
// context passages (e.g. retrieved memory records for Ask/summarize).
type Generator interface {
	// Generate returns the model's completion for prompt, given context
	// passages to ground the answer in (may be empty for plain summarize).
	Generate(ctx context.Context, prompt string, passages []string) (string, error)
	// ModelName identifies the underlying model.
	ModelName() string
}
