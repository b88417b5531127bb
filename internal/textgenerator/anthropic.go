package textgenerator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/connexus-ai/kmemory/internal/kmerr"
)

// AnthropicGenerator implements Generator against the Anthropic Messages
// API.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicGenerator builds a Generator using apiKey, model (e.g.
// anthropic.ModelClaude3_5HaikuLatest), and a response token cap.
func NewAnthropicGenerator(apiKey string, model anthropic.Model, maxTokens int64) *AnthropicGenerator {
	return &AnthropicGenerator{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (g *AnthropicGenerator) ModelName() string { return string(g.model) }

// Generate composes passages into a grounding preamble, then asks the model
// to answer prompt using only that context — the pattern the optional
// summarize/ask handlers both need.
func (g *AnthropicGenerator) Generate(ctx context.Context, prompt string, passages []string) (string, error) {
	const op = "textgenerator.AnthropicGenerator.Generate"

	var b strings.Builder
	if len(passages) > 0 {
		b.WriteString("Use the following context to answer the question. If the context doesn't contain the answer, say so.\n\n")
		for i, p := range passages {
			fmt.Fprintf(&b, "[%d] %s\n\n", i+1, p)
		}
	}
	b.WriteString(prompt)

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     g.model,
		MaxTokens: g.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(b.String())),
		},
	})
	if err != nil {
		return "", classifyAnthropicError(op, err)
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if text := block.Text; text != "" {
			out.WriteString(text)
		}
	}
	return out.String(), nil
}

func classifyAnthropicError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "rate limit") || strings.Contains(msg, "503") {
		return kmerr.New(kmerr.KindTransientBackend, op, err)
	}
	return kmerr.New(kmerr.KindPermanentBackend, op, err)
}
