// Package llm defines the provider-agnostic completion boundary used by
// the extraction pipeline, plus the Anthropic-backed implementation.
package llm

import "context"

// Completer is the single capability the memory engine needs from an LLM
// provider: a system prompt and a user message in, completion text out.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// CompleteFunc adapts a function to the Completer interface.
type CompleteFunc func(ctx context.Context, systemPrompt, userMessage string) (string, error)

// Complete calls f.
func (f CompleteFunc) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	return f(ctx, systemPrompt, userMessage)
}
