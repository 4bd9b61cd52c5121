package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

// DefaultMaxTokens bounds the completion; extraction replies are small
// JSON arrays.
const DefaultMaxTokens = 2048

// Anthropic is a Completer backed by the Claude API.
type Anthropic struct {
	client    *anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropic wraps an Anthropic client for the given model.
func NewAnthropic(client *anthropic.Client, model string) *Anthropic {
	return &Anthropic{client: client, model: model, maxTokens: DefaultMaxTokens}
}

// Complete sends one system+user exchange and returns the concatenated
// text blocks of the reply.
func (a *Anthropic) Complete(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
