package llm

import (
	"context"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/session"
)

// AnthropicClient talks to the Anthropic Messages API.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicClient requires ANTHROPIC_API_KEY.
func NewAnthropicClient(ctx context.Context, model string) (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable not set")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client, model: model}, nil
}

func (a *AnthropicClient) params(entries []session.Entry, systemPrompt string) anthropic.MessageNewParams {
	var msgs []anthropic.MessageParam
	for _, e := range entries {
		switch e.Role {
		case session.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(e.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(e.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	return params
}

func (a *AnthropicClient) Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error) {
	resp, err := a.client.Messages.New(ctx, a.params(entries, systemPrompt))
	if err != nil {
		return "", &ConnectionError{Backend: "anthropic", Err: err}
	}

	var text string
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}
	return text, nil
}

func (a *AnthropicClient) SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(Chunk) error) (string, error) {
	stream := a.client.Messages.NewStreaming(ctx, a.params(entries, systemPrompt))
	var full string
	for stream.Next() {
		event := stream.Current()
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				full += delta.Text
				if err := onChunk(Chunk{Text: delta.Text}); err != nil {
					return "", err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return "", &ConnectionError{Backend: "anthropic", Err: err}
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return "", err
	}
	return full, nil
}
