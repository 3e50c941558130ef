package llm

import (
	"context"
	"os"

	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/session"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIClient talks to the OpenAI Chat Completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient requires OPENAI_API_KEY; OPENAI_BASE_URL overrides the
// endpoint for compatible gateways.
func NewOpenAIClient(ctx context.Context, model string) (*OpenAIClient, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	c := openai.NewClient(opts...)
	return &OpenAIClient{client: &c, model: model}, nil
}

func (o *OpenAIClient) params(entries []session.Entry, systemPrompt string) openai.ChatCompletionNewParams {
	var msgs []openai.ChatCompletionMessageParamUnion
	if systemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(systemPrompt))
	}
	for _, e := range entries {
		switch e.Role {
		case session.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(e.Content))
		default:
			// Tool results and system annotations ride along as user turns.
			msgs = append(msgs, openai.UserMessage(e.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: msgs,
	}
}

func (o *OpenAIClient) Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(entries, systemPrompt))
	if err != nil {
		return "", &ConnectionError{Backend: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAIClient) SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(Chunk) error) (string, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(entries, systemPrompt))
	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if err := onChunk(Chunk{Text: delta}); err != nil {
			return "", err
		}
	}
	if err := stream.Err(); err != nil {
		return "", &ConnectionError{Backend: "openai", Err: err}
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return "", err
	}
	return full, nil
}
