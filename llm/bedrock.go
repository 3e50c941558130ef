package llm

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/session"
)

// BedrockClient talks to Anthropic models hosted on AWS Bedrock.
type BedrockClient struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockClient requires AWS credentials in the environment.
func NewBedrockClient(ctx context.Context, modelID string) (*BedrockClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load AWS config")
	}
	return &BedrockClient{
		client:  bedrockruntime.NewFromConfig(cfg),
		modelID: modelID,
	}, nil
}

type bedrockMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type bedrockRequest struct {
	AnthropicVersion string           `json:"anthropic_version"`
	MaxTokens        int              `json:"max_tokens"`
	System           string           `json:"system,omitempty"`
	Messages         []bedrockMessage `json:"messages"`
}

type bedrockResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (b *BedrockClient) Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error) {
	req := bedrockRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		System:           systemPrompt,
	}
	for _, e := range entries {
		role := "user"
		if e.Role == session.RoleAssistant {
			role = "assistant"
		}
		req.Messages = append(req.Messages, bedrockMessage{Role: role, Content: e.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrapf(err, "failed to marshal Bedrock request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", &ConnectionError{Backend: "bedrock", Err: err}
	}

	var parsed bedrockResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return "", errors.Wrapf(err, "failed to parse Bedrock response")
	}
	var text string
	for _, c := range parsed.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	return text, nil
}

// SendStream emulates streaming with a single chunk; Bedrock's event-stream
// API is not wired up yet.
func (b *BedrockClient) SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(Chunk) error) (string, error) {
	text, err := b.Send(ctx, entries, systemPrompt)
	if err != nil {
		return "", err
	}
	if err := onChunk(Chunk{Text: text}); err != nil {
		return "", err
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return "", err
	}
	return text, nil
}
