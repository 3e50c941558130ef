package llm

import (
	"context"
	"os"

	"github.com/gaialab/gaia/errors"
	"github.com/gaialab/gaia/session"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GeminiClient talks to the Google Gemini API.
type GeminiClient struct {
	model *genai.GenerativeModel
}

// NewGeminiClient requires GEMINI_API_KEY.
func NewGeminiClient(ctx context.Context, modelName string) (*GeminiClient, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY environment variable not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create genai client")
	}

	return &GeminiClient{model: client.GenerativeModel(modelName)}, nil
}

// chat builds a chat session with the conversation loaded as history and
// returns the parts of the final message to send.
func (g *GeminiClient) chat(entries []session.Entry, systemPrompt string) (*genai.ChatSession, []genai.Part) {
	if systemPrompt != "" {
		g.model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}

	var history []*genai.Content
	for _, e := range entries {
		role := "user"
		if e.Role == session.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(e.Content)},
		})
	}

	cs := g.model.StartChat()
	last := []genai.Part{genai.Text("")}
	if len(history) > 0 {
		last = history[len(history)-1].Parts
		cs.History = history[:len(history)-1]
	}
	return cs, last
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text += string(t)
		}
	}
	return text
}

func (g *GeminiClient) Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error) {
	cs, last := g.chat(entries, systemPrompt)
	resp, err := cs.SendMessage(ctx, last...)
	if err != nil {
		return "", &ConnectionError{Backend: "gemini", Err: err}
	}
	return geminiText(resp), nil
}

func (g *GeminiClient) SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(Chunk) error) (string, error) {
	cs, last := g.chat(entries, systemPrompt)
	iter := cs.SendMessageStream(ctx, last...)
	var full string
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", &ConnectionError{Backend: "gemini", Err: err}
		}
		text := geminiText(resp)
		if text == "" {
			continue
		}
		full += text
		if err := onChunk(Chunk{Text: text}); err != nil {
			return "", err
		}
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return "", err
	}
	return full, nil
}
