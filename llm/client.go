// Package llm abstracts the inference backends the agent can talk to. The
// agent exchanges plain text with the model: the conversation goes out, a
// decision (JSON, hopefully) comes back. Tool schemas travel inside the
// system prompt, not as native function-calling declarations, so every
// backend here is a thin text transport.
package llm

import (
	"context"
	"fmt"

	"github.com/gaialab/gaia/session"
)

// Chunk is one piece of a streamed response. The final chunk has Done set
// and may carry empty text.
type Chunk struct {
	Text string
	Done bool
}

// Client is the interface to an inference backend.
type Client interface {
	// Send submits the conversation and returns the model's full reply.
	Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error)

	// SendStream submits the conversation and delivers the reply
	// incrementally. onChunk returning an error aborts the stream.
	SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(Chunk) error) (string, error)
}

// ConnectionError marks a backend that could not be reached at all, as
// opposed to one that answered with garbage.
type ConnectionError struct {
	Backend string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("llm backend %s unreachable: %v", e.Backend, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MockClient replays canned responses, one per Send call. Used by tests and
// as the fallback backend when none is configured.
type MockClient struct {
	Responses []string
	Calls     int
}

func (m *MockClient) next() string {
	if m.Calls < len(m.Responses) {
		r := m.Responses[m.Calls]
		m.Calls++
		return r
	}
	m.Calls++
	return `{"answer": "mock backend: no scripted response left"}`
}

func (m *MockClient) Send(ctx context.Context, entries []session.Entry, systemPrompt string) (string, error) {
	return m.next(), nil
}

func (m *MockClient) SendStream(ctx context.Context, entries []session.Entry, systemPrompt string, onChunk func(Chunk) error) (string, error) {
	text := m.next()
	if err := onChunk(Chunk{Text: text}); err != nil {
		return "", err
	}
	if err := onChunk(Chunk{Done: true}); err != nil {
		return "", err
	}
	return text, nil
}
