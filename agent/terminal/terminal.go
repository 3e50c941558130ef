// Package terminal provides the interactive command-line mode.
package terminal

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gaialab/gaia/agent"
	"github.com/gaialab/gaia/llm"
)

// Terminal runs an agent against stdin/stdout.
type Terminal struct {
	agent  *agent.Agent
	stream bool
}

// New creates a terminal frontend. With stream set, model output is echoed
// as it arrives.
func New(a *agent.Agent, stream bool) *Terminal {
	return &Terminal{agent: a, stream: stream}
}

// Run processes the optional initial prompt, then reads prompts until EOF
// or /quit.
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			break
		}
		if err := t.processTurn(ctx, input); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (t *Terminal) processTurn(ctx context.Context, input string) error {
	cb := agent.Callbacks{
		OnToolCall: func(name string, args map[string]any) {
			fmt.Printf("[tool] %s %v\n", name, args)
		},
		OnToolResult: func(name string, result string, err error) {
			if err != nil {
				fmt.Printf("[tool] %s failed: %v\n", name, err)
			}
		},
		OnWarning: func(warning string) {
			fmt.Printf("[warn] %s\n", warning)
		},
	}
	if t.stream {
		cb.OnStreamChunk = func(c llm.Chunk) {
			if c.Done {
				fmt.Println()
				return
			}
			fmt.Print(c.Text)
		}
	}

	result, err := t.agent.Query(ctx, input, cb)
	if err != nil {
		return err
	}

	switch result.Status {
	case agent.StatusCompleted:
		fmt.Printf("Gaia: %s\n", result.Answer)
	case agent.StatusIncomplete:
		fmt.Printf("Gaia: (stopped at step limit after %d steps)\n", result.Steps)
	case agent.StatusLLMError:
		fmt.Printf("Gaia: backend error: %v\n", result.Err)
	}

	if err := t.agent.Session().Save(); err != nil {
		fmt.Printf("[warn] failed to save session: %v\n", err)
	}
	return nil
}
