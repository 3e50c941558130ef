package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gaialab/gaia/agent"
	"github.com/gaialab/gaia/agent/terminal"
	"github.com/gaialab/gaia/config"
	"github.com/gaialab/gaia/llm"
	"github.com/gaialab/gaia/logging"
	"github.com/gaialab/gaia/mcp"
	"github.com/gaialab/gaia/session"
	"github.com/gaialab/gaia/tools"
)

func main() {
	sessionFlag := flag.String("s", "", "Session name to create or use")
	resumeFlag := flag.String("r", "", "Resume a session by name")
	streamFlag := flag.Bool("stream", false, "Stream model output as it arrives")
	debugFlag := flag.Bool("debug", false, "Enable debug logging")
	prettyFlag := flag.Bool("pretty", false, "Human-readable log output")
	addServerFlag := flag.String("add-server", "", "Add an MCP server by name; remaining args are the command and its arguments")
	flag.Parse()

	logging.Init(logging.Options{Debug: *debugFlag, Pretty: *prettyFlag})

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %+v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *addServerFlag != "" {
		if err := addServer(ctx, *addServerFlag, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Error adding server: %+v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Server %q added.\n", *addServerFlag)
		return
	}

	var sess *session.Session
	if *resumeFlag != "" {
		sess, err = session.Load(*resumeFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error resuming session %q: %+v\n", *resumeFlag, err)
			os.Exit(1)
		}
		fmt.Printf("Resuming session: %s\n", *resumeFlag)
	} else {
		name := *sessionFlag
		if name == "" {
			name = defaultSessionName()
		}
		sess, err = session.New(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating session %q: %+v\n", name, err)
			os.Exit(1)
		}
		fmt.Printf("Starting new session: %s\n", name)
	}

	client, err := newLLMClient(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing LLM client: %+v\n", err)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	registry.SetTruncation(cfg.MaxResultChars, 0)
	for _, t := range []tools.Tool{
		&tools.ReadFileTool{FSAccess: &cfg.FilesystemAccess},
		&tools.WriteFileTool{FSAccess: &cfg.FilesystemAccess},
		&tools.ListDirTool{FSAccess: &cfg.FilesystemAccess},
		&tools.ExecuteCommandTool{AllowedCommands: cfg.AllowedCommands},
	} {
		if err := registry.Register(t); err != nil {
			fmt.Fprintf(os.Stderr, "Error registering tool: %+v\n", err)
			os.Exit(1)
		}
	}

	manager := mcp.NewManager(nil)
	if err := manager.LoadFromConfig(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading MCP servers: %+v\n", err)
		os.Exit(1)
	}
	defer manager.DisconnectAll()
	if err := manager.RegisterTools(registry); err != nil {
		fmt.Fprintf(os.Stderr, "Error registering provider tools: %+v\n", err)
		os.Exit(1)
	}

	gaiaAgent, err := agent.New(client, registry, sess, agent.Options{
		MaxSteps:    cfg.MaxSteps,
		DirectTools: cfg.DirectTools,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing agent: %+v\n", err)
		os.Exit(1)
	}

	initialPrompt := strings.Join(flag.Args(), " ")
	fmt.Println("Gaia is ready. Type your prompt.")
	term := terminal.New(gaiaAgent, *streamFlag)
	if err := term.Run(ctx, initialPrompt); err != nil {
		fmt.Fprintf(os.Stderr, "Agent stopped with an error: %+v\n", err)
		os.Exit(1)
	}
}

func addServer(ctx context.Context, name string, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("no command given for server %q", name)
	}
	manager := mcp.NewManager(nil)
	defer manager.DisconnectAll()
	return manager.AddServer(ctx, name, mcp.ServerSpec{
		Command: args[0],
		Args:    args[1:],
		Type:    mcp.TransportStdio,
	})
}

func newLLMClient(ctx context.Context, cfg *config.Config) (llm.Client, error) {
	switch cfg.LLMClient {
	case "openai":
		return llm.NewOpenAIClient(ctx, cfg.Model)
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.Model)
	case "anthropic":
		return llm.NewAnthropicClient(ctx, cfg.Model)
	case "bedrock":
		return llm.NewBedrockClient(ctx, cfg.Model)
	default:
		return &llm.MockClient{}, nil
	}
}

func defaultSessionName() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "gaia"
	}
	return fmt.Sprintf("%s_%s", filepath.Base(wd), time.Now().Format("2006-01-02_15-04-05"))
}
