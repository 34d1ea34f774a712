// Terminal client for the Cloudprinter quote assistant.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Croups/cloudprinter-chatbot/internal/agent"
	"github.com/Croups/cloudprinter-chatbot/internal/catalog"
	"github.com/Croups/cloudprinter-chatbot/internal/config"
	"github.com/Croups/cloudprinter-chatbot/internal/llm"
	"github.com/Croups/cloudprinter-chatbot/internal/prompt"
	"github.com/Croups/cloudprinter-chatbot/internal/tools"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/peterh/liner"
)

var (
	bannerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#A855F7")).Bold(true)
	infoStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#06B6D4")).Bold(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	dividerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#4B5563"))
)

const divider = "--------------------------------------------------"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	// Keep the conversation readable; only warnings reach stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("[Error]"), err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	client, err := catalog.New(cfg.Cloudprinter.APIKey,
		catalog.WithBaseURL(cfg.Cloudprinter.BaseURL),
		catalog.WithHTTPClient(&http.Client{Timeout: cfg.Cloudprinter.Timeout}),
	)
	if err != nil {
		return fmt.Errorf("init cloudprinter client: %w", err)
	}
	provider, err := llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.OpenAI.Model,
		BaseURL:    cfg.OpenAI.BaseURL,
		MaxRetries: 2,
	})
	if err != nil {
		return fmt.Errorf("init model provider: %w", err)
	}
	prompts, err := prompt.Load(cfg.PromptFile)
	if err != nil {
		return err
	}

	session := agent.NewSession("terminal", provider,
		tools.New(client, provider, tools.WithPrompts(prompts)),
		agent.WithSystemPrompt(prompts.System),
	)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyFile := filepath.Join(os.TempDir(), "cloudprinter_chat_history")
	if f, err := os.Open(historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer saveHistory(line, historyFile)

	fmt.Println()
	fmt.Println(bannerStyle.Render("Cloudprinter.com Chat Assistant"))
	fmt.Println(infoStyle.Render("Type 'exit' or 'quit' to end the conversation"))
	fmt.Println()

	for {
		input, err := line.Prompt("You: ")
		if err != nil {
			if !errors.Is(err, liner.ErrPromptAborted) && !errors.Is(err, io.EOF) {
				fmt.Fprintln(os.Stderr, errorStyle.Render("[Error]"), err)
			}
			fmt.Println()
			printGoodbye(provider.Model(), session.Usage())
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		switch strings.ToLower(input) {
		case "exit", "quit":
			printGoodbye(provider.Model(), session.Usage())
			return nil
		case "/reset":
			session.Reset()
			fmt.Println(infoStyle.Render("Conversation reset."))
			continue
		case "/context":
			printJSON(session.Context())
			continue
		case "/usage":
			printUsage(provider.Model(), session.Usage())
			continue
		}

		res := session.SendObserved(ctx, input, func(ev agent.TurnEvent) {
			if ev.Type == agent.EventToolCall {
				fmt.Println(toolStyle.Render("  [tool] " + ev.Tool))
			}
		})
		if res.Err != nil {
			fmt.Println(errorStyle.Render("Assistant: ") + res.Reply)
		} else {
			fmt.Println(assistantStyle.Render("Assistant: ") + res.Reply)
		}
		fmt.Println(dividerStyle.Render(divider))
	}
}

func saveHistory(line *liner.State, path string) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = line.WriteHistory(f)
}

func printGoodbye(model string, u llm.Usage) {
	fmt.Println("Goodbye! Thank you for using Cloudprinter.com Chat Assistant.")
	fmt.Println()
	fmt.Println(bannerStyle.Render("Token Usage Statistics:"))
	printUsage(model, u)
}

func printUsage(model string, u llm.Usage) {
	fmt.Printf("Model: %s\n", model)
	fmt.Printf("Input tokens: %d\n", u.PromptTokens)
	fmt.Printf("Output tokens: %d\n", u.CompletionTokens)
	fmt.Printf("Total tokens: %d\n", u.TotalTokens)
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("[Error]"), err)
		return
	}
	fmt.Println(string(data))
}
