// ABOUTME: Entry point for a mesh agent process
// ABOUTME: Registers with the coordinator, polls for messages, and replies

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agent-mesh/internal/client"
	"github.com/2389/agent-mesh/internal/completion"
)

// Version is set by goreleaser at build time.
var version = "dev"

// getDataPath returns the agent state directory.
// Priority: XDG_DATA_HOME/mesh > ~/.local/share/mesh
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "mesh")
}

func main() {
	var (
		id           = flag.String("id", "", "agent identifier (required)")
		capabilities = flag.String("capabilities", "chat", "comma-separated capability list")
		owner        = flag.String("owner", "", "owning user or team")
		server       = flag.String("server", "http://127.0.0.1:7420", "coordinator base URL")
		dataDir      = flag.String("data-dir", getDataPath(), "directory for agent state")
		model        = flag.String("model", "claude-3-haiku-20240307", "completion model")
		baseURL      = flag.String("completion-url", "https://api.anthropic.com", "completion service base URL")
		logLevel     = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *id == "" {
		fmt.Fprintln(os.Stderr, "Error: --id is required")
		flag.Usage()
		os.Exit(1)
	}

	logger := setupLogger(*logLevel)

	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)
	cyan.Printf("mesh-agent %s\n", *id)
	gray.Printf("version %s, coordinator %s\n\n", version, *server)

	apiKey := os.Getenv(completion.EnvAPIKey)
	if apiKey == "" {
		logger.Warn("no completion credential set, replies will use the fallback",
			"env", completion.EnvAPIKey)
	}
	completions := completion.New(*baseURL, *model, apiKey, 30*time.Second, logger)

	agent, err := client.NewAgent(client.AgentConfig{
		ID:           *id,
		Capabilities: splitCapabilities(*capabilities),
		Owner:        *owner,
		ServerURL:    *server,
		DataDir:      *dataDir,
	}, completions, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := agent.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func splitCapabilities(raw string) []string {
	var caps []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	return caps
}

func setupLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
