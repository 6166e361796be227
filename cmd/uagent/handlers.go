package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/haasonsaas/uagent/internal/agent"
	"github.com/haasonsaas/uagent/internal/containers"
	"github.com/haasonsaas/uagent/internal/memory"
	"github.com/haasonsaas/uagent/internal/server"
	"github.com/haasonsaas/uagent/internal/sessions"
	"github.com/haasonsaas/uagent/pkg/models"
)

const shutdownGrace = 10 * time.Second

type managerOptions struct {
	Addr          string
	Runtime       string
	Network       string
	Image         string
	PresetDirs    []string
	WorkspaceRoot string
	IdleTimeout   time.Duration
	Debug         bool
}

// runManager starts the fleet API and blocks until a shutdown signal.
func runManager(ctx context.Context, opts managerOptions) error {
	logger := slog.Default()
	if opts.Debug {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		slog.SetDefault(logger)
	}

	var runtime containers.Runtime
	switch opts.Runtime {
	case "docker":
		rt := containers.NewDockerRuntime(opts.Network, logger)
		rt.Image = opts.Image
		runtime = rt
	case "local":
		exe, err := os.Executable()
		if err != nil {
			exe = os.Args[0]
		}
		runtime = containers.NewLocalProcessRuntime([]string{exe, "worker"}, opts.WorkspaceRoot, logger)
	default:
		return fmt.Errorf("unknown runtime %q: use docker or local", opts.Runtime)
	}

	presets := agent.DiscoverPresets(opts.PresetDirs...)
	logger.Info("presets loaded", "count", len(presets), "dirs", opts.PresetDirs)

	sm := sessions.NewManager(runtime, logger, sessions.WithIdleTimeout(opts.IdleTimeout))
	sm.Start()

	mgr := server.NewManager(sm, runtime, presets, logger)
	srv := &http.Server{Addr: opts.Addr, Handler: mgr.Handler()}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("manager listening", "addr", opts.Addr, "runtime", opts.Runtime)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		sm.Stop(context.Background())
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	sm.Stop(shutdownCtx)
	return nil
}

// runWorker serves one agent from environment-provided configuration.
func runWorker(ctx context.Context) error {
	sessionID := os.Getenv("SESSION_ID")
	if sessionID == "" {
		return fmt.Errorf("SESSION_ID is required")
	}
	rawConfig := os.Getenv("AGENT_CONFIG_JSON")
	if rawConfig == "" {
		return fmt.Errorf("AGENT_CONFIG_JSON is required")
	}
	var cfg containers.AgentConfig
	if err := json.Unmarshal([]byte(rawConfig), &cfg); err != nil {
		return fmt.Errorf("parse AGENT_CONFIG_JSON: %w", err)
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	workspace := os.Getenv("WORKSPACE_DIR")
	if workspace == "" {
		workspace = "."
	}
	store, err := memory.OpenPersistentStore(filepath.Join(workspace, "memory.json"))
	if err != nil {
		return fmt.Errorf("open memory store: %w", err)
	}
	tools := []models.ToolDefinition{memory.Tool(store)}
	if len(cfg.AllowedTools) == 0 || slices.Contains(cfg.AllowedTools, "memory") {
		cfg.SystemPrompt = joinPrompt(cfg.SystemPrompt, memory.SystemPrompt())
	}

	logger := slog.Default().With("session_id", sessionID)
	worker := server.NewWorker(cfg, sessionID, tools, logger)
	srv := &http.Server{Addr: ":" + port, Handler: worker.Handler()}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker listening", "port", port, "config_id", cfg.ID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

type queryOptions struct {
	Provider     string
	Model        string
	SystemPrompt string
	PresetPath   string
	MemoryFile   string
	MaxTurns     int
	ShowThinking bool
}

// joinPrompt appends an addition to a system prompt, handling the empty
// base case.
func joinPrompt(base, addition string) string {
	if base == "" {
		return addition
	}
	return base + "\n\n" + addition
}

// runQuery executes a one-shot prompt and prints the response.
func runQuery(ctx context.Context, opts queryOptions, args []string) error {
	var agentOpts agent.Options
	if opts.PresetPath != "" {
		preset, err := agent.LoadPreset(opts.PresetPath)
		if err != nil {
			return err
		}
		agentOpts = preset.ToOptions()
	}
	if opts.Provider != "" {
		agentOpts.Provider = opts.Provider
	}
	if opts.Model != "" {
		agentOpts.Model = opts.Model
	}
	if opts.SystemPrompt != "" {
		agentOpts.SystemPrompt = opts.SystemPrompt
	}
	if opts.MaxTurns > 0 {
		agentOpts.MaxTurns = opts.MaxTurns
	}
	if opts.MemoryFile != "" {
		store, err := memory.OpenPersistentStore(opts.MemoryFile)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		agentOpts.Tools = append(agentOpts.Tools, memory.Tool(store))
		agentOpts.SystemPrompt = joinPrompt(agentOpts.SystemPrompt, memory.SystemPrompt())
	}

	prompt := strings.Join(args, " ")
	msgs, err := agent.QueryOnce(ctx, prompt, agentOpts)
	if err != nil {
		return err
	}

	for _, msg := range msgs {
		switch m := msg.(type) {
		case models.StreamEvent:
			switch m.EventType {
			case models.EventToolExecutionStart:
				fmt.Fprintf(os.Stderr, "[tool] %v\n", m.Delta["tool_name"])
			case models.EventToolExecutionDone:
				if m.Delta["type"] == "tool_execution_error" {
					fmt.Fprintf(os.Stderr, "[tool error] %v: %v\n", m.Delta["tool_name"], m.Delta["error"])
				}
			}
		case models.AssistantMessage:
			for _, block := range m.Content {
				switch b := block.(type) {
				case models.ThinkingBlock:
					if opts.ShowThinking {
						fmt.Fprintf(os.Stderr, "[thinking] %s\n", b.Thinking)
					}
				case models.TextBlock:
					fmt.Println(b.Text)
				}
			}
		case models.ResultMessage:
			if m.IsError {
				return fmt.Errorf("query failed: %s", m.Result)
			}
		}
	}
	return nil
}
