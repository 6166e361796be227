// Package main provides the CLI entry point for the uagent runtime.
//
// uagent runs LLM agents against multiple providers (Anthropic, OpenAI,
// Azure OpenAI) with tool execution, lifecycle hooks, and containerized
// multi-agent sessions.
//
// # Basic Usage
//
// Start the manager API:
//
//	uagent manager --addr :8080 --presets ./presets
//
// Run a one-shot query:
//
//	uagent query --provider claude "summarize this repo"
//
// The worker subcommand is the container entry point and is normally
// launched by the manager, not by hand.
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - AZURE_OPENAI_API_KEY / AZURE_OPENAI_ENDPOINT: Azure OpenAI credentials
//   - SESSION_ID / AGENT_CONFIG_JSON / PORT: worker-mode inputs, set by the runtime
package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "uagent",
		Short: "uagent - provider-agnostic LLM agent runtime",
		Long: `uagent runs LLM agents with tool execution and lifecycle hooks.

Supported providers: Anthropic (Claude), OpenAI (GPT), Azure OpenAI
Agents run either in-process (query) or as isolated workers managed
over HTTP (manager/worker).`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildManagerCmd(),
		buildWorkerCmd(),
		buildQueryCmd(),
	)
	return rootCmd
}

// =============================================================================
// Manager Command
// =============================================================================

// buildManagerCmd creates the "manager" command that serves the fleet API.
func buildManagerCmd() *cobra.Command {
	var (
		addr          string
		runtimeName   string
		network       string
		image         string
		presetDirs    []string
		workspaceRoot string
		idleTimeout   time.Duration
		debug         bool
	)

	cmd := &cobra.Command{
		Use:   "manager",
		Short: "Start the agent manager API",
		Long: `Start the manager API that launches agent sessions, tunnels chat
streams to workers, and evicts idle sessions.

Workers run either as Docker containers or as local child processes,
selected with --runtime. Preset configurations are discovered from the
--presets directories at startup.`,
		Example: `  # Docker-backed workers on the default port
  uagent manager --presets ./presets

  # Local worker processes, for development without Docker
  uagent manager --runtime local`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManager(cmd.Context(), managerOptions{
				Addr:          addr,
				Runtime:       runtimeName,
				Network:       network,
				Image:         image,
				PresetDirs:    presetDirs,
				WorkspaceRoot: workspaceRoot,
				IdleTimeout:   idleTimeout,
				Debug:         debug,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Manager listen address")
	cmd.Flags().StringVar(&runtimeName, "runtime", "docker", "Worker runtime: docker or local")
	cmd.Flags().StringVar(&network, "network", "", "Docker network for worker containers")
	cmd.Flags().StringVar(&image, "image", "", "Worker container image override")
	cmd.Flags().StringSliceVar(&presetDirs, "presets", nil, "Directories to scan for preset files")
	cmd.Flags().StringVar(&workspaceRoot, "workspace-root", "", "Workspace root for local worker processes")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", 30*time.Minute, "Idle session eviction timeout")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

// =============================================================================
// Worker Command
// =============================================================================

// buildWorkerCmd creates the "worker" command, the container entry point.
// Its configuration arrives through the environment set by the runtime.
func buildWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run a single agent worker (container entry point)",
		Long: `Run the worker HTTP server for one agent. Configuration is read
from the environment:

  SESSION_ID         session identifier assigned by the manager
  AGENT_CONFIG_JSON  the agent configuration, as JSON
  PORT               listen port (default 3000)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context())
		},
	}
}

// =============================================================================
// Query Command
// =============================================================================

// buildQueryCmd creates the "query" command for one-shot prompts.
func buildQueryCmd() *cobra.Command {
	var (
		providerName string
		model        string
		systemPrompt string
		presetPath   string
		memoryFile   string
		maxTurns     int
		showThinking bool
	)

	cmd := &cobra.Command{
		Use:   "query [prompt...]",
		Short: "Run a one-shot prompt in-process",
		Args:  cobra.MinimumNArgs(1),
		Example: `  # Query the default provider
  uagent query "what is a goroutine"

  # Query with a preset configuration
  uagent query --preset presets/reviewer.yaml "review main.go"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), queryOptions{
				Provider:     providerName,
				Model:        model,
				SystemPrompt: systemPrompt,
				PresetPath:   presetPath,
				MemoryFile:   memoryFile,
				MaxTurns:     maxTurns,
				ShowThinking: showThinking,
			}, args)
		},
	}

	cmd.Flags().StringVarP(&providerName, "provider", "p", "", "Provider name (claude, openai, azure_openai)")
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model override")
	cmd.Flags().StringVar(&systemPrompt, "system", "", "System prompt")
	cmd.Flags().StringVar(&presetPath, "preset", "", "Preset file to load options from")
	cmd.Flags().StringVar(&memoryFile, "memory-file", "", "Persistent memory file; enables the memory tool")
	cmd.Flags().IntVar(&maxTurns, "max-turns", 0, "Maximum agent turns (0 uses the default)")
	cmd.Flags().BoolVar(&showThinking, "show-thinking", false, "Print thinking blocks")

	return cmd
}
