// Package containers launches and talks to agent workers, either as Docker
// containers or as local child processes. Both runtimes expose the same
// worker HTTP surface on their own address.
package containers

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/uagent/internal/agent"
)

// ContainerInfo describes a running worker.
type ContainerInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`

	// WorkspaceDir is set for local processes; Volume for Docker.
	WorkspaceDir string `json:"workspace_dir,omitempty"`
	Volume       string `json:"volume,omitempty"`
}

// Address returns the worker's base URL.
func (c *ContainerInfo) Address() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// AgentConfig is the worker-side configuration handed to a new container.
type AgentConfig struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Provider     string               `json:"provider"`
	Model        string               `json:"model,omitempty"`
	SystemPrompt string               `json:"system_prompt,omitempty"`
	AllowedTools []string             `json:"allowed_tools,omitempty"`
	Image        string               `json:"image,omitempty"`
	Limits       agent.ResourceLimits `json:"resource_limits,omitempty"`
	Env          map[string]string    `json:"env,omitempty"`
}

// HistoryMessage is one prior turn replayed to the worker.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Runtime launches, queries, and stops agent workers.
type Runtime interface {
	// CreateContainer starts a worker and blocks until it reports healthy.
	CreateContainer(ctx context.Context, sessionID, agentID string, cfg AgentConfig, apiKey string) (*ContainerInfo, error)

	// StopContainer tears the worker down. Best effort.
	StopContainer(ctx context.Context, info *ContainerInfo) error

	// ExecuteQuery posts a message to the worker and returns its SSE body
	// line by line. The channel closes at end of stream.
	ExecuteQuery(ctx context.Context, info *ContainerInfo, message string, history []HistoryMessage) (<-chan string, error)

	// HealthCheck reports whether the worker answers its health endpoint.
	HealthCheck(ctx context.Context, info *ContainerInfo) bool
}

// ContainerStartError reports a worker that failed to come up.
type ContainerStartError struct {
	SessionID string
	Message   string
	Cause     error
}

func (e *ContainerStartError) Error() string {
	return fmt.Sprintf("failed to start container for session %s: %s", e.SessionID, e.Message)
}

func (e *ContainerStartError) Unwrap() error { return e.Cause }
