package containers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

const (
	defaultWorkerImage  = "uagent-worker:latest"
	dockerWorkerPort    = 3000
	dockerHealthTimeout = 60 * time.Second
	dockerHealthPoll    = time.Second

	defaultCPUs   = 2.0
	minCPUs       = 0.01
	maxCPUs       = 14.0
	defaultMemory = "4g"
)

// DockerRuntime runs workers as Docker containers via the docker CLI.
type DockerRuntime struct {
	// Network is the Docker network containers join. Optional.
	Network string
	// Image overrides the default worker image.
	Image string

	client *http.Client
	logger *slog.Logger

	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, args ...string) (string, error)
}

// NewDockerRuntime creates a Docker-backed runtime.
func NewDockerRuntime(network string, logger *slog.Logger) *DockerRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	return &DockerRuntime{
		Network:    network,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "docker"),
		runCommand: runDocker,
	}
}

func runDocker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// cpuLimit converts a configured cpu quota into a --cpus value. Values over
// 100 are treated as microseconds per 100ms period.
func cpuLimit(quota float64) float64 {
	if quota == 0 {
		return defaultCPUs
	}
	if quota > 100 {
		quota = quota / 100000
	}
	if quota < minCPUs {
		return minCPUs
	}
	if quota > maxCPUs {
		return maxCPUs
	}
	return quota
}

// buildEnv assembles the worker environment. Process env wins over the
// per-session api key.
func buildEnv(cfg AgentConfig, sessionID, apiKey string) map[string]string {
	env := map[string]string{
		"SESSION_ID": sessionID,
	}
	configJSON, err := json.Marshal(cfg)
	if err == nil {
		env["AGENT_CONFIG_JSON"] = string(configJSON)
	}

	for _, key := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY"} {
		if v := os.Getenv(key); v != "" {
			env[key] = v
		} else if apiKey != "" {
			env[key] = apiKey
		}
	}
	for k, v := range cfg.Env {
		env[k] = v
	}
	return env
}

func (d *DockerRuntime) buildRunArgs(name, volume string, cfg AgentConfig, env map[string]string) []string {
	memory := cfg.Limits.MemoryLimit
	if memory == "" {
		memory = defaultMemory
	}
	image := cfg.Image
	if image == "" {
		image = d.Image
	}
	if image == "" {
		image = defaultWorkerImage
	}

	args := []string{
		"run", "-d",
		"--name", name,
		"--cpus", fmt.Sprintf("%g", cpuLimit(cfg.Limits.CPUQuota)),
		"--memory", memory,
		"-v", volume + ":/workspace",
	}
	if d.Network != "" {
		args = append(args, "--network", d.Network)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+env[k])
	}
	return append(args, image)
}

// CreateContainer starts a worker container and waits for it to report
// healthy on its /health endpoint.
func (d *DockerRuntime) CreateContainer(ctx context.Context, sessionID, agentID string, cfg AgentConfig, apiKey string) (*ContainerInfo, error) {
	name := "uas-" + agentID
	volume := "uas-workspace-" + agentID

	if _, err := d.runCommand(ctx, "volume", "create", volume); err != nil {
		return nil, &ContainerStartError{SessionID: sessionID, Message: "volume create failed", Cause: err}
	}

	env := buildEnv(cfg, sessionID, apiKey)
	containerID, err := d.runCommand(ctx, d.buildRunArgs(name, volume, cfg, env)...)
	if err != nil {
		d.removeArtifacts(context.WithoutCancel(ctx), name, volume)
		return nil, &ContainerStartError{SessionID: sessionID, Message: "container run failed", Cause: err}
	}

	ip, err := d.containerIP(ctx, name)
	if err != nil {
		d.removeArtifacts(context.WithoutCancel(ctx), name, volume)
		return nil, &ContainerStartError{SessionID: sessionID, Message: "container inspect failed", Cause: err}
	}

	info := &ContainerInfo{
		ID:        containerID,
		Name:      name,
		Host:      ip,
		Port:      dockerWorkerPort,
		Status:    "starting",
		StartedAt: time.Now(),
		Volume:    volume,
	}

	if !waitHealthy(ctx, d.client, info.Address(), dockerHealthTimeout, dockerHealthPoll) {
		d.removeArtifacts(context.WithoutCancel(ctx), name, volume)
		return nil, &ContainerStartError{
			SessionID: sessionID,
			Message:   fmt.Sprintf("health check timed out after %s", dockerHealthTimeout),
		}
	}

	info.Status = "running"
	d.logger.Info("container started",
		"session_id", sessionID,
		"container", name,
		"address", info.Address())
	return info, nil
}

func (d *DockerRuntime) containerIP(ctx context.Context, name string) (string, error) {
	ip, err := d.runCommand(ctx, "inspect", "-f",
		"{{range .NetworkSettings.Networks}}{{.IPAddress}}{{end}}", name)
	if err != nil {
		return "", err
	}
	if ip == "" {
		return "", fmt.Errorf("container %s has no IP address", name)
	}
	return ip, nil
}

// StopContainer stops and removes the container and its workspace volume.
// Failures are logged and ignored.
func (d *DockerRuntime) StopContainer(ctx context.Context, info *ContainerInfo) error {
	if info == nil {
		return nil
	}
	d.removeArtifacts(ctx, info.Name, info.Volume)
	return nil
}

func (d *DockerRuntime) removeArtifacts(ctx context.Context, name, volume string) {
	if _, err := d.runCommand(ctx, "stop", name); err != nil {
		d.logger.Warn("docker stop failed", "container", name, "error", err)
	}
	if _, err := d.runCommand(ctx, "rm", "-f", name); err != nil {
		d.logger.Warn("docker rm failed", "container", name, "error", err)
	}
	if volume != "" {
		if _, err := d.runCommand(ctx, "volume", "rm", "-f", volume); err != nil {
			d.logger.Warn("docker volume rm failed", "volume", volume, "error", err)
		}
	}
}

// ExecuteQuery streams a query through the worker's SSE endpoint.
func (d *DockerRuntime) ExecuteQuery(ctx context.Context, info *ContainerInfo, message string, history []HistoryMessage) (<-chan string, error) {
	return executeQuery(ctx, &http.Client{}, info.Address(), message, history)
}

// HealthCheck probes the worker's /health endpoint once.
func (d *DockerRuntime) HealthCheck(ctx context.Context, info *ContainerInfo) bool {
	return checkHealth(ctx, d.client, info.Address())
}
