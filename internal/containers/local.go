package containers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	localBasePort      = 3100
	localHealthTimeout = 30 * time.Second
	localHealthPoll    = 500 * time.Millisecond
	localStopGrace     = 5 * time.Second
)

// LocalProcessRuntime runs workers as child processes on loopback, for
// development without Docker.
type LocalProcessRuntime struct {
	// Command launches the worker, e.g. ["uagent", "worker"]. The worker
	// port and workspace arrive via PORT and WORKSPACE_DIR.
	Command []string
	// WorkspaceRoot holds per-agent workspace directories.
	WorkspaceRoot string

	client *http.Client
	logger *slog.Logger

	mu        sync.Mutex
	processes map[string]*exec.Cmd
	portsUsed int
}

// NewLocalProcessRuntime creates a process-backed runtime.
func NewLocalProcessRuntime(command []string, workspaceRoot string, logger *slog.Logger) *LocalProcessRuntime {
	if logger == nil {
		logger = slog.Default()
	}
	if workspaceRoot == "" {
		workspaceRoot = filepath.Join(os.TempDir(), "uagent-workspaces")
	}
	return &LocalProcessRuntime{
		Command:       command,
		WorkspaceRoot: workspaceRoot,
		client:        &http.Client{Timeout: 10 * time.Second},
		logger:        logger.With("component", "localproc"),
		processes:     make(map[string]*exec.Cmd),
	}
}

// nextPort hands out ports monotonically. Counting live processes would
// reassign a still-bound port once an earlier worker stops.
func (l *LocalProcessRuntime) nextPort() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	port := localBasePort + l.portsUsed
	l.portsUsed++
	return port
}

// CreateContainer spawns a worker process and waits for it to come up.
func (l *LocalProcessRuntime) CreateContainer(ctx context.Context, sessionID, agentID string, cfg AgentConfig, apiKey string) (*ContainerInfo, error) {
	if len(l.Command) == 0 {
		return nil, &ContainerStartError{SessionID: sessionID, Message: "no worker command configured"}
	}

	port := l.nextPort()
	workspace := filepath.Join(l.WorkspaceRoot, agentID)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, &ContainerStartError{SessionID: sessionID, Message: "workspace create failed", Cause: err}
	}

	cmd := exec.Command(l.Command[0], l.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range buildEnv(cfg, sessionID, apiKey) {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env,
		"PORT="+strconv.Itoa(port),
		"WORKSPACE_DIR="+workspace)
	cmd.Dir = workspace

	if err := cmd.Start(); err != nil {
		return nil, &ContainerStartError{SessionID: sessionID, Message: "worker start failed", Cause: err}
	}
	l.mu.Lock()
	l.processes[agentID] = cmd
	l.mu.Unlock()

	info := &ContainerInfo{
		ID:           strconv.Itoa(cmd.Process.Pid),
		Name:         "uas-" + agentID,
		Host:         "127.0.0.1",
		Port:         port,
		Status:       "starting",
		StartedAt:    time.Now(),
		WorkspaceDir: workspace,
	}

	if !waitHealthy(ctx, l.client, info.Address(), localHealthTimeout, localHealthPoll) {
		l.stopProcess(agentID, cmd)
		return nil, &ContainerStartError{
			SessionID: sessionID,
			Message:   fmt.Sprintf("health check timed out after %s", localHealthTimeout),
		}
	}

	info.Status = "running"
	l.logger.Info("worker process started",
		"session_id", sessionID,
		"pid", cmd.Process.Pid,
		"address", info.Address())
	return info, nil
}

// StopContainer terminates the worker process: SIGTERM, a grace period,
// then SIGKILL.
func (l *LocalProcessRuntime) StopContainer(ctx context.Context, info *ContainerInfo) error {
	if info == nil {
		return nil
	}
	agentID := info.Name
	if len(agentID) > 4 {
		agentID = agentID[4:] // strip "uas-"
	}

	l.mu.Lock()
	cmd := l.processes[agentID]
	l.mu.Unlock()
	if cmd == nil {
		return nil
	}
	l.stopProcess(agentID, cmd)
	return nil
}

func (l *LocalProcessRuntime) stopProcess(agentID string, cmd *exec.Cmd) {
	defer func() {
		l.mu.Lock()
		delete(l.processes, agentID)
		l.mu.Unlock()
	}()

	if cmd.Process == nil {
		return
	}
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		l.logger.Warn("SIGTERM failed", "pid", cmd.Process.Pid, "error", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(localStopGrace):
		l.logger.Warn("worker did not exit, killing", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
		<-done
	}
}

// ExecuteQuery streams a query through the worker's SSE endpoint.
func (l *LocalProcessRuntime) ExecuteQuery(ctx context.Context, info *ContainerInfo, message string, history []HistoryMessage) (<-chan string, error) {
	return executeQuery(ctx, &http.Client{}, info.Address(), message, history)
}

// HealthCheck probes the worker's /health endpoint once.
func (l *LocalProcessRuntime) HealthCheck(ctx context.Context, info *ContainerInfo) bool {
	return checkHealth(ctx, l.client, info.Address())
}
