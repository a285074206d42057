package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// LocalExecutor runs commands directly on the host in a per-user workspace
// directory. Intended for development only; production deployments should
// use the Docker backend.
type LocalExecutor struct {
	root string
}

// NewLocalExecutor creates a host executor with per-user workspaces under root.
func NewLocalExecutor(root string) (*LocalExecutor, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root %s: %w", root, err)
	}
	slog.Warn("Local executor enabled, commands run unsandboxed on the host", "root", root)
	return &LocalExecutor{root: root}, nil
}

// Execute runs the command in the user's workspace directory and returns the
// combined output with UI marker lines filtered out.
func (e *LocalExecutor) Execute(ctx context.Context, userID, command string) (string, error) {
	dir := filepath.Join(e.root, userID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace for %s: %w", userID, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if len(out) > captureLimit {
		out = out[len(out)-captureLimit:]
	}
	output := FilterMarkers(string(out))

	if ctx.Err() != nil {
		return output, fmt.Errorf("command cancelled: %w", ctx.Err())
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return output, fmt.Errorf("command exited with status %d", exitErr.ExitCode())
		}
		return output, fmt.Errorf("run command: %w", err)
	}
	return output, nil
}
