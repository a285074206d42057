package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
)

const (
	// Sandbox container configuration.
	imageName       = "hostpilot-sandbox:latest"
	containerUser   = "1000"
	workingDir      = "/home/agent/work"
	mountPath       = "/home/agent/work"
	stopTimeoutSecs = 10

	// Resource limits.
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 256

	// Output capture bound per command.
	captureLimit = 64 * 1024

	// Restart grace period for stopped containers.
	restartGracePeriod = 60 * time.Minute
)

// DockerExecutor runs confirmed commands inside a per-user sandbox container.
type DockerExecutor struct {
	cli     *client.Client
	runtime string // Container runtime: "" = default (runc), "runsc" = gVisor
}

// NewDockerExecutor creates a Docker-backed executor.
// runtime can be "" for the default Docker runtime or "runsc" for gVisor.
func NewDockerExecutor(runtime string) (*DockerExecutor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if runtime != "" {
		slog.Info("Docker executor initialized", "runtime", runtime)
	} else {
		slog.Info("Docker executor initialized", "runtime", "default")
	}
	return &DockerExecutor{cli: cli, runtime: runtime}, nil
}

// Execute runs a command in the user's sandbox container and returns the
// captured output with UI marker lines filtered out.
func (e *DockerExecutor) Execute(ctx context.Context, userID, command string) (string, error) {
	containerID, err := e.ensureContainer(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("prepare sandbox: %w", err)
	}

	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Tty:          true,
		Cmd:          []string{"sh", "-lc", command},
		User:         containerUser,
		WorkingDir:   workingDir,
	}

	resp, err := e.cli.ContainerExecCreate(ctx, containerID, execConfig)
	if err != nil {
		return "", fmt.Errorf("create exec in container %s: %w", containerID, err)
	}

	attachResp, err := e.cli.ContainerExecAttach(ctx, resp.ID, container.ExecStartOptions{Tty: true})
	if err != nil {
		return "", fmt.Errorf("attach to exec %s: %w", resp.ID, err)
	}
	defer attachResp.Close()

	// Bounded capture: only the most recent output survives runaway commands.
	buf := NewCaptureBuffer(captureLimit)
	copyDone := make(chan error, 1)
	go func() {
		_, copyErr := io.Copy(buf, attachResp.Reader)
		copyDone <- copyErr
	}()

	select {
	case <-ctx.Done():
		attachResp.Close()
		<-copyDone
		return FilterMarkers(buf.String()), fmt.Errorf("command cancelled: %w", ctx.Err())
	case copyErr := <-copyDone:
		if copyErr != nil && copyErr != io.EOF {
			slog.Debug("exec output copy ended with error", "error", copyErr, "user_id", userID)
		}
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return FilterMarkers(buf.String()), fmt.Errorf("inspect exec %s: %w", resp.ID, err)
	}

	output := FilterMarkers(buf.String())
	if inspect.ExitCode != 0 {
		return output, fmt.Errorf("command exited with status %d", inspect.ExitCode)
	}
	return output, nil
}

// ensureContainer makes sure a sandbox container exists and is running for
// the user, restarting or recreating as needed.
func (e *DockerExecutor) ensureContainer(ctx context.Context, userID string) (string, error) {
	containerName := fmt.Sprintf("hostpilot-%s", userID)
	volumeName := fmt.Sprintf("hostpilot-%s-data", userID)

	inspect, err := e.cli.ContainerInspect(ctx, containerName)
	if err == nil {
		if inspect.State.Running {
			return inspect.ID, nil
		}

		if created, parseErr := time.Parse(time.RFC3339Nano, inspect.Created); parseErr == nil &&
			time.Since(created) < restartGracePeriod {
			slog.Info("Restarting stopped sandbox", "container_id", inspect.ID, "user_id", userID)
			if err := e.cli.ContainerStart(ctx, inspect.ID, container.StartOptions{}); err != nil {
				return "", fmt.Errorf("restart container %s: %w", inspect.ID, err)
			}
			return inspect.ID, nil
		}

		slog.Info("Sandbox expired, recreating", "container_id", inspect.ID, "user_id", userID)
		if err := e.removeContainer(ctx, inspect.ID); err != nil {
			slog.Warn("Failed to remove sandbox before recreation", "error", err, "container_id", inspect.ID)
		}
	} else if !errdefs.IsNotFound(err) {
		return "", fmt.Errorf("inspect container %s: %w", containerName, err)
	}

	slog.Info("Creating sandbox container", "user_id", userID, "volume", volumeName)

	config := &container.Config{
		Image:      imageName,
		User:       containerUser,
		WorkingDir: workingDir,
		Tty:        true,
		Cmd:        []string{"sleep", "infinity"},
	}

	hostConfig := &container.HostConfig{
		Runtime: e.runtime,
		Mounts: []mount.Mount{{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: mountPath,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}

	resp, err := e.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		if removeErr := e.cli.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true}); removeErr != nil {
			slog.Warn("Failed to remove container after start failure", "container_id", resp.ID, "error", removeErr)
		}
		return "", fmt.Errorf("start container %s: %w", resp.ID, err)
	}

	slog.Info("Sandbox container created and started", "container_id", resp.ID, "user_id", userID)
	return resp.ID, nil
}

// removeContainer stops and removes a sandbox container. It is idempotent.
func (e *DockerExecutor) removeContainer(ctx context.Context, containerID string) error {
	timeout := stopTimeoutSecs
	if err := e.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		if !errdefs.IsNotFound(err) {
			slog.Debug("Container stop returned error, continuing to remove", "container_id", containerID, "error", err)
		}
	}

	if err := e.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		if errdefs.IsNotFound(err) || strings.Contains(err.Error(), "is already in progress") {
			return nil
		}
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
