package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	typesimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/metrics"
	"tutorexec/internal/ports"
)

const (
	stopTimeout   = 5 * time.Second
	removeTimeout = 10 * time.Second
)

type containerEngine struct {
	cli    dockerClient
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	images map[string]struct{}
}

func newContainerEngine(cli dockerClient, cfg Config, logger zerolog.Logger) *containerEngine {
	return &containerEngine{
		cli:    cli,
		cfg:    cfg.withDefaults(),
		logger: logger,
		images: make(map[string]struct{}),
	}
}

// ensureImage pulls ref only when the daemon does not have it. Successful
// checks are cached; failures are retried on the next call.
func (c *containerEngine) ensureImage(ctx context.Context, ref string) error {
	c.mu.Lock()
	_, ok := c.images[ref]
	c.mu.Unlock()
	if ok {
		return nil
	}

	if _, _, err := c.cli.ImageInspectWithRaw(ctx, ref); err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("inspect image %s: %w", ref, err)
		}
		if err := c.pullImage(ctx, ref); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.images[ref] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *containerEngine) pullImage(ctx context.Context, ref string) error {
	c.logger.Info().Str("image", ref).Msg("pulling docker image")
	reader, err := c.cli.ImagePull(ctx, ref, typesimage.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	if err != nil {
		return fmt.Errorf("consume pull output for %s: %w", ref, err)
	}
	return nil
}

func (c *containerEngine) effectiveLimits(request execution.RunLimits) execution.RunLimits {
	return c.cfg.DefaultLimits.Merge(request)
}

// runToCompletion runs spec.Command in a fresh container without stdin and
// collects its output once it exits. Exceeding the context deadline stops
// the container and reports TimedOut instead of an error.
func (c *containerEngine) runToCompletion(ctx context.Context, spec ports.LaunchSpec) (ports.CompileOutput, error) {
	limits := c.effectiveLimits(spec.Limits)

	containerID, err := c.createContainer(ctx, spec, limits, false)
	if err != nil {
		return ports.CompileOutput{}, err
	}
	defer c.remove(containerID)

	start := time.Now()
	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return ports.CompileOutput{}, fmt.Errorf("start container: %w", err)
	}

	waitCtx := ctx
	var cancel context.CancelFunc
	if limits.TimeLimit > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, limits.TimeLimit)
	}
	status, err := c.waitForExit(waitCtx, containerID)
	if cancel != nil {
		cancel()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(ctx.Err(), context.Canceled) {
			return c.handleTimeLimit(containerID, start)
		}
		return ports.CompileOutput{}, err
	}

	logCtx := ctx
	if logCtx.Err() != nil {
		logCtx = context.Background()
	}

	stdout, stderr, err := c.fetchLogs(logCtx, containerID)
	if err != nil {
		return ports.CompileOutput{}, fmt.Errorf("fetch logs: %w", err)
	}

	return ports.CompileOutput{
		ExitCode: int(status.StatusCode),
		Stdout:   stdout,
		Stderr:   stderr,
		Duration: time.Since(start),
	}, nil
}

func (c *containerEngine) handleTimeLimit(containerID string, start time.Time) (ports.CompileOutput, error) {
	stopCtx, cancelStop := context.WithTimeout(context.Background(), stopTimeout)
	defer cancelStop()

	timeout := 0
	if err := c.cli.ContainerStop(stopCtx, containerID, container.StopOptions{Timeout: &timeout}); err != nil && !errdefs.IsNotFound(err) {
		return ports.CompileOutput{}, fmt.Errorf("stop container after time limit: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelWait()

	status, waitErr := c.waitForExit(waitCtx, containerID)
	if waitErr != nil && !errors.Is(waitErr, context.DeadlineExceeded) && !errdefs.IsNotFound(waitErr) {
		return ports.CompileOutput{}, fmt.Errorf("wait for container after time limit: %w", waitErr)
	}

	stdout, stderr, err := c.fetchLogs(context.Background(), containerID)
	if err != nil {
		return ports.CompileOutput{}, fmt.Errorf("fetch logs: %w", err)
	}

	exitCode := -1
	if status != nil {
		exitCode = int(status.StatusCode)
	}

	return ports.CompileOutput{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
		TimedOut: true,
		Duration: time.Since(start),
	}, nil
}

func (c *containerEngine) createContainer(ctx context.Context, spec ports.LaunchSpec, limits execution.RunLimits, interactive bool) (string, error) {
	if len(spec.Command) == 0 {
		return "", errors.New("create container: empty command")
	}

	resp, err := c.cli.ContainerCreate(
		ctx,
		&container.Config{
			Image:           c.cfg.imageFor(spec.Language),
			Cmd:             spec.Command,
			AttachStdout:    true,
			AttachStderr:    true,
			AttachStdin:     interactive,
			OpenStdin:       interactive,
			StdinOnce:       interactive,
			WorkingDir:      c.cfg.MountPath,
			User:            c.cfg.User,
			NetworkDisabled: true,
		},
		hostConfigFor(spec.Workspace, c.cfg.MountPath, limits),
		nil,
		nil,
		"",
	)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	return resp.ID, nil
}

// remove force-removes a container. Failures are logged and swallowed.
func (c *containerEngine) remove(containerID string) {
	if err := c.removeContainer(containerID); err != nil {
		metrics.CleanupFailures.WithLabelValues("container").Inc()
		c.logger.Warn().Err(err).Str("container", containerID).Msg("failed to remove container")
	}
}

func (c *containerEngine) removeContainer(containerID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	err := c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("remove container %s: %w", containerID, err)
	}
	return nil
}

func (c *containerEngine) waitForExit(ctx context.Context, containerID string) (*container.WaitResponse, error) {
	statusCh, errCh := c.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for container: %w", ctx.Err())
	}
}

func (c *containerEngine) fetchLogs(ctx context.Context, containerID string) (stdout, stderr string, err error) {
	logs, err := c.cli.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return "", "", err
	}

	return stdoutBuf.String(), stderrBuf.String(), nil
}
