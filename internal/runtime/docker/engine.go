package docker

import (
	"context"
	"errors"
	"fmt"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
)

// Backend implements ports.Backend with one container per compile or run
// step. The session workspace is bind-mounted into every container.
type Backend struct {
	client dockerClient
	engine *containerEngine
	logger zerolog.Logger
}

var _ ports.Backend = (*Backend)(nil)

// New constructs a Backend talking to the daemon configured by the
// environment (DOCKER_HOST and friends).
func New(cfg Config, logger zerolog.Logger) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker backend: create client: %w", err)
	}
	return newBackendWithClient(cli, cfg, logger), nil
}

func newBackendWithClient(cli dockerClient, cfg Config, logger zerolog.Logger) *Backend {
	logger = logger.With().Str("backend", "docker").Logger()
	return &Backend{
		client: cli,
		engine: newContainerEngine(cli, cfg, logger),
		logger: logger,
	}
}

func (b *Backend) Name() string {
	return "docker"
}

// Compile runs the build command to completion in its own container.
func (b *Backend) Compile(ctx context.Context, spec ports.LaunchSpec) (ports.CompileOutput, error) {
	if err := b.engine.ensureImage(ctx, b.engine.cfg.imageFor(spec.Language)); err != nil {
		return ports.CompileOutput{}, launchFailed(err)
	}
	return b.engine.runToCompletion(ctx, spec)
}

// Start creates the run container, attaches its streams and starts it.
// Streams are attached before start so no early output is lost.
func (b *Backend) Start(ctx context.Context, spec ports.LaunchSpec) (ports.Process, error) {
	if err := b.engine.ensureImage(ctx, b.engine.cfg.imageFor(spec.Language)); err != nil {
		return nil, launchFailed(err)
	}

	limits := b.engine.effectiveLimits(spec.Limits)
	containerID, err := b.engine.createContainer(ctx, spec, limits, true)
	if err != nil {
		return nil, launchFailed(err)
	}

	attach, err := b.client.ContainerAttach(ctx, containerID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		b.engine.remove(containerID)
		return nil, launchFailed(fmt.Errorf("attach container: %w", err))
	}

	if err := b.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		if attach.Conn != nil {
			attach.Close()
		}
		b.engine.remove(containerID)
		return nil, launchFailed(fmt.Errorf("start container: %w", err))
	}

	b.logger.Debug().Str("container", containerID).Str("workspace", spec.Workspace).Msg("container started")
	return newContainerProcess(containerID, b.engine, attach), nil
}

// Close releases the Docker client.
func (b *Backend) Close() error {
	if err := b.client.Close(); err != nil {
		return fmt.Errorf("docker client: %w", err)
	}
	return nil
}

func launchFailed(err error) error {
	if errors.Is(err, execution.ErrLaunchFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", execution.ErrLaunchFailed, err)
}
