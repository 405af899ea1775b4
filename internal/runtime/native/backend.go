// Package native runs programs directly on the host with no isolation. It
// is meant for trusted, offline use where no container daemon is available.
package native

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
)

// compileWaitDelay bounds output collection after a cancelled compiler
// exits while a child still holds its pipes.
const compileWaitDelay = time.Second

type Backend struct {
	logger zerolog.Logger
}

var _ ports.Backend = (*Backend)(nil)

func New(logger zerolog.Logger) *Backend {
	return &Backend{logger: logger.With().Str("backend", "native").Logger()}
}

func (b *Backend) Name() string {
	return "native"
}

// Compile runs the build command in the workspace and captures its output.
// A context deadline is reported as TimedOut, not as an error.
func (b *Backend) Compile(ctx context.Context, spec ports.LaunchSpec) (ports.CompileOutput, error) {
	argv, err := resolveCommand(spec)
	if err != nil {
		return ports.CompileOutput{}, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = spec.Workspace
	configureCommand(cmd)
	cmd.Cancel = func() error {
		return killTree(cmd.Process)
	}
	cmd.WaitDelay = compileWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	if cmd.Process != nil {
		_ = killGroup(cmd.Process.Pid)
	}
	out := ports.CompileOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return out, nil
	case errors.As(err, &exitErr):
		out.ExitCode = exitCode(exitErr.ProcessState)
		return out, nil
	default:
		return ports.CompileOutput{}, fmt.Errorf("%w: run %s: %w", execution.ErrLaunchFailed, argv[0], err)
	}
}

// Start launches the run command with explicit pipes for all three streams.
func (b *Backend) Start(ctx context.Context, spec ports.LaunchSpec) (ports.Process, error) {
	argv, err := resolveCommand(spec)
	if err != nil {
		return nil, err
	}

	stdin, err := newPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %w", execution.ErrLaunchFailed, err)
	}
	stdout, err := newPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %w", execution.ErrLaunchFailed, err)
	}
	stderr, err := newPipe()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %w", execution.ErrLaunchFailed, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = spec.Workspace
	cmd.Stdin = stdin.Reader
	cmd.Stdout = stdout.Writer
	cmd.Stderr = stderr.Writer
	configureCommand(cmd)

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		return nil, fmt.Errorf("%w: start %s: %w", execution.ErrLaunchFailed, argv[0], err)
	}

	// The child holds its own copies; keeping ours open would hide EOF.
	_ = stdin.Reader.Close()
	_ = stdout.Writer.Close()
	_ = stderr.Writer.Close()

	b.logger.Debug().Int("pid", cmd.Process.Pid).Str("workspace", spec.Workspace).Msg("process started")
	return &process{
		cmd:    cmd,
		pgid:   cmd.Process.Pid,
		stdin:  stdin.Writer,
		stdout: stdout.Reader,
		stderr: stderr.Reader,
	}, nil
}

func (b *Backend) Close() error {
	return nil
}

// resolveCommand anchors "./name" arguments inside the workspace so they do
// not depend on the host's working directory.
func resolveCommand(spec ports.LaunchSpec) ([]string, error) {
	if len(spec.Command) == 0 {
		return nil, errors.New("native backend: empty command")
	}
	argv := make([]string, len(spec.Command))
	for i, arg := range spec.Command {
		if strings.HasPrefix(arg, "./") {
			arg = filepath.Join(spec.Workspace, arg[2:])
		}
		argv[i] = arg
	}
	return argv, nil
}

type pipe struct {
	Reader *os.File
	Writer *os.File
}

func newPipe() (*pipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &pipe{Reader: r, Writer: w}, nil
}

func (p *pipe) Close() error {
	return errors.Join(p.Reader.Close(), p.Writer.Close())
}
