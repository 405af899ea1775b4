package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"tutorexec/internal/ports"
)

// containerProcess is a started container with its standard streams
// attached. The multiplexed attach stream is split into stdout and stderr
// pipes by a single demux goroutine.
type containerProcess struct {
	id     string
	engine *containerEngine
	attach types.HijackedResponse

	stdin   *attachedStdin
	stdoutR *io.PipeReader
	stderrR *io.PipeReader

	ctx    context.Context
	cancel context.CancelFunc

	releaseOnce sync.Once
	releaseErr  error
}

func newContainerProcess(id string, engine *containerEngine, attach types.HijackedResponse) *containerProcess {
	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &containerProcess{
		id:      id,
		engine:  engine,
		attach:  attach,
		stdin:   &attachedStdin{attach: attach},
		stdoutR: stdoutR,
		stderrR: stderrR,
		ctx:     ctx,
		cancel:  cancel,
	}

	go func() {
		_, err := stdcopy.StdCopy(stdoutW, stderrW, attach.Reader)
		stdoutW.CloseWithError(err)
		stderrW.CloseWithError(err)
	}()

	return p
}

func (p *containerProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *containerProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *containerProcess) Stderr() io.Reader     { return p.stderrR }

func (p *containerProcess) Wait() (ports.ExitStatus, error) {
	status, err := p.engine.waitForExit(p.ctx, p.id)
	if err != nil {
		return ports.ExitStatus{Code: -1}, err
	}

	exit := ports.ExitStatus{Code: int(status.StatusCode)}
	inspect, err := p.engine.cli.ContainerInspect(p.ctx, p.id)
	if err != nil {
		return exit, fmt.Errorf("inspect container: %w", err)
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.OOMKilled {
		exit.OOMKilled = true
	}
	return exit, nil
}

func (p *containerProcess) Kill() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	err := p.engine.cli.ContainerKill(ctx, p.id, "SIGKILL")
	if err != nil && !errdefs.IsNotFound(err) && !errdefs.IsConflict(err) {
		return fmt.Errorf("kill container %s: %w", p.id, err)
	}
	return nil
}

// Release closes the attach connection and force-removes the container.
func (p *containerProcess) Release() error {
	p.releaseOnce.Do(func() {
		p.cancel()
		if p.attach.Conn != nil {
			p.attach.Close()
		}
		p.releaseErr = p.engine.removeContainer(p.id)
	})
	return p.releaseErr
}

// attachedStdin writes to the attach connection. Close half-closes the
// connection so the program sees end-of-file while output keeps flowing.
type attachedStdin struct {
	attach types.HijackedResponse

	mu     sync.Mutex
	closed bool
}

var errStdinClosed = errors.New("stdin already closed")

func (s *attachedStdin) Write(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, errStdinClosed
	}
	if s.attach.Conn == nil {
		return 0, errors.New("stdin not attached")
	}
	return s.attach.Conn.Write(p)
}

func (s *attachedStdin) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.attach.Conn == nil {
		return nil
	}
	return s.attach.CloseWrite()
}
