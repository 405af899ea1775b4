package native

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"

	"tutorexec/internal/ports"
)

type process struct {
	cmd    *exec.Cmd
	pgid   int
	stdin  *os.File
	stdout *os.File
	stderr *os.File

	mu     sync.Mutex
	waited bool

	releaseOnce sync.Once
	releaseErr  error
}

func (p *process) Stdin() io.WriteCloser { return p.stdin }
func (p *process) Stdout() io.Reader     { return p.stdout }
func (p *process) Stderr() io.Reader     { return p.stderr }

func (p *process) Wait() (ports.ExitStatus, error) {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.waited = true
	// Anything the program left behind dies with it and releases the pipes.
	_ = killGroup(p.pgid)
	p.mu.Unlock()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return ports.ExitStatus{Code: 0}, nil
	case errors.As(err, &exitErr):
		return ports.ExitStatus{Code: exitCode(exitErr.ProcessState)}, nil
	default:
		return ports.ExitStatus{Code: -1}, err
	}
}

// Kill terminates the program and its process group. Once the program has
// been reaped only the surviving group members are signalled.
func (p *process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waited {
		return killGroup(p.pgid)
	}
	return killTree(p.cmd.Process)
}

// Release closes the parent's pipe ends and kills the program if it is
// still running.
func (p *process) Release() error {
	p.releaseOnce.Do(func() {
		killErr := p.Kill()
		p.releaseErr = errors.Join(
			killErr,
			ignoreClosed(p.stdin.Close()),
			ignoreClosed(p.stdout.Close()),
			ignoreClosed(p.stderr.Close()),
		)
	})
	return p.releaseErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}
