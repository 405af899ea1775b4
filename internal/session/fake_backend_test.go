package session

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"tutorexec/internal/ports"
	"tutorexec/internal/verdict"
	"tutorexec/internal/workspace"
)

type programIO struct {
	Stdin  *bufio.Reader
	Stdout io.Writer
	Stderr io.Writer
	Killed <-chan struct{}
}

// program simulates a user program and returns its exit code.
type program func(pio programIO) int

type fakeProcess struct {
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	exit     chan ports.ExitStatus
	killed   chan struct{}
	released chan struct{}
	killOnce sync.Once
	relOnce  sync.Once

	hang    bool
	waitErr error

	kills    atomic.Int32
	releases atomic.Int32
}

func startFakeProcess(prog program, hang bool, waitErr error) *fakeProcess {
	p := &fakeProcess{
		exit:     make(chan ports.ExitStatus, 1),
		killed:   make(chan struct{}),
		released: make(chan struct{}),
		hang:     hang,
		waitErr:  waitErr,
	}
	p.stdinR, p.stdinW = io.Pipe()
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()

	go func() {
		code := prog(programIO{
			Stdin:  bufio.NewReader(p.stdinR),
			Stdout: p.stdoutW,
			Stderr: p.stderrW,
			Killed: p.killed,
		})
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
		_ = p.stdinR.Close()
		p.exit <- ports.ExitStatus{Code: code}
	}()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdinW }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }

func (p *fakeProcess) Wait() (ports.ExitStatus, error) {
	killed := p.killed
	if p.hang {
		killed = nil
	}
	select {
	case status := <-p.exit:
		return status, p.waitErr
	case <-killed:
		return ports.ExitStatus{Code: 137}, nil
	case <-p.released:
		return ports.ExitStatus{Code: -1}, errors.New("process released")
	}
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.killOnce.Do(func() {
		close(p.killed)
		if !p.hang {
			_ = p.stdoutW.Close()
			_ = p.stderrW.Close()
			_ = p.stdinR.Close()
		}
	})
	return nil
}

func (p *fakeProcess) Release() error {
	p.releases.Add(1)
	p.relOnce.Do(func() {
		close(p.released)
		_ = p.stdoutR.Close()
		_ = p.stderrR.Close()
		_ = p.stdinR.Close()
	})
	return nil
}

type fakeBackend struct {
	mu         sync.Mutex
	program    program
	hang       bool
	waitErr    error
	compileOut ports.CompileOutput
	compileErr error
	startErr   error

	compiles []ports.LaunchSpec
	starts   []ports.LaunchSpec
	sources  map[string]string
	procs    []*fakeProcess
}

func newFakeBackend(prog program) *fakeBackend {
	return &fakeBackend{program: prog, sources: make(map[string]string)}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Compile(ctx context.Context, spec ports.LaunchSpec) (ports.CompileOutput, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compiles = append(b.compiles, spec)
	b.snapshotSources(spec.Workspace)
	return b.compileOut, b.compileErr
}

func (b *fakeBackend) Start(ctx context.Context, spec ports.LaunchSpec) (ports.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts = append(b.starts, spec)
	b.snapshotSources(spec.Workspace)
	if b.startErr != nil {
		return nil, b.startErr
	}
	p := startFakeProcess(b.program, b.hang, b.waitErr)
	b.procs = append(b.procs, p)
	return p, nil
}

func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) snapshotSources(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err == nil {
			b.sources[entry.Name()] = string(data)
		}
	}
}

func (b *fakeBackend) lastProcess() *fakeProcess {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.procs) == 0 {
		return nil
	}
	return b.procs[len(b.procs)-1]
}

func newTestEngine(t *testing.T, backend ports.Backend, cfg Config) *Engine {
	t.Helper()

	manager, err := workspace.NewManager(workspace.Config{Root: t.TempDir()}, zerolog.Nop())
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	engine, err := NewEngine(backend, manager, verdict.Heuristic{}, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine
}
