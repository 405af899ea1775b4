// Package session runs submissions as sessions: it materializes the source,
// launches the program through a backend, wires its streams, enforces the
// deadline and classifies the result.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/metrics"
	"tutorexec/internal/ports"
	"tutorexec/internal/runtime"
	"tutorexec/internal/stream"
	"tutorexec/internal/verdict"
	"tutorexec/internal/workspace"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxTimeout     = 120 * time.Second
	DefaultCompileTimeout = 30 * time.Second
	DefaultMaxOutputBytes = 1 << 20

	defaultKillGrace  = 5 * time.Second
	defaultDrainGrace = time.Second
)

// Config tunes session limits. Zero fields take the package defaults.
type Config struct {
	// Limits are passed to the backend for every compile and run step.
	Limits         execution.RunLimits
	DefaultTimeout time.Duration
	// MaxTimeout is the hard ceiling applied to any requested timeout.
	MaxTimeout     time.Duration
	CompileTimeout time.Duration
	// MaxOutputBytes caps each captured stream.
	MaxOutputBytes int
	// KillGrace bounds how long a killed program may take to report exit.
	KillGrace time.Duration
	// DrainGrace bounds how long to wait for output after exit.
	DrainGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.MaxTimeout <= 0 {
		c.MaxTimeout = DefaultMaxTimeout
	}
	if c.CompileTimeout <= 0 {
		c.CompileTimeout = DefaultCompileTimeout
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if c.KillGrace <= 0 {
		c.KillGrace = defaultKillGrace
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = defaultDrainGrace
	}
	c.Limits = c.Limits.Normalize()
	return c
}

// Engine creates sessions. It holds no per-session state and is safe for
// concurrent use.
type Engine struct {
	backend    ports.Backend
	workspaces *workspace.Manager
	classifier verdict.Classifier
	cfg        Config
	logger     zerolog.Logger
}

func NewEngine(backend ports.Backend, workspaces *workspace.Manager, classifier verdict.Classifier, cfg Config, logger zerolog.Logger) (*Engine, error) {
	if backend == nil {
		return nil, errors.New("backend cannot be nil")
	}
	if workspaces == nil {
		return nil, errors.New("workspace manager cannot be nil")
	}
	if classifier == nil {
		classifier = verdict.Heuristic{}
	}
	return &Engine{
		backend:    backend,
		workspaces: workspaces,
		classifier: classifier,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("backend", backend.Name()).Logger(),
	}, nil
}

// EffectiveTimeout applies the default and the hard ceiling to requested.
func (e *Engine) EffectiveTimeout(requested time.Duration) time.Duration {
	if requested <= 0 {
		requested = e.cfg.DefaultTimeout
	}
	if requested > e.cfg.MaxTimeout {
		return e.cfg.MaxTimeout
	}
	return requested
}

// Open materializes source, compiles it when the profile requires, and
// launches the program. A build failure yields a session that is already
// terminal in StateCompileFailed. Errors wrap execution.ErrLaunchFailed when
// the workspace or backend is unavailable.
func (e *Engine) Open(ctx context.Context, profile runtime.Profile, source string, timeout time.Duration) (*Session, error) {
	timeout = e.EffectiveTimeout(timeout)

	ws, err := e.workspaces.Acquire()
	if err != nil {
		return nil, launchFailed(err)
	}
	if _, err := ws.Materialize(profile.SourceFilename, profile.PrepareSource(source)); err != nil {
		ws.Release()
		return nil, launchFailed(err)
	}

	id := uuid.NewString()
	logger := e.logger.With().
		Str("session", id).
		Str("language", string(profile.Language)).
		Logger()

	limits := e.cfg.Limits
	limits.TimeLimit = timeout
	spec := ports.LaunchSpec{
		Workspace: ws.Path(),
		Limits:    limits,
		Language:  profile.Language,
	}

	if profile.Compiled() {
		out, err := e.compile(ctx, spec, profile)
		if err != nil {
			ws.Release()
			return nil, err
		}
		if out.TimedOut || out.ExitCode != 0 {
			ws.Release()
			logger.Debug().Int("exit_code", out.ExitCode).Bool("timed_out", out.TimedOut).Msg("compilation failed")
			return e.compileFailed(id, profile, out, logger), nil
		}
	}

	spec.Command = profile.Run
	proc, err := e.backend.Start(ctx, spec)
	if err != nil {
		ws.Release()
		return nil, launchFailed(err)
	}

	s := e.newSession(id, profile.Language, ws, proc, logger)
	s.start(timeout)
	logger.Debug().Dur("timeout", timeout).Str("workspace", ws.Path()).Msg("session started")
	return s, nil
}

// RunBatch executes source to completion with stdin supplied up front and
// closed afterwards, so a program reading past the input sees end-of-file.
func (e *Engine) RunBatch(ctx context.Context, profile runtime.Profile, source, stdin string, timeout time.Duration) (*execution.Result, error) {
	s, err := e.Open(ctx, profile, source, timeout)
	if err != nil {
		return nil, err
	}
	defer s.Stop()

	s.feed(stdin)
	return s.Await(ctx, 0)
}

func (e *Engine) compile(ctx context.Context, spec ports.LaunchSpec, profile runtime.Profile) (ports.CompileOutput, error) {
	compileCtx, cancel := context.WithTimeout(ctx, e.cfg.CompileTimeout)
	defer cancel()

	spec.Command = profile.Compile
	spec.Limits.TimeLimit = e.cfg.CompileTimeout

	start := time.Now()
	out, err := e.backend.Compile(compileCtx, spec)
	if err != nil {
		if ctx.Err() != nil {
			return ports.CompileOutput{}, fmt.Errorf("compile: %w", ctx.Err())
		}
		if errors.Is(compileCtx.Err(), context.DeadlineExceeded) {
			out.TimedOut = true
			return out, nil
		}
		return ports.CompileOutput{}, launchFailed(err)
	}
	if out.Duration == 0 {
		out.Duration = time.Since(start)
	}

	metrics.ExecutionDuration.WithLabelValues(string(profile.Language), "compile").Observe(float64(out.Duration.Milliseconds()))
	return out, nil
}

func (e *Engine) compileFailed(id string, profile runtime.Profile, out ports.CompileOutput, logger zerolog.Logger) *Session {
	stderr := strings.TrimSpace(out.Stderr)
	if stderr == "" {
		stderr = strings.TrimSpace(out.Stdout)
	}

	kind := e.classifier.Classify(verdict.Outcome{
		State:    execution.StateCompileFailed,
		ExitCode: out.ExitCode,
		Stdout:   out.Stdout,
		Stderr:   stderr,
	})
	message := verdict.Message(kind)
	if out.TimedOut {
		message = fmt.Sprintf("Compilation timed out after %s.", e.cfg.CompileTimeout)
	}

	s := &Session{
		id:       id,
		language: profile.Language,
		logger:   logger,
		stdout:   stream.NewQueue(0),
		stderr:   stream.NewQueue(0),
		done:     make(chan struct{}),
		exitedCh: make(chan struct{}),
	}
	// Interactive callers see the compiler diagnostics through Poll.
	if stderr != "" {
		for _, line := range strings.Split(stderr, "\n") {
			s.stderr.Push(line)
		}
	}
	s.stdout.Close()
	s.stderr.Close()

	now := time.Now()
	s.state = execution.StateCompileFailed
	s.startedAt = now
	s.finishedAt = now
	s.stdinClosed = true
	s.result = &execution.Result{
		Success:  false,
		Stdout:   strings.TrimSpace(out.Stdout),
		Stderr:   stderr,
		ExitCode: out.ExitCode,
		Kind:     kind,
		Message:  message,
		Duration: out.Duration,
	}
	close(s.exitedCh)
	close(s.done)

	metrics.ExecutionsTotal.WithLabelValues(string(profile.Language), string(kind)).Inc()
	return s
}

func (e *Engine) newSession(id string, lang execution.Language, ws *workspace.Workspace, proc ports.Process, logger zerolog.Logger) *Session {
	return &Session{
		id:         id,
		language:   lang,
		logger:     logger,
		classifier: e.classifier,
		killGrace:  e.cfg.KillGrace,
		drainGrace: e.cfg.DrainGrace,
		ws:         ws,
		proc:       proc,
		stdout:     stream.NewQueue(e.cfg.MaxOutputBytes),
		stderr:     stream.NewQueue(e.cfg.MaxOutputBytes),
		done:       make(chan struct{}),
		exitedCh:   make(chan struct{}),
	}
}

func launchFailed(err error) error {
	if errors.Is(err, execution.ErrLaunchFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", execution.ErrLaunchFailed, err)
}
