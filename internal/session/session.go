package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/metrics"
	"tutorexec/internal/ports"
	"tutorexec/internal/stream"
	"tutorexec/internal/verdict"
	"tutorexec/internal/workspace"
)

const stoppedMessage = "Execution stopped by caller."

// Output is what one Poll call drained from the session's streams.
type Output struct {
	Stdout   []string
	Stderr   []string
	Complete bool
}

// Session is one execution's lifecycle. It owns its workspace and process
// exclusively. State is written only by finalize; output is written only by
// the stream listeners.
type Session struct {
	id         string
	language   execution.Language
	logger     zerolog.Logger
	classifier verdict.Classifier
	killGrace  time.Duration
	drainGrace time.Duration

	ws     *workspace.Workspace
	proc   ports.Process
	stdout *stream.Queue
	stderr *stream.Queue

	hadStdin atomic.Bool
	stdinMu  sync.Mutex

	mu          sync.Mutex
	state       execution.State
	pending     execution.State
	stopped     bool
	exited      bool
	stdinClosed bool
	status      ports.ExitStatus
	waitErr     error
	result      *execution.Result
	startedAt   time.Time
	deadline    time.Time
	finishedAt  time.Time
	timer       *time.Timer

	done        chan struct{}
	exitedCh    chan struct{}
	cleanupOnce sync.Once
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Language() execution.Language {
	return s.language
}

func (s *Session) State() execution.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

// FinishedAt is zero until the session is terminal.
func (s *Session) FinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishedAt
}

// Done is closed once the session is terminal and cleaned up.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns a copy of the final result, or nil while running.
func (s *Session) Result() *execution.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil
	}
	res := *s.result
	return &res
}

func (s *Session) start(timeout time.Duration) {
	now := time.Now()

	s.mu.Lock()
	s.state = execution.StateRunning
	s.startedAt = now
	s.deadline = now.Add(timeout)
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()

	go stream.Listen(s.proc.Stdout(), s.stdout)
	go stream.Listen(s.proc.Stderr(), s.stderr)
	go s.wait()

	s.mu.Lock()
	if !s.state.Terminal() {
		s.timer = time.AfterFunc(timeout, s.expire)
	}
	s.mu.Unlock()
}

// SendInput writes line followed by a newline to the program's stdin.
func (s *Session) SendInput(line string) error {
	if s.inputClosed() {
		return execution.ErrStdinClosed
	}
	s.hadStdin.Store(true)

	s.stdinMu.Lock()
	defer s.stdinMu.Unlock()

	payload := strings.TrimSuffix(line, "\n") + "\n"
	if _, err := io.WriteString(s.proc.Stdin(), payload); err != nil {
		if s.inputClosed() {
			return fmt.Errorf("%w: %v", execution.ErrStdinClosed, err)
		}
		return fmt.Errorf("%w: %v", execution.ErrBrokenChannel, err)
	}
	return nil
}

// CloseInput signals end-of-file on the program's stdin.
func (s *Session) CloseInput() error {
	s.mu.Lock()
	if s.stdinClosed || s.proc == nil {
		s.mu.Unlock()
		return nil
	}
	s.stdinClosed = true
	s.mu.Unlock()

	return s.proc.Stdin().Close()
}

func (s *Session) inputClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdinClosed || s.exited || s.state.Terminal()
}

// feed writes the batch payload and closes stdin. An empty payload closes
// stdin right away. Sessions that never launched a program are skipped.
func (s *Session) feed(stdin string) {
	if s.inputClosed() {
		return
	}
	if stdin == "" {
		if err := s.CloseInput(); err != nil {
			s.logger.Debug().Err(err).Msg("close stdin")
		}
		return
	}
	if !strings.HasSuffix(stdin, "\n") {
		stdin += "\n"
	}
	s.hadStdin.Store(true)

	go func() {
		s.stdinMu.Lock()
		_, err := io.WriteString(s.proc.Stdin(), stdin)
		s.stdinMu.Unlock()
		if err != nil {
			// The program may exit without consuming its input.
			s.logger.Debug().Err(err).Msg("write stdin")
		}
		if err := s.CloseInput(); err != nil {
			s.logger.Debug().Err(err).Msg("close stdin")
		}
	}()
}

// Poll waits up to timeout for output on either stream and drains both.
// Complete is set once the session is terminal and nothing is left to drain.
func (s *Session) Poll(timeout time.Duration) Output {
	if timeout > 0 && !s.hasPending() && !s.isDone() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
	wait:
		for {
			select {
			case <-s.stdout.Ready():
			case <-s.stderr.Ready():
			case <-s.done:
				break wait
			case <-timer.C:
				break wait
			}
			if s.hasPending() {
				break
			}
		}
	}

	complete := s.isDone()
	out := Output{
		Stdout: s.stdout.Drain(),
		Stderr: s.stderr.Drain(),
	}
	out.Complete = complete && !s.hasPending()
	return out
}

// Await blocks until the session is terminal. A positive timeout kills the
// program when it elapses, yielding a timeout result. Cancelling ctx returns
// ctx.Err() and leaves the session running.
func (s *Session) Await(ctx context.Context, timeout time.Duration) (*execution.Result, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-expired:
		s.interrupt(execution.StateTimedOut, false)
	}

	select {
	case <-s.done:
		return s.Result(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop kills the program and waits for cleanup. It is a no-op on a
// terminal session.
func (s *Session) Stop() {
	s.interrupt(execution.StateCompleted, true)
	<-s.done
}

func (s *Session) hasPending() bool {
	return s.stdout.Pending() || s.stderr.Pending()
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) wait() {
	status, err := s.proc.Wait()

	s.mu.Lock()
	s.exited = true
	s.status = status
	s.waitErr = err
	target := s.pending
	if !target.Terminal() {
		target = execution.StateCompleted
	}
	s.mu.Unlock()
	close(s.exitedCh)

	s.awaitDrain()
	s.finalize(target)
}

func (s *Session) expire() {
	s.interrupt(execution.StateTimedOut, false)
}

// interrupt requests termination with target as the final state. Only the
// first request is honoured, and none once the program has exited.
func (s *Session) interrupt(target execution.State, stopped bool) {
	s.mu.Lock()
	if s.state.Terminal() || s.exited || s.pending.Terminal() {
		s.mu.Unlock()
		return
	}
	s.pending = target
	s.stopped = stopped
	s.mu.Unlock()

	if err := s.proc.Kill(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to kill process")
	}
	go s.finalizeAfterGrace(target)
}

// finalizeAfterGrace finalizes the session if the backend never reports the
// exit of a killed program.
func (s *Session) finalizeAfterGrace(target execution.State) {
	timer := time.NewTimer(s.killGrace)
	defer timer.Stop()

	select {
	case <-s.done:
		return
	case <-s.exitedCh:
		return
	case <-timer.C:
	}

	s.logger.Warn().Dur("grace", s.killGrace).Msg("process did not exit after kill")
	s.finalize(target)
}

func (s *Session) awaitDrain() {
	deadline := time.Now().Add(s.drainGrace)
	s.stdout.WaitClosed(time.Until(deadline))
	s.stderr.WaitClosed(time.Until(deadline))
}

// finalize performs the single terminal transition. Later calls are no-ops.
func (s *Session) finalize(target execution.State) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	s.state = target
	s.finishedAt = now
	if s.timer != nil {
		s.timer.Stop()
	}
	s.result = s.buildResult(target, now)
	res := *s.result
	s.mu.Unlock()

	s.cleanup()
	close(s.done)

	metrics.ExecutionsTotal.WithLabelValues(string(s.language), string(res.Kind)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(s.language), "run").Observe(float64(res.Duration.Milliseconds()))
	s.logger.Debug().
		Str("state", target.String()).
		Str("kind", string(res.Kind)).
		Int("exit_code", res.ExitCode).
		Dur("duration", res.Duration).
		Msg("session finished")
}

// buildResult must be called with s.mu held.
func (s *Session) buildResult(target execution.State, now time.Time) *execution.Result {
	stdout := strings.TrimSpace(strings.Join(s.stdout.Lines(), "\n"))
	stderr := strings.TrimSpace(strings.Join(s.stderr.Lines(), "\n"))

	exitCode := -1
	if s.exited {
		exitCode = s.status.Code
	}

	kind := s.classifier.Classify(verdict.Outcome{
		State:     target,
		ExitCode:  exitCode,
		Stdout:    stdout,
		Stderr:    stderr,
		HadStdin:  s.hadStdin.Load(),
		OOMKilled: s.status.OOMKilled,
	})
	message := verdict.Message(kind)

	switch {
	case target == execution.StateCompleted && s.waitErr != nil && !s.stopped:
		kind = execution.KindRuntimeError
		message = s.waitErr.Error()
	case s.stopped:
		message = stoppedMessage
	}

	return &execution.Result{
		Success:   kind == execution.KindSuccess && !s.stopped,
		Stdout:    stdout,
		Stderr:    stderr,
		ExitCode:  exitCode,
		Kind:      kind,
		Message:   message,
		Duration:  now.Sub(s.startedAt),
		Truncated: s.stdout.Truncated() || s.stderr.Truncated(),
	}
}

// cleanup closes stdin, releases the process and removes the workspace,
// exactly once. Failures are logged and swallowed.
func (s *Session) cleanup() {
	s.cleanupOnce.Do(func() {
		if err := s.CloseInput(); err != nil {
			s.logger.Debug().Err(err).Msg("close stdin")
		}
		if s.proc != nil {
			if err := s.proc.Release(); err != nil {
				metrics.CleanupFailures.WithLabelValues("process").Inc()
				s.logger.Warn().Err(err).Msg("failed to release process")
			}
			metrics.ActiveSessions.Dec()
		}
		if s.ws != nil {
			s.ws.Release()
		}
	})
}
