package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/ports"
	"tutorexec/internal/runtime"
)

func resolve(t *testing.T, lang string) runtime.Profile {
	t.Helper()
	profile, err := runtime.DefaultRegistry().Resolve(lang)
	require.NoError(t, err)
	return profile
}

func doubler(pio programIO) int {
	line, err := pio.Stdin.ReadString('\n')
	if err != nil {
		fmt.Fprint(pio.Stderr, "Traceback (most recent call last):\n  File \"main.py\", line 1, in <module>\nEOFError: EOF when reading a line\n")
		return 1
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		fmt.Fprint(pio.Stderr, "Traceback (most recent call last):\nValueError: invalid literal\n")
		return 1
	}
	fmt.Fprintln(pio.Stdout, n*2)
	return 0
}

func hello(pio programIO) int {
	fmt.Fprintln(pio.Stdout, "Hello")
	return 0
}

func spin(pio programIO) int {
	<-pio.Killed
	return 137
}

func readUntilEOF(pio programIO) int {
	_, _ = io.Copy(io.Discard, pio.Stdin)
	return 0
}

func requireRemoved(t *testing.T, path string) {
	t.Helper()
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err), "workspace %s still exists", path)
}

func TestRunBatchRoundTrip(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(doubler)
	engine := newTestEngine(t, backend, Config{})

	res, err := engine.RunBatch(context.Background(), resolve(t, "python"), "print(int(input())*2)", "5", 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "10", res.Stdout)
	require.Equal(t, execution.KindSuccess, res.Kind)
	require.Equal(t, 0, res.ExitCode)

	require.Len(t, backend.starts, 1)
	require.Equal(t, []string{"python3", "-u", "main.py"}, backend.starts[0].Command)
	require.Equal(t, "print(int(input())*2)", backend.sources["main.py"])
	require.Equal(t, DefaultTimeout, backend.starts[0].Limits.TimeLimit)
	require.Equal(t, int32(1), backend.lastProcess().releases.Load())
	requireRemoved(t, backend.starts[0].Workspace)
}

func TestRunBatchWithoutInput(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeBackend(hello), Config{})
	res, err := engine.RunBatch(context.Background(), resolve(t, "python"), "print('Hello')", "", 0)
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "Hello", res.Stdout)
	require.Empty(t, res.Stderr)
}

func TestRunBatchInputStarvation(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeBackend(doubler), Config{})
	res, err := engine.RunBatch(context.Background(), resolve(t, "python"), "x = input()", "", 0)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, execution.KindInputStarvation, res.Kind)
	require.Contains(t, res.Message, "input")
}

func TestRunBatchTimeout(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(spin)
	engine := newTestEngine(t, backend, Config{})

	start := time.Now()
	res, err := engine.RunBatch(context.Background(), resolve(t, "python"), "while True: pass", "", 100*time.Millisecond)
	require.NoError(t, err)
	require.Less(t, time.Since(start), 3*time.Second)
	require.False(t, res.Success)
	require.Equal(t, execution.KindTimeout, res.Kind)
	require.Contains(t, res.Message, "infinite loops")
	require.GreaterOrEqual(t, backend.lastProcess().kills.Load(), int32(1))
	requireRemoved(t, backend.starts[0].Workspace)
}

func TestKillGraceFinalizesHungProcess(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(readUntilEOF)
	backend.hang = true
	engine := newTestEngine(t, backend, Config{KillGrace: 50 * time.Millisecond, DrainGrace: 50 * time.Millisecond})

	s, err := engine.Open(context.Background(), resolve(t, "python"), "input()", 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	res, err := s.Await(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, execution.KindTimeout, res.Kind)
	require.Equal(t, execution.StateTimedOut, s.State())
	require.Equal(t, -1, res.ExitCode)
}

func TestEffectiveTimeoutCeiling(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeBackend(hello), Config{DefaultTimeout: time.Second, MaxTimeout: 5 * time.Second})
	require.Equal(t, time.Second, engine.EffectiveTimeout(0))
	require.Equal(t, 2*time.Second, engine.EffectiveTimeout(2*time.Second))
	require.Equal(t, 5*time.Second, engine.EffectiveTimeout(time.Hour))
}

func TestCompileFailureIsTerminal(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	backend.compileOut = ports.CompileOutput{
		ExitCode: 1,
		Stderr:   "main.c:1:1: error: unknown type name 'invalid'\nmain.c:1:8: error: expected ';'\n",
	}
	engine := newTestEngine(t, backend, Config{})

	res, err := engine.RunBatch(context.Background(), resolve(t, "c"), "invalid syntax!!!", "", 0)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, execution.KindCompileError, res.Kind)
	require.Contains(t, res.ErrorText(), "error: unknown type name")
	require.Empty(t, backend.starts)
	require.Len(t, backend.compiles, 1)
	require.Equal(t, []string{"gcc", "main.c", "-o", "a.out"}, backend.compiles[0].Command)
	requireRemoved(t, backend.compiles[0].Workspace)
}

func TestCompileFailureIgnoresBatchStdin(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	backend.compileOut = ports.CompileOutput{ExitCode: 1, Stderr: "main.cpp:1:1: error: expected unqualified-id"}
	engine := newTestEngine(t, backend, Config{})

	res, err := engine.RunBatch(context.Background(), resolve(t, "cpp"), "oops", "3", 0)
	require.NoError(t, err)
	require.Equal(t, execution.KindCompileError, res.Kind)
	require.Empty(t, backend.starts)
}

func TestCompileFailureVisibleThroughPoll(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	backend.compileOut = ports.CompileOutput{ExitCode: 1, Stderr: "Main.java:3: error: ';' expected"}
	engine := newTestEngine(t, backend, Config{})

	s, err := engine.Open(context.Background(), resolve(t, "java"), "int x = 1", 0)
	require.NoError(t, err)
	require.Equal(t, execution.StateCompileFailed, s.State())
	require.Contains(t, backend.sources["Main.java"], "public class Main")

	out := s.Poll(10 * time.Millisecond)
	require.True(t, out.Complete)
	require.Equal(t, []string{"Main.java:3: error: ';' expected"}, out.Stderr)
	require.ErrorIs(t, s.SendInput("1"), execution.ErrStdinClosed)
	s.Stop()
}

func TestCompileTimeoutFromContext(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	engine := newTestEngine(t, backend, Config{CompileTimeout: 20 * time.Millisecond})
	engine.backend = &slowCompileBackend{fakeBackend: backend}

	res, err := engine.RunBatch(context.Background(), resolve(t, "cpp"), "int main(){}", "", 0)
	require.NoError(t, err)
	require.Equal(t, execution.KindCompileError, res.Kind)
	require.Contains(t, res.Message, "timed out")
}

type slowCompileBackend struct {
	*fakeBackend
}

func (b *slowCompileBackend) Compile(ctx context.Context, spec ports.LaunchSpec) (ports.CompileOutput, error) {
	<-ctx.Done()
	return ports.CompileOutput{}, ctx.Err()
}

func TestLaunchFailureReleasesWorkspace(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	backend.startErr = errors.New("cannot connect to the docker daemon")
	engine := newTestEngine(t, backend, Config{})

	_, err := engine.RunBatch(context.Background(), resolve(t, "python"), "print(1)", "", 0)
	require.ErrorIs(t, err, execution.ErrLaunchFailed)
	require.Contains(t, err.Error(), "docker daemon")
	requireRemoved(t, backend.starts[0].Workspace)
}

func TestCompileBackendErrorIsLaunchFailure(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	backend.compileErr = errors.New("daemon unreachable")
	engine := newTestEngine(t, backend, Config{})

	_, err := engine.RunBatch(context.Background(), resolve(t, "c"), "int main(){}", "", 0)
	require.ErrorIs(t, err, execution.ErrLaunchFailed)
}

func TestWaitErrorBecomesRuntimeError(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	backend.waitErr = errors.New("container inspect failed")
	engine := newTestEngine(t, backend, Config{})

	res, err := engine.RunBatch(context.Background(), resolve(t, "python"), "print(1)", "", 0)
	require.NoError(t, err)
	require.False(t, res.Success)
	require.Equal(t, execution.KindRuntimeError, res.Kind)
	require.Equal(t, "container inspect failed", res.Message)
}

func TestInteractiveOrdering(t *testing.T) {
	t.Parallel()

	const n = 50
	backend := newFakeBackend(func(pio programIO) int {
		if _, err := pio.Stdin.ReadString('\n'); err != nil {
			return 1
		}
		for i := 0; i < n; i++ {
			fmt.Fprintf(pio.Stdout, "out%d\n", i)
			fmt.Fprintf(pio.Stderr, "err%d\n", i)
		}
		return 0
	})
	engine := newTestEngine(t, backend, Config{})

	s, err := engine.Open(context.Background(), resolve(t, "python"), "", 0)
	require.NoError(t, err)
	require.Equal(t, execution.StateRunning, s.State())
	require.NoError(t, s.SendInput("go"))

	var stdout, stderr []string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		out := s.Poll(20 * time.Millisecond)
		stdout = append(stdout, out.Stdout...)
		stderr = append(stderr, out.Stderr...)
		if out.Complete {
			break
		}
	}

	require.Len(t, stdout, n)
	require.Len(t, stderr, n)
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("out%d", i), stdout[i])
		require.Equal(t, fmt.Sprintf("err%d", i), stderr[i])
	}

	res, err := s.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, res.Success)
}

func TestSendInputAfterExit(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeBackend(hello), Config{})
	s, err := engine.Open(context.Background(), resolve(t, "python"), "print('Hello')", 0)
	require.NoError(t, err)

	_, err = s.Await(context.Background(), time.Second)
	require.NoError(t, err)
	require.ErrorIs(t, s.SendInput("late"), execution.ErrStdinClosed)
}

func TestSendInputBrokenChannel(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(func(pio programIO) int {
		<-pio.Killed
		return 137
	})
	engine := newTestEngine(t, backend, Config{})
	s, err := engine.Open(context.Background(), resolve(t, "python"), "", 0)
	require.NoError(t, err)
	defer s.Stop()

	// The program never reads; closing its end makes the next write fail.
	require.NoError(t, backend.lastProcess().stdinR.Close())
	err = s.SendInput("1")
	require.ErrorIs(t, err, execution.ErrBrokenChannel)
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(spin)
	engine := newTestEngine(t, backend, Config{})
	s, err := engine.Open(context.Background(), resolve(t, "python"), "", 0)
	require.NoError(t, err)

	s.Stop()
	s.Stop()

	proc := backend.lastProcess()
	require.Equal(t, int32(1), proc.releases.Load())
	require.Equal(t, int32(1), proc.kills.Load())
	require.Equal(t, execution.StateCompleted, s.State())

	res := s.Result()
	require.NotNil(t, res)
	require.False(t, res.Success)
	require.Equal(t, stoppedMessage, res.Message)
	requireRemoved(t, backend.starts[0].Workspace)
}

func TestLateDeadlineIsNoop(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(hello)
	engine := newTestEngine(t, backend, Config{})
	s, err := engine.Open(context.Background(), resolve(t, "python"), "", 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, s.CloseInput())

	res, err := s.Await(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, res.Success)

	time.Sleep(100 * time.Millisecond)
	s.expire()
	s.finalize(execution.StateTimedOut)

	proc := backend.lastProcess()
	require.Equal(t, execution.StateCompleted, s.State())
	require.Equal(t, int32(0), proc.kills.Load())
	require.Equal(t, int32(1), proc.releases.Load())
}

func TestAwaitTimeoutKillsProgram(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeBackend(spin), Config{})
	s, err := engine.Open(context.Background(), resolve(t, "python"), "", 0)
	require.NoError(t, err)

	res, err := s.Await(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, execution.KindTimeout, res.Kind)
	require.Equal(t, execution.StateTimedOut, s.State())
}

func TestAwaitHonoursContext(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newFakeBackend(spin), Config{})
	s, err := engine.Open(context.Background(), resolve(t, "python"), "", 0)
	require.NoError(t, err)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Await(ctx, 0)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, execution.StateRunning, s.State())
}

func TestOutputCapTruncates(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(func(pio programIO) int {
		for i := 0; i < 1000; i++ {
			fmt.Fprintln(pio.Stdout, "0123456789")
		}
		return 0
	})
	engine := newTestEngine(t, backend, Config{MaxOutputBytes: 64})

	res, err := engine.RunBatch(context.Background(), resolve(t, "python"), "", "", 0)
	require.NoError(t, err)
	require.True(t, res.Truncated)
	require.LessOrEqual(t, len(res.Stdout), 64)
}

func TestConcurrentSessionsUseDistinctWorkspaces(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(spin)
	engine := newTestEngine(t, backend, Config{})

	a, err := engine.Open(context.Background(), resolve(t, "python"), "a", 0)
	require.NoError(t, err)
	b, err := engine.Open(context.Background(), resolve(t, "python"), "b", 0)
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())

	wsA, wsB := backend.starts[0].Workspace, backend.starts[1].Workspace
	require.NotEqual(t, wsA, wsB)

	a.Stop()
	requireRemoved(t, wsA)
	_, err = os.Stat(wsB)
	require.NoError(t, err)

	b.Stop()
	requireRemoved(t, wsB)
}
