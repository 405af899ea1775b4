package ports

import (
	"context"
	"io"
	"time"

	"tutorexec/internal/domain/execution"
)

// LaunchSpec describes one program invocation inside a materialized workspace.
type LaunchSpec struct {
	// Workspace is the host path of the session's workspace directory.
	Workspace string
	// Command is the argument vector; relative paths resolve inside the workspace.
	Command []string
	Limits  execution.RunLimits
	// Language selects per-language backend settings such as the sandbox image.
	Language execution.Language
}

// CompileOutput is the captured outcome of a compile step.
type CompileOutput struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
	Duration time.Duration
}

// ExitStatus is reported by Process.Wait once the program has terminated.
type ExitStatus struct {
	Code      int
	OOMKilled bool
}

// Process is a running program with live standard streams. A Process is owned
// by exactly one session.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the program exits and reports its status.
	Wait() (ExitStatus, error)
	// Kill forcibly terminates the program. Killing an exited program is not an error.
	Kill() error
	// Release frees backend resources held for the program. It is safe to call more than once.
	Release() error
}

// Backend launches compile steps and programs, isolated or not.
type Backend interface {
	Name() string
	Compile(ctx context.Context, spec LaunchSpec) (CompileOutput, error)
	Start(ctx context.Context, spec LaunchSpec) (Process, error)
	Close() error
}
