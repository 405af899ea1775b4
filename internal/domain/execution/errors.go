package execution

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrLaunchFailed        = errors.New("launch failed")
	ErrCompileFailed       = errors.New("compilation failed")
	ErrStdinClosed         = errors.New("stdin closed")
	ErrBrokenChannel       = errors.New("broken channel")
	ErrSessionNotFound     = errors.New("session not found")
)

// CompileError carries the compiler's captured output for a failed build.
type CompileError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

func (e *CompileError) Error() string {
	if e.TimedOut {
		return "compilation timed out"
	}
	if e.Stderr != "" {
		return fmt.Sprintf("compilation failed with exit code %d: %s", e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("compilation failed with exit code %d", e.ExitCode)
}

// Is lets errors.Is match any CompileError against ErrCompileFailed.
func (e *CompileError) Is(target error) bool {
	return target == ErrCompileFailed
}
