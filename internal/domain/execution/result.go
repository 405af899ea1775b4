package execution

import "time"

// Kind is the categorical verdict assigned to a finished execution.
type Kind string

const (
	KindSuccess         Kind = "success"
	KindCompileError    Kind = "compile_error"
	KindRuntimeError    Kind = "runtime_error"
	KindInputStarvation Kind = "input_starvation"
	KindTimeout         Kind = "timeout"
	KindLaunchFailed    Kind = "launch_failed"
)

// Result captures the outcome of one execution. It is built once, when the
// session reaches a terminal state, and never mutated afterwards.
type Result struct {
	Success   bool
	Stdout    string
	Stderr    string
	ExitCode  int
	Kind      Kind
	Message   string
	Duration  time.Duration
	Truncated bool
}

// ExecutionTimeMs reports the wall-clock run time in milliseconds.
func (r *Result) ExecutionTimeMs() int64 {
	return r.Duration.Milliseconds()
}

// ErrorText is the text shown to the user as the "error" part of a result:
// captured stderr, falling back to the verdict message.
func (r *Result) ErrorText() string {
	if r.Stderr != "" {
		return r.Stderr
	}
	return r.Message
}
