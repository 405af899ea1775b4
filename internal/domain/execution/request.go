package execution

import (
	"strings"
	"time"
)

// Request is a single submission: source code plus optional batch stdin.
type Request struct {
	Language string
	Source   string
	Stdin    string
	// Timeout overrides the default wall-clock limit when positive.
	Timeout time.Duration
}

// NormalizedStdin returns the stdin payload with a trailing newline appended
// when it is non-empty and lacks one, so line-reading programs see a complete
// last line.
func (r Request) NormalizedStdin() string {
	if r.Stdin == "" || strings.HasSuffix(r.Stdin, "\n") {
		return r.Stdin
	}
	return r.Stdin + "\n"
}

// Job is a unit of work handed to the executor by a producer: either a plain
// request or a request evaluated against a lab exercise.
type Job struct {
	ID       string
	Request  Request
	Exercise *LabExercise
}

// Report captures the outcome of executing a Job.
type Report struct {
	Job      Job
	Result   *Result
	Exercise *ExerciseReport
	Err      error
}
