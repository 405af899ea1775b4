// Package verdict assigns a categorical outcome to a finished execution.
//
// The shipped classifier is a heuristic over captured text. It is isolated
// behind Classifier so that structured diagnostics can replace it without
// touching the session engine.
package verdict

import (
	"strings"

	"tutorexec/internal/domain/execution"
)

// Outcome is everything known about an execution once it has ended.
type Outcome struct {
	State     execution.State
	ExitCode  int
	Stdout    string
	Stderr    string
	HadStdin  bool
	OOMKilled bool
}

type Classifier interface {
	Classify(Outcome) execution.Kind
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(Outcome) execution.Kind

func (f ClassifierFunc) Classify(o Outcome) execution.Kind {
	return f(o)
}

var (
	// Matched case-insensitively against stderr.
	compileSignatures = []string{"error:", "undefined", "expected"}

	// A runtime trace means the program was running; compile signatures
	// inside it (e.g. "EOFError:") are not build failures.
	traceSignatures = []string{
		"Traceback (most recent call last)",
		"Exception in thread",
	}

	starvationExact = []string{"EOF", "NoSuchElementException"}
	starvationFold  = []string{"end of file", "unexpected end of input"}
)

// Heuristic is the substring based classifier. Misclassification on unusual
// output is an accepted limitation.
type Heuristic struct{}

func (Heuristic) Classify(o Outcome) execution.Kind {
	switch o.State {
	case execution.StateTimedOut:
		return execution.KindTimeout
	case execution.StateCompileFailed:
		return execution.KindCompileError
	case execution.StateLaunchFailed:
		return execution.KindLaunchFailed
	}

	if o.OOMKilled {
		return execution.KindRuntimeError
	}

	stderr := strings.TrimSpace(o.Stderr)
	if o.ExitCode == 0 && stderr == "" {
		return execution.KindSuccess
	}

	if stderr != "" && !containsAny(stderr, traceSignatures) && containsFold(stderr, compileSignatures) {
		return execution.KindCompileError
	}

	if !o.HadStdin && starved(o.Stdout, stderr) {
		return execution.KindInputStarvation
	}

	if o.ExitCode != 0 {
		return execution.KindRuntimeError
	}

	// Exit 0 with warnings or diagnostics on stderr.
	return execution.KindSuccess
}

func starved(stdout, stderr string) bool {
	for _, text := range []string{stderr, stdout} {
		if containsAny(text, starvationExact) || containsFold(text, starvationFold) {
			return true
		}
	}
	return false
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}

func containsFold(text string, needles []string) bool {
	lower := strings.ToLower(text)
	for _, needle := range needles {
		if strings.Contains(lower, needle) {
			return true
		}
	}
	return false
}
