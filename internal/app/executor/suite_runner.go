package executor

import (
	"context"
	"errors"
	"time"

	"tutorexec/internal/domain/execution"
	"tutorexec/internal/metrics"
	"tutorexec/internal/runtime"
)

const logicalErrorMessage = "Output does not match the expected output."

type batchRunner interface {
	RunBatch(ctx context.Context, profile runtime.Profile, source, stdin string, timeout time.Duration) (*execution.Result, error)
}

type suiteRunner struct {
	runner batchRunner
}

func newSuiteRunner(runner batchRunner) *suiteRunner {
	return &suiteRunner{runner: runner}
}

// Run executes every case as a fresh batch run. A build failure is reported
// per case since each run resubmits the source. An unavailable backend or a
// cancelled context aborts the whole exercise.
func (r *suiteRunner) Run(ctx context.Context, profile runtime.Profile, source string, exercise execution.LabExercise, timeout time.Duration) (*execution.ExerciseReport, error) {
	exec := newSuiteExecution(profile, exercise)

	for idx := range exercise.Tests {
		if err := exec.executeCase(ctx, r.runner, source, timeout, idx); err != nil {
			return nil, err
		}
	}

	return exec.finalize(), nil
}

type suiteExecution struct {
	profile  runtime.Profile
	exercise execution.LabExercise
	results  []execution.CaseResult
}

func newSuiteExecution(profile runtime.Profile, exercise execution.LabExercise) *suiteExecution {
	return &suiteExecution{
		profile:  profile,
		exercise: exercise,
		results:  make([]execution.CaseResult, len(exercise.Tests)),
	}
}

func (s *suiteExecution) executeCase(ctx context.Context, runner batchRunner, source string, timeout time.Duration, idx int) error {
	tc := s.exercise.Tests[idx]
	stdin := execution.Request{Stdin: tc.Input}.NormalizedStdin()

	res, err := runner.RunBatch(ctx, s.profile, source, stdin, timeout)
	if err != nil {
		return err
	}
	if res == nil {
		return errors.New("runner returned nil result")
	}

	verdict, message := caseVerdict(res, tc.ExpectedOutput)
	s.results[idx] = execution.CaseResult{
		Index:          idx,
		Case:           tc,
		Verdict:        verdict,
		ActualOutput:   res.Stdout,
		ExpectedOutput: tc.ExpectedOutput,
		Stderr:         res.Stderr,
		ExitCode:       res.ExitCode,
		Kind:           res.Kind,
		Message:        message,
	}
	metrics.ExerciseCases.WithLabelValues(string(s.profile.Language), string(verdict)).Inc()
	return nil
}

func (s *suiteExecution) finalize() *execution.ExerciseReport {
	report := &execution.ExerciseReport{
		ExerciseID: s.exercise.ID,
		Total:      len(s.results),
		Results:    s.results,
	}
	for _, res := range s.results {
		if res.Verdict == execution.VerdictPass {
			report.Passed++
		}
	}
	report.Failed = report.Total - report.Passed
	return report
}

func caseVerdict(res *execution.Result, expected string) (execution.Verdict, string) {
	switch res.Kind {
	case execution.KindCompileError:
		return execution.VerdictCompileError, res.Message
	case execution.KindTimeout:
		return execution.VerdictTimeout, res.Message
	case execution.KindSuccess:
		if OutputsMatch(res.Stdout, expected) {
			return execution.VerdictPass, ""
		}
		return execution.VerdictLogicalError, logicalErrorMessage
	default:
		return execution.VerdictRuntimeError, res.Message
	}
}
