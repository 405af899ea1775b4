package execution

// TestCase describes a single stdin/stdout expectation pair for an exercise.
type TestCase struct {
	Input          string
	ExpectedOutput string
	Description    string
}

// LabExercise is an ordered set of test cases a submission is graded against.
type LabExercise struct {
	ID          string
	Title       string
	Description string
	Tests       []TestCase
}

// Verdict is the per-case outcome produced by the test comparator.
type Verdict string

const (
	VerdictPass         Verdict = "PASS"
	VerdictCompileError Verdict = "COMPILE_ERROR"
	VerdictRuntimeError Verdict = "RUNTIME_ERROR"
	VerdictLogicalError Verdict = "LOGICAL_ERROR"
	VerdictTimeout      Verdict = "TIMEOUT"
)

// CaseResult captures the outcome of executing a single TestCase.
type CaseResult struct {
	Index          int
	Case           TestCase
	Verdict        Verdict
	ActualOutput   string
	ExpectedOutput string
	Stderr         string
	ExitCode       int
	Kind           Kind
	Message        string
}

// ExerciseReport aggregates the per-case results of one exercise run.
type ExerciseReport struct {
	ExerciseID string
	Total      int
	Passed     int
	Failed     int
	Results    []CaseResult
}
