package verdict

import "tutorexec/internal/domain/execution"

// Message returns the user facing explanation for kind.
func Message(kind execution.Kind) string {
	switch kind {
	case execution.KindSuccess:
		return "Program finished successfully."
	case execution.KindCompileError:
		return "Compilation failed. Check the compiler output for the first reported error."
	case execution.KindRuntimeError:
		return "The program crashed or exited with a non-zero status."
	case execution.KindInputStarvation:
		return "The program expected input but none was provided. Supply input through stdin and run it again."
	case execution.KindTimeout:
		return "Execution timed out. Check for infinite loops or a program waiting for input that never arrives."
	case execution.KindLaunchFailed:
		return "The execution environment is unavailable. Try again later."
	default:
		return "Execution finished with an unknown outcome."
	}
}
