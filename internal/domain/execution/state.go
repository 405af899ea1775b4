package execution

// State is the lifecycle position of an execution session.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateTimedOut
	StateCompileFailed
	StateLaunchFailed
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateTimedOut, StateCompileFailed, StateLaunchFailed:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateTimedOut:
		return "timed_out"
	case StateCompileFailed:
		return "compile_failed"
	case StateLaunchFailed:
		return "launch_failed"
	default:
		return "unknown"
	}
}
