//go:build !unix

package native

import (
	"errors"
	"os"
	"os/exec"
)

func configureCommand(cmd *exec.Cmd) {}

func killTree(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	err := proc.Kill()
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// killGroup is a no-op without process groups; children of a reaped
// program cannot be reached.
func killGroup(pgid int) error {
	return nil
}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
