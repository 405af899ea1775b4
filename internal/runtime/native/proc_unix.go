//go:build unix

package native

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// configureCommand puts the program in its own process group so a kill
// reaches anything it spawned.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killTree(proc *os.Process) error {
	if proc == nil {
		return nil
	}
	return killGroup(proc.Pid)
}

// killGroup signals every member of the group led by pgid. The id stays
// valid while any member is alive, even after the leader was reaped.
func killGroup(pgid int) error {
	if pgid <= 0 {
		return nil
	}
	err := syscall.Kill(-pgid, syscall.SIGKILL)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

// exitCode reports 128+signal for signalled programs, matching shells.
func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
