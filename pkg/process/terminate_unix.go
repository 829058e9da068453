//go:build !windows

package process

import (
	"os"
	"syscall"
)

// signalProcessGroup sends sig to the process group (negative PID) so the
// entire process tree receives it. Falls back to the process itself when
// the group is already gone.
func signalProcessGroup(proc *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-proc.Pid, sig)
	if err == syscall.ESRCH {
		err = proc.Signal(sig)
		if err == os.ErrProcessDone {
			return nil
		}
	}
	return err
}
