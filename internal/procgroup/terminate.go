// SPDX-License-Identifier: MIT

package procgroup

import (
	"os/exec"
	"syscall"
	"time"
)

// Terminate gracefully stops a process group: SIGTERM, wait up to grace for
// the exit reported on waitCh, then SIGKILL and drain waitCh. The returned
// error is the process's Wait result. Safe on nil commands.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	_ = Kill(cmd, syscall.SIGTERM)

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		_ = Kill(cmd, syscall.SIGKILL)
		// waitCh must always be drained so the Wait goroutine can exit.
		return <-waitCh
	}
}
