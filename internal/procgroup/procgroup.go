// SPDX-License-Identifier: MIT

// Package procgroup spawns subprocesses as process group leaders and kills
// the whole group. ffmpeg forks helpers; killing only the leader would leak
// encoder processes on timeout.
package procgroup

import (
	"os/exec"
)

// Set configures cmd to start as a process group leader. Must be called
// before cmd.Start for Kill and Terminate to reach the whole group.
func Set(cmd *exec.Cmd) {
	set(cmd)
}
