//go:build windows

package orchestrator

import osexec "os/exec"

func setProcessGroup(cmd *osexec.Cmd) {}

func killProcessGroup(cmd *osexec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
