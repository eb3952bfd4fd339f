//go:build !windows

package workerpool

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes cmd the leader of a new process group so the
// supervisor can kill the whole group (algorithm code plus anything it
// spawned) in one signal,.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends sig to the worker's whole process group.
func killProcessGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, sig)
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }
