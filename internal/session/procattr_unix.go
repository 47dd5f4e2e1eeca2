//go:build unix

package session

import (
	"os"
	"os/exec"
	"syscall"
)

// configureProcAttr puts the child in its own process group so a terminal
// interrupt reaches only the harness, which then runs its own cleanup.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcess kills the child's whole process group, falling back to the
// child alone when the group is already gone.
func killProcess(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}
