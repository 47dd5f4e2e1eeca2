//go:build !unix

package session

import (
	"os"
	"os/exec"
)

func configureProcAttr(cmd *exec.Cmd) {}

func killProcess(p *os.Process) error {
	return p.Kill()
}
