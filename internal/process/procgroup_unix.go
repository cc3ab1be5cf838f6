//go:build unix

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own process group so a timeout
// kill also reaches the programs it spawned.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
