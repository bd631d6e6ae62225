//go:build windows

package shell

import (
	"errors"
	"os/exec"
)

var errConPTYUnavailable = errors.New("shell: conpty support not implemented")

func startPty(*exec.Cmd) (Pty, error) {
	return nil, errConPTYUnavailable
}

func shellCommand(line string) (string, []string) {
	return "cmd.exe", []string{"/C", line}
}

func terminate(cmd *exec.Cmd) {
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func kill(cmd *exec.Cmd) {
	terminate(cmd)
}
