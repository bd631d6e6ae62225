// Package shell runs configured command lines as tasks under a pseudo
// terminal, so tools keep their interactive colored output.
package shell

import (
	"io"
	"os/exec"
)

type Pty interface {
	io.ReadWriteCloser
	Resize(cols, rows uint16) error
}

// Starter launches a prepared command attached to a pty.
type Starter interface {
	Start(cmd *exec.Cmd) (Pty, error)
}

type defaultStarter struct{}

func (defaultStarter) Start(cmd *exec.Cmd) (Pty, error) {
	return startPty(cmd)
}

func DefaultStarter() Starter {
	return defaultStarter{}
}
