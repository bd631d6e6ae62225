//go:build !linux && !windows

package shell

import "syscall"

func setPtyDeathSignal(*syscall.SysProcAttr) {}
