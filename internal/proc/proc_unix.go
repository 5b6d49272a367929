//go:build !windows

// Package proc provides platform-specific process probing and signalling.
package proc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Alive reports whether a process with the given pid exists. A process owned
// by another user still counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Detach puts the child in its own process group so terminal signals aimed
// at the supervisor do not reach it directly
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Interrupt asks the process to exit
func Interrupt(p *os.Process) error {
	return p.Signal(unix.SIGTERM)
}

// Kill force-terminates the process and the process group it leads
func Kill(p *os.Process) error {
	// Negative pid addresses the whole group.
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err == nil {
		return nil
	}
	return p.Kill()
}

// IsDone reports whether err only says the process already exited
func IsDone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, unix.ESRCH)
}
