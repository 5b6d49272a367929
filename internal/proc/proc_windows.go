//go:build windows

// Package proc provides platform-specific process probing and signalling.
package proc

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code GetExitCodeProcess reports for a live process
const stillActive = 259

// Alive reports whether a process with the given pid exists and has not exited
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		// Access denied still proves the process exists.
		return errors.Is(err, windows.ERROR_ACCESS_DENIED)
	}
	defer func() { _ = windows.CloseHandle(h) }()

	var code uint32
	if err := windows.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

// Detach starts the child in a new process group so console control events
// aimed at the supervisor do not reach it
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// Interrupt asks the process to exit. Windows has no graceful signal for
// detached processes, so this terminates it.
func Interrupt(p *os.Process) error {
	return p.Kill()
}

// Kill force-terminates the process
func Kill(p *os.Process) error {
	return p.Kill()
}

// IsDone reports whether err only says the process already exited
func IsDone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
