package svcwrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/axondata/go-svcwrap/internal/proc"
)

// ExitInfo describes how a worker process ended
type ExitInfo struct {
	// Code is the exit code, -1 when unknown or killed by a signal
	Code int
	// Err is the error returned by the wait, if any
	Err error
	// Time is when the exit was observed
	Time time.Time
}

// ProcessHandle tracks one live worker process
type ProcessHandle struct {
	// PID is the worker process id
	PID int
	// Started is when the process was created
	Started time.Time
	// Owner is the run id of the supervisor run that owns the handle
	Owner string

	process *os.Process
	done    chan struct{}
	once    sync.Once
	exit    ExitInfo
}

// NewProcessHandle creates a handle for a process started outside
// ProcessLauncher. Call MarkExited once the process is reaped.
func NewProcessHandle(pid int, owner string) *ProcessHandle {
	return &ProcessHandle{
		PID:     pid,
		Started: time.Now(),
		Owner:   owner,
		done:    make(chan struct{}),
	}
}

// MarkExited records the exit and releases every waiter. Only the first call
// has an effect.
func (h *ProcessHandle) MarkExited(info ExitInfo) {
	h.once.Do(func() {
		if info.Time.IsZero() {
			info.Time = time.Now()
		}
		h.exit = info
		close(h.done)
	})
}

// Done is closed once the process has exited and been reaped
func (h *ProcessHandle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process has exited
func (h *ProcessHandle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits or ctx is cancelled
func (h *ProcessHandle) Wait(ctx context.Context) (ExitInfo, error) {
	select {
	case <-h.done:
		return h.exit, nil
	case <-ctx.Done():
		return ExitInfo{Code: -1}, ctx.Err()
	}
}

// Launcher starts and stops the supervised worker
type Launcher interface {
	// Launch starts the worker and returns its handle
	Launch(ctx context.Context, owner string) (*ProcessHandle, error)
	// Interrupt asks the worker to exit
	Interrupt(h *ProcessHandle) error
	// Terminate force-kills the worker. An already exited worker is not an error.
	Terminate(h *ProcessHandle) error
}

// ProcessLauncher runs the worker binary from the installation directory
type ProcessLauncher struct {
	// Worker is the launch contract
	Worker WorkerSpec
	// Paths supplies the install, log and config directories
	Paths Paths
	// Stdout receives the worker's standard output, nil discards it
	Stdout io.Writer
	// Stderr receives the worker's standard error, nil discards it
	Stderr io.Writer
}

// NewProcessLauncher creates a launcher for the configured worker
func NewProcessLauncher(cfg Config) *ProcessLauncher {
	return &ProcessLauncher{
		Worker: cfg.Worker,
		Paths:  cfg.Paths,
	}
}

// ExecutablePath resolves the worker binary inside the install directory.
// The search path is never consulted.
func (l *ProcessLauncher) ExecutablePath() string {
	name := l.Worker.Binary
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		name += ".exe"
	}
	return filepath.Join(l.Paths.InstallDir, name)
}

// Environ returns the worker environment: the current environment extended
// with the fixed service keys and any extra keys
func (l *ProcessLauncher) Environ() []string {
	env := append(os.Environ(),
		fmt.Sprintf("%s=true", l.Worker.EnvKey(EnvServiceMode)),
		fmt.Sprintf("%s=%s", l.Worker.EnvKey(EnvLogPath), l.Paths.LogDir),
		fmt.Sprintf("%s=%s", l.Worker.EnvKey(EnvConfigPath), l.Paths.ConfigDir),
	)
	for key, value := range l.Worker.ExtraEnv {
		env = append(env, fmt.Sprintf("%s=%s", l.Worker.EnvKey(key), value))
	}
	return env
}

// Launch starts the worker. The context only bounds the start itself; the
// worker outlives it and is stopped through Interrupt and Terminate.
func (l *ProcessLauncher) Launch(ctx context.Context, owner string) (*ProcessHandle, error) {
	path := l.ExecutablePath()

	if err := ctx.Err(); err != nil {
		return nil, &LaunchError{Path: path, Reason: "launch cancelled", Err: err}
	}

	info, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		return nil, &LaunchError{Path: path, Reason: "executable not found", Err: err}
	case err != nil:
		return nil, &LaunchError{Path: path, Reason: "cannot stat executable", Err: err}
	case !info.Mode().IsRegular():
		return nil, &LaunchError{Path: path, Reason: "not a regular file"}
	case runtime.GOOS != "windows" && info.Mode().Perm()&execBits == 0:
		return nil, &LaunchError{Path: path, Reason: "not executable"}
	}

	var args []string
	if l.Worker.Flag != "" {
		args = append(args, l.Worker.Flag)
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = l.Paths.InstallDir
	cmd.Env = l.Environ()
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr
	proc.Detach(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Path: path, Reason: "failed to start process", Err: err}
	}

	h := NewProcessHandle(cmd.Process.Pid, owner)
	h.process = cmd.Process

	// Reap on a dedicated goroutine so neither the command loop nor the
	// health monitor ever blocks on the child.
	go func() {
		err := cmd.Wait()
		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		h.MarkExited(ExitInfo{Code: code, Err: err})
	}()

	return h, nil
}

// Interrupt asks the worker to exit gracefully
func (l *ProcessLauncher) Interrupt(h *ProcessHandle) error {
	if h == nil || h.process == nil || h.Exited() {
		return nil
	}
	if err := proc.Interrupt(h.process); err != nil && !proc.IsDone(err) {
		return fmt.Errorf("interrupting worker %d: %w", h.PID, err)
	}
	return nil
}

// Terminate force-kills the worker. Exit races are expected and not an error.
func (l *ProcessLauncher) Terminate(h *ProcessHandle) error {
	if h == nil || h.process == nil || h.Exited() {
		return nil
	}
	if err := proc.Kill(h.process); err != nil && !proc.IsDone(err) {
		return fmt.Errorf("killing worker %d: %w", h.PID, err)
	}
	return nil
}
