package svcwrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const fakePID = 1000

// fakeLauncher hands out a handle without starting a process
type fakeLauncher struct {
	mu              sync.Mutex
	launchErr       error
	terminateErr    error
	exitOnInterrupt bool
	exitOnTerminate bool
	handle          *ProcessHandle
	interrupts      int
	terminations    int
}

func (l *fakeLauncher) Launch(_ context.Context, owner string) (*ProcessHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.launchErr != nil {
		return nil, l.launchErr
	}
	l.handle = NewProcessHandle(fakePID, owner)
	return l.handle, nil
}

func (l *fakeLauncher) Interrupt(h *ProcessHandle) error {
	l.mu.Lock()
	l.interrupts++
	exit := l.exitOnInterrupt
	l.mu.Unlock()
	if exit {
		go h.MarkExited(ExitInfo{Code: 0})
	}
	return nil
}

func (l *fakeLauncher) Terminate(h *ProcessHandle) error {
	l.mu.Lock()
	l.terminations++
	exit := l.exitOnTerminate
	err := l.terminateErr
	l.mu.Unlock()
	if exit {
		h.MarkExited(ExitInfo{Code: -1})
	}
	return err
}

func (l *fakeLauncher) alive(int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handle != nil && !l.handle.Exited()
}

func (l *fakeLauncher) counts() (interrupts, terminations int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interrupts, l.terminations
}

func (l *fakeLauncher) exit(code int) {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()
	h.MarkExited(ExitInfo{Code: code})
}

// stateRecorder is a status sink remembering every published report
type stateRecorder struct {
	mu      sync.Mutex
	reports []StatusReport
}

func (r *stateRecorder) PublishStatus(rep StatusReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return nil
}

// states returns the published states with consecutive duplicates removed
func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, rep := range r.reports {
		if len(out) == 0 || out[len(out)-1] != rep.State {
			out = append(out, rep.State)
		}
	}
	return out
}

func (r *stateRecorder) all() []StatusReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StatusReport(nil), r.reports...)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths = Paths{
		InstallDir: dir,
		ConfigDir:  dir + "/config",
		LogDir:     dir + "/logs",
	}
	cfg.StartGrace = 10 * time.Millisecond
	cfg.HealthInterval = 10 * time.Millisecond
	cfg.StopTimeout = 5 * time.Second
	return cfg
}

type runResult struct {
	err     error
	elapsed time.Duration
}

func startSupervisor(t *testing.T, ctx context.Context, sup *Supervisor) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	start := time.Now()
	go func() {
		err := sup.Run(ctx)
		done <- runResult{err: err, elapsed: time.Since(start)}
	}()
	return done
}

func waitRun(t *testing.T, done <-chan runResult, within time.Duration) runResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(within):
		t.Fatalf("supervisor did not stop within %s", within)
		return runResult{}
	}
}

func waitState(t *testing.T, sup *Supervisor, s State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sup.Status().State == s
	}, 2*time.Second, 2*time.Millisecond, "never reached %s", s)
}

func newTestSupervisor(t *testing.T, cfg Config, l *fakeLauncher, rec *stateRecorder) *Supervisor {
	t.Helper()
	return New(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithLauncher(l),
		WithProbe(l.alive),
		WithStatusSink(rec),
	)
}

func TestSupervisorNormalStop(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{exitOnInterrupt: true}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	waitState(t, sup, StateRunning)

	r, err := sup.Send(context.Background(), CmdStop)
	require.NoError(t, err)
	assert.Equal(t, StateStopPending, r.State)
	assert.True(t, r.Accepts.Has(AcceptStop|AcceptShutdown))

	res := waitRun(t, done, 2*time.Second)
	require.NoError(t, res.err)
	assert.Less(t, res.elapsed, cfg.StopTimeout)

	assert.Equal(t, []State{StateStartPending, StateRunning, StateStopPending, StateStopped}, rec.states())
	interrupts, terminations := l.counts()
	assert.Equal(t, 1, interrupts)
	assert.Zero(t, terminations)
	assert.Equal(t, StateStopped, sup.Status().State)
	assert.Nil(t, sup.Status().Err)
}

func TestSupervisorStopTimeoutForcesKillOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.StopTimeout = 50 * time.Millisecond
	l := &fakeLauncher{exitOnTerminate: true}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	waitState(t, sup, StateRunning)

	_, err := sup.Send(context.Background(), CmdStop)
	require.NoError(t, err)

	res := waitRun(t, done, 2*time.Second)
	require.NoError(t, res.err)
	assert.GreaterOrEqual(t, res.elapsed, cfg.StopTimeout)

	_, terminations := l.counts()
	assert.Equal(t, 1, terminations)
	assert.Equal(t, []State{StateStartPending, StateRunning, StateStopPending, StateStopped}, rec.states())
}

func TestSupervisorFailedKillStillStops(t *testing.T) {
	cfg := testConfig(t)
	cfg.StopTimeout = 30 * time.Millisecond
	l := &fakeLauncher{terminateErr: errors.New("operation not permitted")}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	waitState(t, sup, StateRunning)

	_, err := sup.Send(context.Background(), CmdStop)
	require.NoError(t, err)

	res := waitRun(t, done, 2*time.Second)
	require.NoError(t, res.err)

	_, terminations := l.counts()
	assert.Equal(t, 1, terminations)
	assert.Equal(t, StateStopped, sup.Status().State)
}

func TestSupervisorExitDuringStopPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.StopTimeout = 10 * time.Second
	l := &fakeLauncher{}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	waitState(t, sup, StateRunning)

	_, err := sup.Send(context.Background(), CmdShutdown)
	require.NoError(t, err)
	waitState(t, sup, StateStopPending)

	l.exit(0)

	res := waitRun(t, done, time.Second)
	require.NoError(t, res.err)
	_, terminations := l.counts()
	assert.Zero(t, terminations)
}

func TestSupervisorLaunchFailure(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{launchErr: &LaunchError{Path: "/nowhere/cwsd", Reason: "executable not found"}}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	err := sup.Run(context.Background())

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, []State{StateStartPending, StateStopped}, rec.states())

	final := sup.Status()
	assert.Equal(t, StateStopped, final.State)
	assert.Zero(t, final.PID)
	assert.ErrorAs(t, final.Err, &launchErr)
	assert.Nil(t, l.handle)
}

func TestSupervisorUnexpectedTermination(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	waitState(t, sup, StateRunning)

	l.exit(3)

	res := waitRun(t, done, time.Second)
	var term *UnexpectedTermination
	require.ErrorAs(t, res.err, &term)
	assert.Equal(t, fakePID, term.PID)
	assert.Equal(t, 3, term.Exit.Code)

	assert.Equal(t, []State{StateStartPending, StateRunning, StateStopped}, rec.states())
	interrupts, terminations := l.counts()
	assert.Zero(t, interrupts)
	assert.Zero(t, terminations)
}

func TestSupervisorDeathDuringStartGrace(t *testing.T) {
	cfg := testConfig(t)
	cfg.StartGrace = time.Hour
	l := &fakeLauncher{}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	require.Eventually(t, func() bool { return l.alive(0) }, time.Second, time.Millisecond)

	l.exit(1)

	res := waitRun(t, done, time.Second)
	var term *UnexpectedTermination
	require.ErrorAs(t, res.err, &term)
	assert.Equal(t, []State{StateStartPending, StateStopped}, rec.states())
}

func TestSupervisorPauseContinue(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{exitOnInterrupt: true}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)
	ctx := context.Background()

	done := startSupervisor(t, ctx, sup)
	waitState(t, sup, StateRunning)

	steps := []struct {
		cmd  Command
		want State
	}{
		{CmdContinue, StateRunning},
		{CmdPause, StatePaused},
		{CmdPause, StatePaused},
		{CmdInterrogate, StatePaused},
		{CmdContinue, StateRunning},
		{CmdInterrogate, StateRunning},
	}
	for _, step := range steps {
		r, err := sup.Send(ctx, step.cmd)
		require.NoError(t, err)
		assert.Equal(t, step.want, r.State, "after %s", step.cmd)
		assert.Equal(t, fakePID, r.PID, "after %s", step.cmd)
	}

	_, err := sup.Send(ctx, CmdStop)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, done, time.Second).err)
}

func TestSupervisorStopPendingIgnoresCommands(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)
	ctx := context.Background()

	done := startSupervisor(t, ctx, sup)
	waitState(t, sup, StateRunning)

	_, err := sup.Send(ctx, CmdStop)
	require.NoError(t, err)

	for _, c := range []Command{CmdStop, CmdShutdown, CmdPause, CmdContinue, CmdInterrogate} {
		r, err := sup.Send(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, StateStopPending, r.State, "after %s", c)
		assert.Zero(t, r.PID)
	}

	interrupts, _ := l.counts()
	assert.Equal(t, 1, interrupts)

	l.exit(0)
	require.NoError(t, waitRun(t, done, time.Second).err)
}

func TestSupervisorStopDuringStartPending(t *testing.T) {
	cfg := testConfig(t)
	cfg.StartGrace = time.Hour
	l := &fakeLauncher{exitOnInterrupt: true}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	done := startSupervisor(t, context.Background(), sup)
	require.Eventually(t, func() bool { return l.alive(0) }, time.Second, time.Millisecond)

	r, err := sup.Send(context.Background(), CmdStop)
	require.NoError(t, err)
	assert.Equal(t, StateStopPending, r.State)

	require.NoError(t, waitRun(t, done, time.Second).err)
	assert.Equal(t, []State{StateStartPending, StateStopPending, StateStopped}, rec.states())
}

func TestSupervisorContextCancelIsShutdown(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{exitOnInterrupt: true}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)

	ctx, cancel := context.WithCancel(context.Background())
	done := startSupervisor(t, ctx, sup)
	waitState(t, sup, StateRunning)

	cancel()

	require.NoError(t, waitRun(t, done, time.Second).err)
	assert.Equal(t, []State{StateStartPending, StateRunning, StateStopPending, StateStopped}, rec.states())
	interrupts, _ := l.counts()
	assert.Equal(t, 1, interrupts)
}

func TestSupervisorReportsTrackHandle(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{exitOnInterrupt: true}
	rec := &stateRecorder{}
	sup := newTestSupervisor(t, cfg, l, rec)
	ctx := context.Background()

	done := startSupervisor(t, ctx, sup)
	waitState(t, sup, StateRunning)
	_, _ = sup.Send(ctx, CmdPause)
	_, _ = sup.Send(ctx, CmdContinue)
	_, _ = sup.Send(ctx, CmdStop)
	require.NoError(t, waitRun(t, done, time.Second).err)

	for _, r := range rec.all() {
		if r.PID != 0 {
			assert.True(t, r.State.HasProcess(), "pid %d published in %s", r.PID, r.State)
		}
		if r.State == StateRunning || r.State == StatePaused {
			assert.Equal(t, fakePID, r.PID, "no pid published in %s", r.State)
		}
		assert.Equal(t, AcceptsFor(r.State), r.Accepts)
	}
}

func TestSupervisorSinkFailureDoesNotBlock(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{exitOnInterrupt: true}
	failing := StatusSinkFunc(func(StatusReport) error { return errors.New("disk full") })
	sup := New(cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithLauncher(l),
		WithProbe(l.alive),
		WithStatusSink(failing),
	)

	done := startSupervisor(t, context.Background(), sup)
	waitState(t, sup, StateRunning)
	_, err := sup.Send(context.Background(), CmdStop)
	require.NoError(t, err)
	require.NoError(t, waitRun(t, done, time.Second).err)
}

func TestSupervisorRunOnce(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{launchErr: &LaunchError{Path: "x", Reason: "executable not found"}}
	sup := New(cfg, WithLauncher(l), WithRunID("run-1"))

	assert.Equal(t, "run-1", sup.RunID())
	require.Error(t, sup.Run(context.Background()))
	assert.ErrorIs(t, sup.Run(context.Background()), ErrAlreadyRun)

	// A finished run still answers commands with its final report.
	r, err := sup.Send(context.Background(), CmdInterrogate)
	require.NoError(t, err)
	assert.Equal(t, StateStopped, r.State)
}

func TestSupervisorCreatesDirectories(t *testing.T) {
	cfg := testConfig(t)
	l := &fakeLauncher{launchErr: &LaunchError{Path: "x", Reason: "executable not found"}}
	sup := New(cfg, WithLauncher(l))
	_ = sup.Run(context.Background())

	assert.DirExists(t, cfg.Paths.ConfigDir)
	assert.DirExists(t, cfg.Paths.LogDir)
}
