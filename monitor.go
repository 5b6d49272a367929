package svcwrap

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// Probe reports whether a process id still resolves to a live process
type Probe func(pid int) bool

// Notifier accepts asynchronous commands, typically a *Bridge
type Notifier interface {
	Notify(ctx context.Context, cmd Command) bool
}

// HealthMonitor periodically checks that the worker is alive, independent of
// command processing. It emits at most one ProcessDied per watched handle and
// is inert once disabled.
type HealthMonitor struct {
	interval time.Duration
	probe    Probe
	notifier Notifier
	logger   *zap.Logger

	enabled atomic.Bool
	fired   atomic.Bool
}

// NewHealthMonitor creates a disabled monitor. Watch enables it.
func NewHealthMonitor(interval time.Duration, probe Probe, notifier Notifier, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		interval: interval,
		probe:    probe,
		notifier: notifier,
		logger:   logger,
	}
}

// Watch starts checking the handle's process on the stopper context. Any
// previous watch is superseded.
func (m *HealthMonitor) Watch(ctx context.Context, sctx *stopper.Context, h *ProcessHandle) {
	m.fired.Store(false)
	m.enabled.Store(true)

	sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
				if m.tick(ctx, h.PID) || !m.Enabled() {
					return nil
				}
			}
		}
		return nil
	})
}

// Disable makes every later tick inert
func (m *HealthMonitor) Disable() {
	m.enabled.Store(false)
}

// Enabled reports whether ticks still probe the worker
func (m *HealthMonitor) Enabled() bool {
	return m.enabled.Load()
}

// tick probes once and reports whether ProcessDied was emitted
func (m *HealthMonitor) tick(ctx context.Context, pid int) bool {
	if !m.Enabled() || m.probe(pid) {
		return false
	}
	if !m.fired.CompareAndSwap(false, true) {
		return false
	}
	// Re-check after claiming the shot so a concurrent Disable wins.
	if !m.Enabled() {
		return false
	}
	m.enabled.Store(false)
	m.logger.Warn("worker process not found", zap.Int("pid", pid))
	m.notifier.Notify(ctx, CmdProcessDied)
	return true
}
