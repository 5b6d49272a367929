package svcwrap

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"vawter.tech/stopper"

	"github.com/axondata/go-svcwrap/internal/proc"
)

// ErrAlreadyRun is returned when Run is called twice on one Supervisor.
// A fresh run needs a fresh Supervisor.
var ErrAlreadyRun = errors.New("svcwrap: supervisor already ran")

// StatusSink receives every published StatusReport. Sinks are called on the
// command loop and must not block for long.
type StatusSink interface {
	PublishStatus(r StatusReport) error
}

// StatusSinkFunc adapts a function to StatusSink
type StatusSinkFunc func(r StatusReport) error

// PublishStatus calls f(r)
func (f StatusSinkFunc) PublishStatus(r StatusReport) error {
	return f(r)
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithLogger sets the structured logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLauncher replaces the default ProcessLauncher
func WithLauncher(l Launcher) Option {
	return func(s *Supervisor) {
		s.launcher = l
	}
}

// WithProbe replaces the liveness probe of the health monitor
func WithProbe(p Probe) Option {
	return func(s *Supervisor) {
		s.probe = p
	}
}

// WithStatusSink adds sinks that receive every published report
func WithStatusSink(sinks ...StatusSink) Option {
	return func(s *Supervisor) {
		s.sinks = append(s.sinks, sinks...)
	}
}

// WithRunID overrides the generated run id
func WithRunID(id string) Option {
	return func(s *Supervisor) {
		s.runID = id
	}
}

// Supervisor runs one supervised lifetime of the worker. Its command loop is
// the only writer of the lifecycle state; everything else talks to it
// through the Bridge.
type Supervisor struct {
	cfg      Config
	logger   *zap.Logger
	launcher Launcher
	probe    Probe
	sinks    []StatusSink
	bridge   *Bridge
	runID    string
	started  atomic.Bool

	// owned by the command loop
	state     State
	handle    *ProcessHandle
	stopping  *ProcessHandle
	runErr    error
	monitor   *HealthMonitor
	stopTimer *time.Timer
	log       *zap.Logger
}

// New creates a Supervisor for the configuration
func New(cfg Config, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		logger: zap.NewNop(),
		probe:  proc.Alive,
		bridge: NewBridge(DefaultBridgeBuffer),
		runID:  uuid.NewString(),
		state:  StateStartPending,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.launcher == nil {
		s.launcher = NewProcessLauncher(cfg)
	}
	if s.cfg.StopTimeout <= 0 {
		s.cfg.StopTimeout = DefaultStopTimeout
	}
	if s.cfg.HealthInterval <= 0 {
		s.cfg.HealthInterval = DefaultHealthInterval
	}
	if s.cfg.StartGrace < 0 {
		s.cfg.StartGrace = 0
	}
	return s
}

// addSink registers a sink before Run starts
func (s *Supervisor) addSink(sink StatusSink) {
	s.sinks = append(s.sinks, sink)
}

// Bridge returns the inbound command channel of the run
func (s *Supervisor) Bridge() *Bridge {
	return s.bridge
}

// Send delivers a host command and returns the resulting report
func (s *Supervisor) Send(ctx context.Context, cmd Command) (StatusReport, error) {
	return s.bridge.Send(ctx, cmd)
}

// Status returns the last published report without touching the loop
func (s *Supervisor) Status() StatusReport {
	return s.bridge.Last()
}

// RunID identifies this supervised run
func (s *Supervisor) RunID() string {
	return s.runID
}

// Config returns the configuration the supervisor was built with
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Run launches the worker and serves commands until the run reaches Stopped.
// Cancelling ctx is treated as Shutdown. The returned error is the failure
// recorded for the run: a *LaunchError, an *UnexpectedTermination, or nil
// after a requested stop.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}

	s.log = s.logger.With(
		zap.String("service", s.cfg.Descriptor.Name),
		zap.String("run_id", s.runID),
	)

	// Helpers must outlive ctx: the worker is still stopped gracefully
	// after a cancellation.
	runCtx := context.WithoutCancel(ctx)
	sctx := stopper.WithContext(runCtx)
	defer func() {
		sctx.Stop(DefaultStopGrace)
		_ = sctx.Wait()
	}()
	defer s.bridge.Close()

	s.publish()

	if err := s.cfg.Paths.EnsureDirs(); err != nil {
		s.log.Warn("directory layout unavailable",
			zap.Error(&CommunicationError{Sink: "directories", Err: err}))
	}

	h, err := s.launcher.Launch(ctx, s.runID)
	if err != nil {
		s.runErr = err
		s.state = StateStopped
		s.log.Error("failed to launch worker", zap.Error(err))
		s.publish()
		return err
	}
	s.handle = h
	s.log.Info("worker started", zap.Int("pid", h.PID))

	sctx.Go(func(sctx *stopper.Context) error {
		select {
		case <-h.Done():
			s.bridge.Notify(runCtx, CmdProcessDied)
		case <-sctx.Stopping():
		}
		return nil
	})

	s.monitor = NewHealthMonitor(s.cfg.HealthInterval, s.probe, s.bridge, s.log)
	s.monitor.Watch(runCtx, sctx, h)
	defer s.monitor.Disable()

	grace := time.NewTimer(s.cfg.StartGrace)
	defer grace.Stop()
	graceC := grace.C
	ctxDone := ctx.Done()

	for s.state != StateStopped {
		var stopC <-chan time.Time
		if s.stopTimer != nil {
			stopC = s.stopTimer.C
		}

		select {
		case <-graceC:
			graceC = nil
			if s.state == StateStartPending {
				s.state = StateRunning
				s.log.Info("worker running", zap.Int("pid", h.PID))
				s.publish()
			}

		case <-ctxDone:
			ctxDone = nil
			s.log.Info("context cancelled, shutting down")
			s.apply(CmdShutdown)

		case req := <-s.bridge.requests:
			r := s.apply(req.cmd)
			if req.reply != nil {
				req.reply <- r
			}

		case <-stopC:
			s.forceStop()
		}
	}

	if s.stopTimer != nil {
		s.stopTimer.Stop()
	}
	s.log.Info("supervisor stopped", zap.Error(s.runErr))
	return s.runErr
}

// apply runs one command through the transition function and performs its
// side effects. Every command yields a report.
func (s *Supervisor) apply(cmd Command) StatusReport {
	t := Apply(s.state, cmd)

	switch t.Effect {
	case EffectBeginStop:
		s.monitor.Disable()
		s.stopping, s.handle = s.handle, nil
		s.state = t.To
		s.log.Info("stopping worker", zap.Stringer("command", cmd), zap.Int("pid", s.stopping.PID))
		r := s.publish()
		if err := s.launcher.Interrupt(s.stopping); err != nil {
			s.log.Warn("failed to interrupt worker", zap.Error(err))
		}
		s.stopTimer = time.NewTimer(s.cfg.StopTimeout)
		return r

	case EffectFailed:
		s.monitor.Disable()
		// The probe can observe the death just before the reaper records it.
		exit := ExitInfo{Code: -1}
		select {
		case <-s.handle.Done():
			exit = s.handle.exit
		case <-time.After(DefaultStopGrace):
		}
		s.runErr = &UnexpectedTermination{PID: s.handle.PID, Exit: exit}
		s.log.Error("worker terminated unexpectedly",
			zap.Stringer("state", t.From), zap.Error(s.runErr))
		s.handle = nil
		s.state = t.To

	case EffectExited:
		s.stopTimer.Stop()
		s.log.Info("worker exited", zap.Int("pid", s.stopping.PID))
		s.stopping = nil
		s.state = t.To

	default:
		if t.Changed() {
			s.log.Info("state changed", zap.Stringer("from", t.From), zap.Stringer("to", t.To))
		}
		s.state = t.To
	}

	return s.publish()
}

// forceStop is the one-shot escalation after the stop bound elapsed. A failed
// kill is logged and the run still reaches Stopped.
func (s *Supervisor) forceStop() {
	s.log.Warn("worker did not exit in time, forcing termination",
		zap.Int("pid", s.stopping.PID), zap.Duration("timeout", s.cfg.StopTimeout))
	if err := s.launcher.Terminate(s.stopping); err != nil {
		s.log.Error("forced termination failed", zap.Int("pid", s.stopping.PID), zap.Error(err))
	}
	s.stopping = nil
	s.stopTimer = nil
	s.state = StateStopped
	s.publish()
}

// publish builds the report for the current state and hands it to every sink.
// Sink failures never block lifecycle progress.
func (s *Supervisor) publish() StatusReport {
	pid := 0
	if s.handle != nil {
		pid = s.handle.PID
	}
	r := NewStatusReport(s.state, pid)
	r.Err = s.runErr
	s.bridge.Publish(r)

	for _, sink := range s.sinks {
		if err := sink.PublishStatus(r); err != nil {
			s.log.Warn("status sink failed", zap.Error(&CommunicationError{Sink: "status", Err: err}))
		}
	}
	return r
}
