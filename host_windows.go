//go:build windows

package svcwrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
	"golang.org/x/sys/windows/svc/mgr"
)

// WindowsHost registers and controls the supervisor through the Windows
// Service Control Manager
type WindowsHost struct {
	// Config supplies the recovery policy
	Config Config

	logger *zap.Logger
}

// NewWindowsHost creates an SCM adapter for the configuration
func NewWindowsHost(cfg Config) *WindowsHost {
	return &WindowsHost{Config: cfg, logger: zap.NewNop()}
}

func newWindowsHost(cfg Config, logger *zap.Logger) (ServiceHost, error) {
	h := NewWindowsHost(cfg)
	h.logger = logger
	return h, nil
}

// openService connects to the SCM and opens a service. The caller closes
// both handles through the returned func.
func openService(op Operation, name string) (*mgr.Service, func(), error) {
	m, err := mgr.Connect()
	if err != nil {
		return nil, nil, &OpError{Op: op, Name: name, Err: err}
	}
	s, err := m.OpenService(name)
	if err != nil {
		_ = m.Disconnect()
		if errors.Is(err, windows.ERROR_SERVICE_DOES_NOT_EXIST) {
			return nil, nil, &OpError{Op: op, Name: name, Err: ErrNotInstalled}
		}
		return nil, nil, &OpError{Op: op, Name: name, Err: err}
	}
	return s, func() {
		_ = s.Close()
		_ = m.Disconnect()
	}, nil
}

// Install creates the service, registers the event-log source and applies
// the recovery policy
func (h *WindowsHost) Install(_ context.Context, d ServiceDescriptor) error {
	if err := d.Validate(); err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	exe, err := d.ExecutablePath()
	if err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}

	m, err := mgr.Connect()
	if err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	defer func() { _ = m.Disconnect() }()

	if s, err := m.OpenService(d.Name); err == nil {
		_ = s.Close()
		return &OpError{Op: OpInstall, Name: d.Name, Err: ErrAlreadyInstalled}
	}

	startType := uint32(mgr.StartAutomatic)
	if d.StartType == StartManual {
		startType = mgr.StartManual
	}

	s, err := m.CreateService(d.Name, exe, mgr.Config{
		DisplayName:  d.DisplayName,
		Description:  d.Description,
		StartType:    startType,
		Dependencies: d.Dependencies,
	})
	if err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	defer func() { _ = s.Close() }()

	if err := eventlog.InstallAsEventCreate(d.Name, eventlog.Error|eventlog.Warning|eventlog.Info); err != nil {
		_ = s.Delete()
		return &OpError{Op: OpInstall, Name: d.Name, Err: fmt.Errorf("registering event log source: %w", err)}
	}

	if rec := h.Config.Recovery; rec.Restarts > 0 {
		actions := make([]mgr.RecoveryAction, rec.Restarts)
		for i := range actions {
			actions[i] = mgr.RecoveryAction{Type: mgr.ServiceRestart, Delay: rec.Delay}
		}
		if err := s.SetRecoveryActions(actions, uint32(rec.Reset/time.Second)); err != nil {
			h.logger.Warn("failed to set recovery actions", zap.String("service", d.Name), zap.Error(err))
		}
	}

	h.logger.Info("service installed", zap.String("service", d.Name), zap.String("executable", exe))
	return nil
}

// Remove deletes the service and its event-log source
func (h *WindowsHost) Remove(_ context.Context, name string) error {
	s, done, err := openService(OpRemove, name)
	if err != nil {
		return err
	}
	defer done()

	if err := s.Delete(); err != nil {
		return &OpError{Op: OpRemove, Name: name, Err: err}
	}
	if err := eventlog.Remove(name); err != nil {
		h.logger.Warn("failed to remove event log source", zap.String("service", name), zap.Error(err))
	}

	h.logger.Info("service removed", zap.String("service", name))
	return nil
}

// Start asks the SCM to start the service
func (h *WindowsHost) Start(_ context.Context, name string) error {
	s, done, err := openService(OpStart, name)
	if err != nil {
		return err
	}
	defer done()

	if err := s.Start(); err != nil {
		return &OpError{Op: OpStart, Name: name, Err: err}
	}
	return nil
}

// Control sends a command through the SCM
func (h *WindowsHost) Control(_ context.Context, name string, cmd Command) (StatusReport, error) {
	c, ok := toSvcCmd(cmd)
	if !ok {
		return StatusReport{}, &OpError{Op: OpControl, Name: name, Err: fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd)}
	}

	s, done, err := openService(OpControl, name)
	if err != nil {
		return StatusReport{}, err
	}
	defer done()

	status, err := s.Control(c)
	if err != nil {
		return StatusReport{}, &OpError{Op: OpControl, Name: name, Err: err}
	}
	return fromSvcStatus(status), nil
}

// Query reads the service status from the SCM
func (h *WindowsHost) Query(_ context.Context, name string) (StatusReport, error) {
	s, done, err := openService(OpQuery, name)
	if err != nil {
		return StatusReport{}, err
	}
	defer done()

	status, err := s.Query()
	if err != nil {
		return StatusReport{}, &OpError{Op: OpQuery, Name: name, Err: err}
	}
	return fromSvcStatus(status), nil
}

func toSvcCmd(cmd Command) (svc.Cmd, bool) {
	switch cmd {
	case CmdInterrogate:
		return svc.Interrogate, true
	case CmdStop:
		return svc.Stop, true
	case CmdShutdown:
		return svc.Shutdown, true
	case CmdPause:
		return svc.Pause, true
	case CmdContinue:
		return svc.Continue, true
	default:
		return 0, false
	}
}

func fromSvcCmd(c svc.Cmd) (Command, bool) {
	switch c {
	case svc.Interrogate:
		return CmdInterrogate, true
	case svc.Stop:
		return CmdStop, true
	case svc.Shutdown:
		return CmdShutdown, true
	case svc.Pause:
		return CmdPause, true
	case svc.Continue:
		return CmdContinue, true
	default:
		return 0, false
	}
}

func toSvcStatus(r StatusReport) svc.Status {
	st := svc.Status{ProcessId: uint32(r.PID)}
	switch r.State {
	case StateStartPending:
		st.State = svc.StartPending
	case StateRunning:
		st.State = svc.Running
	case StatePaused:
		st.State = svc.Paused
	case StateStopPending:
		st.State = svc.StopPending
	default:
		st.State = svc.Stopped
	}
	if r.Accepts.Has(AcceptStop) {
		st.Accepts |= svc.AcceptStop
	}
	if r.Accepts.Has(AcceptShutdown) {
		st.Accepts |= svc.AcceptShutdown
	}
	if r.Accepts.Has(AcceptPauseContinue) {
		st.Accepts |= svc.AcceptPauseAndContinue
	}
	return st
}

func fromSvcStatus(st svc.Status) StatusReport {
	var s State
	switch st.State {
	case svc.StartPending, svc.ContinuePending:
		s = StateStartPending
	case svc.Running:
		s = StateRunning
	case svc.Paused, svc.PausePending:
		s = StatePaused
	case svc.StopPending:
		s = StateStopPending
	default:
		s = StateStopped
	}
	r := NewStatusReport(s, int(st.ProcessId))
	r.Accepts = 0
	if st.Accepts&svc.AcceptStop != 0 {
		r.Accepts |= AcceptStop
	}
	if st.Accepts&svc.AcceptShutdown != 0 {
		r.Accepts |= AcceptShutdown
	}
	if st.Accepts&svc.AcceptPauseAndContinue != 0 {
		r.Accepts |= AcceptPauseContinue
	}
	return r
}
