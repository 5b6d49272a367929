//go:build windows

package svcwrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/debug"
	"golang.org/x/sys/windows/svc/eventlog"
)

// Event ids written to the Windows event log
const (
	eventInfo    = 1
	eventWarning = 2
	eventError   = 3
)

// scmHandler adapts a Supervisor to svc.Handler
type scmHandler struct {
	ctx     context.Context
	sup     *Supervisor
	reports chan StatusReport
	err     error
}

// PublishStatus keeps only the newest reports when the handler falls behind.
// It is called on the command loop and never blocks.
func (h *scmHandler) PublishStatus(r StatusReport) error {
	for {
		select {
		case h.reports <- r:
			return nil
		default:
		}
		select {
		case <-h.reports:
		default:
		}
	}
}

// Execute implements svc.Handler
func (h *scmHandler) Execute(_ []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	changes <- toSvcStatus(h.sup.Status())

	errc := make(chan error, 1)
	go func() {
		errc <- h.sup.Run(ctx)
	}()

	for {
		select {
		case rep := <-h.reports:
			changes <- toSvcStatus(rep)

		case c := <-r:
			cmd, ok := fromSvcCmd(c.Cmd)
			if !ok {
				h.sup.logger.Warn("unexpected control request", zap.Uint32("cmd", uint32(c.Cmd)))
				continue
			}
			rep, err := h.sup.Send(ctx, cmd)
			if err != nil {
				h.sup.logger.Warn("command not delivered", zap.Stringer("command", cmd), zap.Error(err))
			}
			changes <- toSvcStatus(rep)

		case err := <-errc:
			h.err = err
			changes <- toSvcStatus(h.sup.Status())
			if err != nil {
				return true, 1
			}
			return false, 0
		}
	}
}

// eventLogHook mirrors log entries into the Windows event log
func eventLogHook(elog *eventlog.Log) func(zapcore.Entry) error {
	return func(e zapcore.Entry) error {
		switch {
		case e.Level >= zapcore.ErrorLevel:
			return elog.Error(eventError, e.Message)
		case e.Level == zapcore.WarnLevel:
			return elog.Warning(eventWarning, e.Message)
		case e.Level == zapcore.InfoLevel:
			return elog.Info(eventInfo, e.Message)
		default:
			return nil
		}
	}
}

// Serve runs the supervisor under the Service Control Manager, or in a
// console debug session when not started by the SCM. It returns when the
// run reaches Stopped, with the run's failure if any.
func Serve(ctx context.Context, sup *Supervisor) error {
	name := sup.cfg.Descriptor.Name

	inService, err := svc.IsWindowsService()
	if err != nil {
		return fmt.Errorf("failed to determine if running as service: %w", err)
	}

	h := &scmHandler{
		ctx:     ctx,
		sup:     sup,
		reports: make(chan StatusReport, 8),
	}
	sup.addSink(h)

	run := debug.Run
	if inService {
		run = svc.Run
		elog, err := eventlog.Open(name)
		if err != nil {
			sup.logger.Warn("event log unavailable",
				zap.Error(&CommunicationError{Sink: "eventlog", Err: err}))
		} else {
			defer func() { _ = elog.Close() }()
			sup.logger = sup.logger.WithOptions(zap.Hooks(eventLogHook(elog)))
		}
	}

	if err := run(name, h); err != nil {
		return fmt.Errorf("service %s failed: %w", name, err)
	}
	return h.err
}
