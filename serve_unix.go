//go:build !windows

package svcwrap

import (
	"context"
	"os"
	"os/signal"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// signalCommands maps host signals onto lifecycle commands
var signalCommands = map[os.Signal]Command{
	unix.SIGTERM: CmdStop,
	unix.SIGINT:  CmdShutdown,
	unix.SIGUSR1: CmdPause,
	unix.SIGUSR2: CmdContinue,
	unix.SIGHUP:  CmdInterrogate,
}

// Serve runs the supervisor under a signal-driven host such as systemd.
// Signals are translated into commands; the call returns when the run
// reaches Stopped, with the run's failure if any.
func Serve(ctx context.Context, sup *Supervisor) error {
	sigs := make(chan os.Signal, 4)
	for sig := range signalCommands {
		signal.Notify(sigs, sig)
	}
	defer signal.Stop(sigs)

	errc := make(chan error, 1)
	go func() {
		errc <- sup.Run(ctx)
	}()

	for {
		select {
		case err := <-errc:
			return err

		case sig := <-sigs:
			cmd := signalCommands[sig]
			r, err := sup.Send(ctx, cmd)
			if err != nil {
				sup.logger.Warn("command not delivered", zap.Stringer("signal", sig), zap.Error(err))
				continue
			}
			sup.logger.Info("host command",
				zap.Stringer("signal", sig),
				zap.Stringer("command", cmd),
				zap.Stringer("state", r.State),
				zap.Int("pid", r.PID))
		}
	}
}
