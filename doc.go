// Package svcwrap runs a worker executable as an operating-system service.
//
// A Supervisor owns one supervised lifetime of the worker. It launches the
// binary from the installation directory, reports StartPending until the
// worker survives a short grace period, then Running, and serves host
// commands until the run reaches Stopped:
//
//	sup := svcwrap.New(cfg, svcwrap.WithLogger(logger))
//	err := svcwrap.Serve(ctx, sup)
//
// Host commands arrive through a Bridge and are applied one at a time by the
// supervisor's command loop, which is the only writer of the lifecycle
// state. A HealthMonitor probes the worker and reports its death once.
// A stop interrupts the worker and force-kills it if it has not exited
// within Config.StopTimeout.
//
// # Administration
//
// The Controller installs, removes, starts, stops and queries the service
// through a ServiceHost: systemd on Linux, the Service Control Manager on
// Windows.
//
//	host, err := svcwrap.NewServiceHost(svcwrap.DefaultHostType(), cfg, logger)
//	ctl := svcwrap.NewController(host, cfg, logger)
//	err = ctl.Stop(ctx)
//
// Every published StatusReport can be persisted with a StatusFile sink and
// followed out of process with WatchStatusFile.
package svcwrap
