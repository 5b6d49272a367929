package svcwrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
)

// Controller performs the out-of-process administrative operations against
// the host service registry. It shares the descriptor with the supervisor
// through Config.
type Controller struct {
	// Host is the platform service manager
	Host ServiceHost
	// Config is the injected configuration
	Config Config
	// OnInstall runs after a successful registration, for example to write a
	// default configuration file. Its failure is logged, not returned.
	OnInstall func(Config) error
	// RestartPause separates the stop and start halves of Restart
	RestartPause time.Duration

	logger *zap.Logger
}

// NewController creates a controller
func NewController(host ServiceHost, cfg Config, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		Host:         host,
		Config:       cfg,
		RestartPause: DefaultRestartPause,
		logger:       logger.With(zap.String("service", cfg.Descriptor.Name)),
	}
}

func (c *Controller) name() string {
	return c.Config.Descriptor.Name
}

// Install registers the service. A second install of the same name fails
// with ErrAlreadyInstalled.
func (c *Controller) Install(ctx context.Context) error {
	if err := c.Host.Install(ctx, c.Config.Descriptor); err != nil {
		return err
	}

	if err := c.Config.Paths.EnsureDirs(); err != nil {
		c.logger.Warn("failed to create directories", zap.Error(err))
	}
	if c.OnInstall != nil {
		if err := c.OnInstall(c.Config); err != nil {
			c.logger.Warn("post-install step failed", zap.Error(err))
		}
	}

	c.logger.Info("service installed",
		zap.String("display_name", c.Config.Descriptor.DisplayName),
		zap.Stringer("start_type", c.Config.Descriptor.StartType))
	return nil
}

// Remove stops the service if needed and unregisters it. Removing a service
// that is not installed fails with ErrNotInstalled.
func (c *Controller) Remove(ctx context.Context) error {
	r, err := c.Host.Query(ctx, c.name())
	if err != nil {
		return err
	}

	var stopErr error
	if r.State != StateStopped {
		c.logger.Info("stopping service before removal", zap.Stringer("state", r.State))
		if stopErr = c.Stop(ctx); stopErr != nil {
			c.logger.Warn("failed to stop service before removal", zap.Error(stopErr))
		}
	}

	if err := c.Host.Remove(ctx, c.name()); err != nil {
		var errs MultiError
		errs.Add(stopErr)
		errs.Add(err)
		return errs.Err()
	}

	c.logger.Info("service removed")
	return nil
}

// Start asks the host to start the service
func (c *Controller) Start(ctx context.Context) error {
	if err := c.Host.Start(ctx, c.name()); err != nil {
		return err
	}
	c.logger.Info("service start requested")
	return nil
}

// Stop asks the host to stop the service and waits until it reports
// Stopped. Status is polled every PollInterval and re-read early whenever
// the supervisor rewrites its status file. After AdminStopTimeout the call
// fails with *StopTimeoutError; the service may still stop later.
func (c *Controller) Stop(ctx context.Context) error {
	r, err := c.Host.Control(ctx, c.name(), CmdStop)
	if err != nil {
		return err
	}
	if r.State == StateStopped {
		return nil
	}

	timeout := c.Config.AdminStopTimeout
	if timeout <= 0 {
		timeout = DefaultAdminStopTimeout
	}
	interval := c.Config.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	events, cleanup := c.watchStatus(ctx)
	if cleanup != nil {
		defer func() { _ = cleanup() }()
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := r.State
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &StopTimeoutError{Name: c.name(), Timeout: timeout, Last: last}
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
				continue
			}
		}

		r, err := c.Host.Query(ctx, c.name())
		if err != nil {
			return fmt.Errorf("could not retrieve service status: %w", err)
		}
		last = r.State
		if last == StateStopped {
			c.logger.Info("service stopped")
			return nil
		}
	}
}

// watchStatus subscribes to status file changes. A missing config directory
// only means there is nothing to wake on early.
func (c *Controller) watchStatus(ctx context.Context) (<-chan StatusEvent, WatchCleanupFunc) {
	if c.Config.Paths.ConfigDir == "" {
		return nil, nil
	}
	if _, err := os.Stat(c.Config.Paths.ConfigDir); err != nil {
		return nil, nil
	}
	events, cleanup, err := WatchStatusFile(ctx, c.Config.Paths.StatusFile())
	if err != nil {
		c.logger.Debug("status file watch unavailable", zap.Error(err))
		return nil, nil
	}
	return events, cleanup
}

// Restart stops the service, pauses briefly and starts it again. A failed
// stop is logged and the start is attempted anyway.
func (c *Controller) Restart(ctx context.Context) error {
	if err := c.Stop(ctx); err != nil {
		c.logger.Warn("stop failed during restart", zap.Error(err))
	}

	if c.RestartPause > 0 {
		t := time.NewTimer(c.RestartPause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return c.Start(ctx)
}

// ServiceInfo is the operator view of an installed service
type ServiceInfo struct {
	Report     StatusReport
	Descriptor ServiceDescriptor
	Paths      Paths
}

// Status reads the current report and combines it with the static
// descriptor fields and derived paths
func (c *Controller) Status(ctx context.Context) (ServiceInfo, error) {
	r, err := c.Host.Query(ctx, c.name())
	if err != nil {
		return ServiceInfo{}, err
	}
	return ServiceInfo{
		Report:     r,
		Descriptor: c.Config.Descriptor,
		Paths:      c.Config.Paths,
	}, nil
}

// Render writes the human-readable status block
func (i ServiceInfo) Render(w io.Writer) error {
	pid := "-"
	if i.Report.PID > 0 {
		pid = fmt.Sprint(i.Report.PID)
	}

	_, err := fmt.Fprintf(w, "Service Status: %s\n"+
		"  Name:         %s\n"+
		"  State:        %s\n"+
		"  Accepts:      %s\n"+
		"  Start Type:   %s\n"+
		"  Process ID:   %s\n"+
		"  Config Path:  %s\n"+
		"  Log Path:     %s\n",
		i.Descriptor.DisplayName,
		i.Descriptor.Name,
		i.Report.State,
		i.Report.Accepts,
		i.Descriptor.StartType,
		pid,
		i.Paths.ConfigDir,
		i.Paths.LogDir,
	)
	if err != nil {
		return err
	}
	if i.Report.Err != nil {
		_, err = fmt.Fprintf(w, "  Last Error:   %v\n", i.Report.Err)
	}
	return err
}
