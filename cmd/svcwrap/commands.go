package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	svcwrap "github.com/axondata/go-svcwrap"
	"github.com/axondata/go-svcwrap/internal/config"
	"github.com/axondata/go-svcwrap/internal/logging"
	"github.com/axondata/go-svcwrap/internal/statusapi"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Register the service with the host service manager",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, ctl *svcwrap.Controller, f *config.File) error {
			path := config.DefaultPath()
			ctl.OnInstall = func(svcwrap.Config) error {
				written, err := config.WriteDefault(path, f)
				if written {
					fmt.Printf("Wrote default configuration to %s\n", path)
				}
				return err
			}
			if err := ctl.Install(ctx); err != nil {
				return err
			}
			fmt.Printf("Service %s installed\n", ctl.Config.Descriptor.Name)
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop and unregister the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, ctl *svcwrap.Controller, _ *config.File) error {
			if err := ctl.Remove(ctx); err != nil {
				return err
			}
			fmt.Printf("Service %s removed\n", ctl.Config.Descriptor.Name)
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Ask the host to start the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, ctl *svcwrap.Controller, _ *config.File) error {
			if err := ctl.Start(ctx); err != nil {
				return err
			}
			fmt.Printf("Service %s start requested\n", ctl.Config.Descriptor.Name)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the service and wait until it reports stopped",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, ctl *svcwrap.Controller, _ *config.File) error {
			if err := ctl.Stop(ctx); err != nil {
				return err
			}
			fmt.Printf("Service %s stopped\n", ctl.Config.Descriptor.Name)
			return nil
		})
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop and start the service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, ctl *svcwrap.Controller, _ *config.File) error {
			if err := ctl.Restart(ctx); err != nil {
				return err
			}
			fmt.Printf("Service %s restarted\n", ctl.Config.Descriptor.Name)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the service status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withController(cmd.Context(), func(ctx context.Context, ctl *svcwrap.Controller, _ *config.File) error {
			info, err := ctl.Status(ctx)
			if err != nil {
				return err
			}
			return info.Render(cmd.OutOrStdout())
		})
	},
}

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Run the service in the foreground with console logging",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runService(cmd.Context(), true)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		lib := svcwrap.GetVersion()
		fmt.Fprintf(cmd.OutOrStdout(), "svcwrap %s (%s) library %s hosts %v %s %s/%s\n",
			Version, GitCommit, lib.Version, lib.Hosts, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

// loadConfig reads and validates the configuration file
func loadConfig() (*config.File, svcwrap.Config, error) {
	f, err := config.Load("")
	if err != nil {
		return nil, svcwrap.Config{}, err
	}
	if err := f.Validate(); err != nil {
		return nil, svcwrap.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	cfg, err := f.ServiceConfig()
	if err != nil {
		return nil, svcwrap.Config{}, err
	}
	return f, cfg, nil
}

// withController builds a console logger, the platform host and a
// controller, then runs fn
func withController(ctx context.Context, fn func(context.Context, *svcwrap.Controller, *config.File) error) error {
	f, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLog, _ := logging.New(logging.Options{Level: f.Log.Level, Console: true})
	defer closeLog()

	hostType, err := f.HostType()
	if err != nil {
		return err
	}
	host, err := svcwrap.NewServiceHost(hostType, cfg, logger)
	if err != nil {
		return err
	}

	return fn(ctx, svcwrap.NewController(host, cfg, logger), f)
}

// runService runs one supervised lifetime of the worker under the host
func runService(ctx context.Context, debug bool) error {
	f, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := f.Log.Level
	if debug {
		level = "debug"
	}
	logger, closeLog, logErr := logging.New(logging.Options{
		Level:      level,
		Dir:        cfg.Paths.LogDir,
		File:       f.Log.File,
		MaxSize:    f.Log.MaxSize,
		MaxBackups: f.Log.MaxBackups,
		MaxAge:     f.Log.MaxAge,
		Console:    f.Log.Console || debug,
	})
	defer closeLog()
	if logErr != nil {
		logger.Warn("logging degraded to console", zap.Error(logErr))
	}

	launcher := svcwrap.NewProcessLauncher(cfg)
	if f.Log.WorkerFile != "" {
		w, err := logging.RotatingWriter(cfg.Paths.LogDir, f.Log.WorkerFile, f.Log.MaxSize, f.Log.MaxBackups, f.Log.MaxAge)
		if err != nil {
			logger.Warn("worker output discarded",
				zap.Error(&svcwrap.CommunicationError{Sink: "worker log", Err: err}))
		} else {
			defer func() { _ = w.Close() }()
			launcher.Stdout = w
			launcher.Stderr = w
		}
	}

	sup := svcwrap.New(cfg,
		svcwrap.WithLogger(logger),
		svcwrap.WithLauncher(launcher),
		svcwrap.WithStatusSink(svcwrap.NewStatusFile(cfg.Paths)),
	)

	if f.Status.Listen != "" {
		apiCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if _, err := statusapi.New(f.Status.Listen, sup, logger).Start(apiCtx); err != nil {
			logger.Warn("status api disabled", zap.Error(err))
		}
	}

	logger.Info("starting supervisor",
		zap.String("version", Version),
		zap.String("service", cfg.Descriptor.Name),
		zap.String("install_dir", cfg.Paths.InstallDir),
		zap.String("config_dir", cfg.Paths.ConfigDir),
		zap.String("log_dir", cfg.Paths.LogDir),
		zap.String("run_id", sup.RunID()))

	return svcwrap.Serve(ctx, sup)
}
