package svcwrap

import (
	"io/fs"
	"time"
)

// Supervisor timing defaults
const (
	// DefaultStopTimeout bounds the StopPending wait before the worker is force-killed
	DefaultStopTimeout = 30 * time.Second

	// DefaultHealthInterval is the period of the worker liveness probe
	DefaultHealthInterval = 1 * time.Second

	// DefaultStartGrace is how long a freshly launched worker must survive
	// before the service reports Running
	DefaultStartGrace = 2 * time.Second

	// DefaultAdminStopTimeout is how long an administrative stop waits for
	// the host to report Stopped
	DefaultAdminStopTimeout = 30 * time.Second

	// DefaultPollInterval is the status polling period of administrative waits
	DefaultPollInterval = 300 * time.Millisecond

	// DefaultRestartPause separates the stop and start halves of a restart
	DefaultRestartPause = 2 * time.Second

	// DefaultStopGrace is how long a finished run waits for its helper
	// goroutines to drain
	DefaultStopGrace = 100 * time.Millisecond
)

// Worker contract defaults
const (
	// DefaultWorkerBinary is the worker executable name inside the install directory
	DefaultWorkerBinary = "cwsd"

	// DefaultWorkerFlag is the single flag that puts the worker in service mode
	DefaultWorkerFlag = "--service"

	// DefaultEnvPrefix prefixes the fixed worker environment keys
	DefaultEnvPrefix = "CWS"

	// EnvServiceMode is the env key suffix carrying the service-mode boolean
	EnvServiceMode = "SERVICE_MODE"

	// EnvLogPath is the env key suffix carrying the log directory
	EnvLogPath = "LOG_PATH"

	// EnvConfigPath is the env key suffix carrying the config directory
	EnvConfigPath = "CONFIG_PATH"
)

// Descriptor defaults
const (
	// DefaultServiceName is the registry name of the service
	DefaultServiceName = "CloudWorkstationDaemon"

	// DefaultDisplayName is the human-readable service name
	DefaultDisplayName = "CloudWorkstation Daemon"

	// DefaultDescription is the registry description of the service
	DefaultDescription = "Enterprise research management platform daemon for launching cloud research environments"

	// DefaultDirName names the per-installation config and log directories
	DefaultDirName = "CloudWorkstation"

	// StatusFileName is the status snapshot written into the config directory
	StatusFileName = "supervisor.status.json"
)

// Recovery defaults applied by service hosts that support restart-on-failure
const (
	// DefaultRecoveryRestarts is the number of restart actions registered
	DefaultRecoveryRestarts = 3

	// DefaultRecoveryDelay is the delay before each restart action
	DefaultRecoveryDelay = 5 * time.Second

	// DefaultRecoveryReset is the failure-count reset period
	DefaultRecoveryReset = 24 * time.Hour
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created files
	FileMode = 0o644

	// ExecMode is the default mode for executable files
	ExecMode = 0o755
)

// execBits is the set of permission bits that make a file runnable
const execBits fs.FileMode = 0o111
