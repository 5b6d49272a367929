package svcwrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StartType controls whether the host starts the service at boot
type StartType int

const (
	// StartAutomatic starts the service at boot
	StartAutomatic StartType = iota
	// StartManual starts the service only on request
	StartManual
)

// String returns the string representation of the start type
func (t StartType) String() string {
	switch t {
	case StartAutomatic:
		return "automatic"
	case StartManual:
		return "manual"
	default:
		return "unknown"
	}
}

// ParseStartType converts "automatic"/"manual" into a StartType
func ParseStartType(v string) (StartType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "automatic", "auto":
		return StartAutomatic, nil
	case "manual", "demand":
		return StartManual, nil
	default:
		return StartAutomatic, fmt.Errorf("unknown start type %q", v)
	}
}

// ServiceDescriptor identifies the service in the host registry. It is
// created once at install time and treated as read-only afterwards.
type ServiceDescriptor struct {
	// Name is the registry name of the service
	Name string
	// DisplayName is the human-readable name
	DisplayName string
	// Description is shown by the host's service tools
	Description string
	// StartType selects boot-time or on-demand start
	StartType StartType
	// Dependencies lists services that must start first, in order
	Dependencies []string
	// Executable is the supervisor binary the host runs; empty means the current executable
	Executable string
	// Environment is passed to the supervisor process by hosts that support it
	Environment map[string]string
}

// Validate checks the descriptor can be registered
func (d ServiceDescriptor) Validate() error {
	if d.Name == "" {
		return errors.New("service name is required")
	}
	if strings.ContainsAny(d.Name, `/\ `+"\t\n") {
		return fmt.Errorf("service name %q must not contain path separators or whitespace", d.Name)
	}
	for _, dep := range d.Dependencies {
		if dep == "" {
			return errors.New("dependency names must not be empty")
		}
	}
	return nil
}

// ExecutablePath returns the supervisor binary to register
func (d ServiceDescriptor) ExecutablePath() (string, error) {
	if d.Executable != "" {
		return filepath.Abs(d.Executable)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	return exe, nil
}

// Paths is the directory layout of one installation
type Paths struct {
	// InstallDir holds the supervisor and worker binaries
	InstallDir string
	// ConfigDir is the single configuration directory
	ConfigDir string
	// LogDir is the single log directory
	LogDir string
}

// StatusFile returns the path of the status snapshot
func (p Paths) StatusFile() string {
	return filepath.Join(p.ConfigDir, StatusFileName)
}

// EnsureDirs creates the config and log directories if absent
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.ConfigDir, p.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, DirMode); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// DefaultPaths returns the platform layout for a directory name, with the
// install directory set to the directory of the running executable
func DefaultPaths(dirName string) Paths {
	p := platformPaths(dirName)
	if exe, err := os.Executable(); err == nil {
		p.InstallDir = filepath.Dir(exe)
	}
	return p
}

// WorkerSpec is the fixed launch contract of the supervised worker
type WorkerSpec struct {
	// Binary is the executable name inside the install directory
	Binary string
	// Flag is the single argument selecting service mode
	Flag string
	// EnvPrefix prefixes the fixed environment keys
	EnvPrefix string
	// ExtraEnv adds PREFIX_KEY=value pairs after the fixed keys
	ExtraEnv map[string]string
}

// EnvKey returns the prefixed environment key for a suffix
func (w WorkerSpec) EnvKey(suffix string) string {
	if w.EnvPrefix == "" {
		return suffix
	}
	return w.EnvPrefix + "_" + suffix
}

// RecoveryPolicy is the restart-on-failure policy registered with the host
type RecoveryPolicy struct {
	// Restarts is the number of restart attempts, 0 disables recovery
	Restarts int
	// Delay is the pause before each restart
	Delay time.Duration
	// Reset is the period after which the failure count resets
	Reset time.Duration
}

// Config is the injected configuration shared by the supervisor loop and
// the administrative controller
type Config struct {
	Descriptor ServiceDescriptor
	Worker     WorkerSpec
	Paths      Paths
	Recovery   RecoveryPolicy

	// StopTimeout bounds StopPending before the worker is force-killed
	StopTimeout time.Duration
	// HealthInterval is the liveness probe period
	HealthInterval time.Duration
	// StartGrace is how long the worker must survive before Running is reported
	StartGrace time.Duration
	// AdminStopTimeout bounds an administrative stop
	AdminStopTimeout time.Duration
	// PollInterval is the administrative status polling period
	PollInterval time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		Descriptor: ServiceDescriptor{
			Name:         DefaultServiceName,
			DisplayName:  DefaultDisplayName,
			Description:  DefaultDescription,
			StartType:    StartAutomatic,
			Dependencies: platformDependencies(),
		},
		Worker: WorkerSpec{
			Binary:    DefaultWorkerBinary,
			Flag:      DefaultWorkerFlag,
			EnvPrefix: DefaultEnvPrefix,
		},
		Paths: DefaultPaths(DefaultDirName),
		Recovery: RecoveryPolicy{
			Restarts: DefaultRecoveryRestarts,
			Delay:    DefaultRecoveryDelay,
			Reset:    DefaultRecoveryReset,
		},
		StopTimeout:      DefaultStopTimeout,
		HealthInterval:   DefaultHealthInterval,
		StartGrace:       DefaultStartGrace,
		AdminStopTimeout: DefaultAdminStopTimeout,
		PollInterval:     DefaultPollInterval,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := c.Descriptor.Validate(); err != nil {
		return err
	}
	if c.Worker.Binary == "" {
		return errors.New("worker binary is required")
	}
	if strings.ContainsAny(c.Worker.Binary, `/\`) {
		return fmt.Errorf("worker binary %q must be a bare file name", c.Worker.Binary)
	}
	if c.Paths.InstallDir == "" {
		return errors.New("install directory is required")
	}
	if c.StopTimeout <= 0 {
		return errors.New("stop timeout must be positive")
	}
	if c.HealthInterval <= 0 {
		return errors.New("health interval must be positive")
	}
	if c.AdminStopTimeout <= 0 {
		return errors.New("admin stop timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	return nil
}
