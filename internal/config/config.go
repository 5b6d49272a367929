// Package config loads the supervisor configuration file.
//
// Loading priority (highest to lowest):
//  1. Environment variables (SVCWRAP_ prefix, dots replaced by underscores)
//  2. Configuration file
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	svcwrap "github.com/axondata/go-svcwrap"
)

// Defaults for settings that have no counterpart in svcwrap.Config
const (
	// EnvPrefix prefixes every environment override
	EnvPrefix = "SVCWRAP"
	// EnvConfigFile names the variable selecting the config file
	EnvConfigFile = "SVCWRAP_CONFIG"
	// DefaultFileName is the config file looked up beside the executable
	DefaultFileName = "svcwrap.yaml"

	DefaultLogLevel      = "info"
	DefaultLogFileName   = "supervisor.log"
	DefaultWorkerLogName = "worker.log"
	DefaultLogMaxSize    = 100 // MB
	DefaultLogMaxBackups = 3
	DefaultLogMaxAge     = 28 // days
	DefaultStatusListen  = ""
)

// File is the on-disk configuration
type File struct {
	Service    ServiceSection    `mapstructure:"service"`
	Worker     WorkerSection     `mapstructure:"worker"`
	Paths      PathsSection      `mapstructure:"paths"`
	Supervisor SupervisorSection `mapstructure:"supervisor"`
	Recovery   RecoverySection   `mapstructure:"recovery"`
	Log        LogSection        `mapstructure:"log"`
	Status     StatusSection     `mapstructure:"status"`
	// Host selects the service host adapter: auto, systemd or windows
	Host string `mapstructure:"host"`
}

// ServiceSection describes the registry entry
type ServiceSection struct {
	Name         string   `mapstructure:"name"`
	DisplayName  string   `mapstructure:"display_name"`
	Description  string   `mapstructure:"description"`
	StartType    string   `mapstructure:"start_type"`
	Dependencies []string `mapstructure:"dependencies"`
}

// WorkerSection is the worker launch contract
type WorkerSection struct {
	Binary    string            `mapstructure:"binary"`
	Flag      string            `mapstructure:"flag"`
	EnvPrefix string            `mapstructure:"env_prefix"`
	Env       map[string]string `mapstructure:"env"`
}

// PathsSection overrides the installation layout. Empty values keep the
// platform defaults.
type PathsSection struct {
	InstallDir string `mapstructure:"install_dir"`
	ConfigDir  string `mapstructure:"config_dir"`
	LogDir     string `mapstructure:"log_dir"`
}

// SupervisorSection holds the lifecycle timings
type SupervisorSection struct {
	StopTimeout      time.Duration `mapstructure:"stop_timeout"`
	HealthInterval   time.Duration `mapstructure:"health_interval"`
	StartGrace       time.Duration `mapstructure:"start_grace"`
	AdminStopTimeout time.Duration `mapstructure:"admin_stop_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

// RecoverySection is the restart-on-failure policy
type RecoverySection struct {
	Restarts int           `mapstructure:"restarts"`
	Delay    time.Duration `mapstructure:"delay"`
	Reset    time.Duration `mapstructure:"reset"`
}

// LogSection configures the supervisor log
type LogSection struct {
	// Level is debug, info, warn or error
	Level string `mapstructure:"level"`
	// File is the log file name, relative to the log directory
	File string `mapstructure:"file"`
	// WorkerFile captures the worker's stdout and stderr; empty disables it
	WorkerFile string `mapstructure:"worker_file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	// Console also writes to stderr
	Console bool `mapstructure:"console"`
}

// StatusSection configures the optional status endpoint
type StatusSection struct {
	// Listen is the address of the status API; empty disables it
	Listen string `mapstructure:"listen"`
}

// DefaultPath returns the config file location: $SVCWRAP_CONFIG, or
// svcwrap.yaml beside the executable
func DefaultPath() string {
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p
	}
	exe, err := os.Executable()
	if err != nil {
		return DefaultFileName
	}
	return filepath.Join(filepath.Dir(exe), DefaultFileName)
}

// Load reads the configuration from path (DefaultPath when empty) and the
// environment. A missing file is not an error.
func Load(path string) (*File, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &f, nil
}

// LoadFromYAML reads a configuration from YAML bytes on top of the defaults
func LoadFromYAML(data []byte) (*File, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	if err := v.ReadConfig(strings.NewReader(string(data))); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &f, nil
}

func setDefaults(v *viper.Viper) {
	d := svcwrap.DefaultConfig()

	v.SetDefault("host", "auto")

	v.SetDefault("service.name", d.Descriptor.Name)
	v.SetDefault("service.display_name", d.Descriptor.DisplayName)
	v.SetDefault("service.description", d.Descriptor.Description)
	v.SetDefault("service.start_type", d.Descriptor.StartType.String())
	v.SetDefault("service.dependencies", d.Descriptor.Dependencies)

	v.SetDefault("worker.binary", d.Worker.Binary)
	v.SetDefault("worker.flag", d.Worker.Flag)
	v.SetDefault("worker.env_prefix", d.Worker.EnvPrefix)
	v.SetDefault("worker.env", map[string]string{})

	v.SetDefault("paths.install_dir", "")
	v.SetDefault("paths.config_dir", "")
	v.SetDefault("paths.log_dir", "")

	v.SetDefault("supervisor.stop_timeout", d.StopTimeout)
	v.SetDefault("supervisor.health_interval", d.HealthInterval)
	v.SetDefault("supervisor.start_grace", d.StartGrace)
	v.SetDefault("supervisor.admin_stop_timeout", d.AdminStopTimeout)
	v.SetDefault("supervisor.poll_interval", d.PollInterval)

	v.SetDefault("recovery.restarts", d.Recovery.Restarts)
	v.SetDefault("recovery.delay", d.Recovery.Delay)
	v.SetDefault("recovery.reset", d.Recovery.Reset)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFileName)
	v.SetDefault("log.worker_file", DefaultWorkerLogName)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)
	v.SetDefault("log.console", true)

	v.SetDefault("status.listen", DefaultStatusListen)
}

// ServiceConfig converts the file into the injected supervisor configuration
func (f *File) ServiceConfig() (svcwrap.Config, error) {
	cfg := svcwrap.DefaultConfig()

	startType, err := svcwrap.ParseStartType(f.Service.StartType)
	if err != nil {
		return cfg, err
	}

	cfg.Descriptor = svcwrap.ServiceDescriptor{
		Name:         f.Service.Name,
		DisplayName:  f.Service.DisplayName,
		Description:  f.Service.Description,
		StartType:    startType,
		Dependencies: f.Service.Dependencies,
	}
	if path := os.Getenv(EnvConfigFile); path != "" {
		cfg.Descriptor.Environment = map[string]string{EnvConfigFile: path}
	}

	cfg.Worker = svcwrap.WorkerSpec{
		Binary:    f.Worker.Binary,
		Flag:      f.Worker.Flag,
		EnvPrefix: f.Worker.EnvPrefix,
		ExtraEnv:  normalizeEnv(f.Worker.Env),
	}

	if f.Paths.InstallDir != "" {
		cfg.Paths.InstallDir = f.Paths.InstallDir
	}
	if f.Paths.ConfigDir != "" {
		cfg.Paths.ConfigDir = f.Paths.ConfigDir
	}
	if f.Paths.LogDir != "" {
		cfg.Paths.LogDir = f.Paths.LogDir
	}

	cfg.StopTimeout = f.Supervisor.StopTimeout
	cfg.HealthInterval = f.Supervisor.HealthInterval
	cfg.StartGrace = f.Supervisor.StartGrace
	cfg.AdminStopTimeout = f.Supervisor.AdminStopTimeout
	cfg.PollInterval = f.Supervisor.PollInterval

	cfg.Recovery = svcwrap.RecoveryPolicy{
		Restarts: f.Recovery.Restarts,
		Delay:    f.Recovery.Delay,
		Reset:    f.Recovery.Reset,
	}

	return cfg, nil
}

// normalizeEnv upper-cases keys, since viper lower-cases map keys
func normalizeEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}

// Validate validates the configuration
func (f *File) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(f.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", f.Log.Level)
	}
	if f.Log.File == "" {
		return errors.New("log.file is required")
	}
	if _, err := svcwrap.ParseHostType(f.Host); err != nil {
		return err
	}
	if f.Recovery.Restarts < 0 {
		return errors.New("recovery.restarts must not be negative")
	}

	cfg, err := f.ServiceConfig()
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// HostType returns the selected service host adapter
func (f *File) HostType() (svcwrap.HostType, error) {
	return svcwrap.ParseHostType(f.Host)
}
