package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	svcwrap "github.com/axondata/go-svcwrap"
)

// document mirrors File for YAML output, with durations as strings
type document struct {
	Host    string `yaml:"host"`
	Service struct {
		Name         string   `yaml:"name"`
		DisplayName  string   `yaml:"display_name"`
		Description  string   `yaml:"description"`
		StartType    string   `yaml:"start_type"`
		Dependencies []string `yaml:"dependencies,omitempty"`
	} `yaml:"service"`
	Worker struct {
		Binary    string            `yaml:"binary"`
		Flag      string            `yaml:"flag"`
		EnvPrefix string            `yaml:"env_prefix"`
		Env       map[string]string `yaml:"env,omitempty"`
	} `yaml:"worker"`
	Paths struct {
		InstallDir string `yaml:"install_dir,omitempty"`
		ConfigDir  string `yaml:"config_dir,omitempty"`
		LogDir     string `yaml:"log_dir,omitempty"`
	} `yaml:"paths"`
	Supervisor struct {
		StopTimeout      string `yaml:"stop_timeout"`
		HealthInterval   string `yaml:"health_interval"`
		StartGrace       string `yaml:"start_grace"`
		AdminStopTimeout string `yaml:"admin_stop_timeout"`
		PollInterval     string `yaml:"poll_interval"`
	} `yaml:"supervisor"`
	Recovery struct {
		Restarts int    `yaml:"restarts"`
		Delay    string `yaml:"delay"`
		Reset    string `yaml:"reset"`
	} `yaml:"recovery"`
	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		WorkerFile string `yaml:"worker_file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Console    bool   `yaml:"console"`
	} `yaml:"log"`
	Status struct {
		Listen string `yaml:"listen"`
	} `yaml:"status"`
}

// ToYAML serializes the configuration
func (f *File) ToYAML() ([]byte, error) {
	var d document
	d.Host = f.Host

	d.Service.Name = f.Service.Name
	d.Service.DisplayName = f.Service.DisplayName
	d.Service.Description = f.Service.Description
	d.Service.StartType = f.Service.StartType
	d.Service.Dependencies = f.Service.Dependencies

	d.Worker.Binary = f.Worker.Binary
	d.Worker.Flag = f.Worker.Flag
	d.Worker.EnvPrefix = f.Worker.EnvPrefix
	d.Worker.Env = f.Worker.Env

	d.Paths.InstallDir = f.Paths.InstallDir
	d.Paths.ConfigDir = f.Paths.ConfigDir
	d.Paths.LogDir = f.Paths.LogDir

	d.Supervisor.StopTimeout = f.Supervisor.StopTimeout.String()
	d.Supervisor.HealthInterval = f.Supervisor.HealthInterval.String()
	d.Supervisor.StartGrace = f.Supervisor.StartGrace.String()
	d.Supervisor.AdminStopTimeout = f.Supervisor.AdminStopTimeout.String()
	d.Supervisor.PollInterval = f.Supervisor.PollInterval.String()

	d.Recovery.Restarts = f.Recovery.Restarts
	d.Recovery.Delay = f.Recovery.Delay.String()
	d.Recovery.Reset = f.Recovery.Reset.String()

	d.Log.Level = f.Log.Level
	d.Log.File = f.Log.File
	d.Log.WorkerFile = f.Log.WorkerFile
	d.Log.MaxSize = f.Log.MaxSize
	d.Log.MaxBackups = f.Log.MaxBackups
	d.Log.MaxAge = f.Log.MaxAge
	d.Log.Console = f.Log.Console

	d.Status.Listen = f.Status.Listen

	out, err := yaml.Marshal(&d)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return out, nil
}

// WriteDefault writes f to path unless a file already exists there. It
// reports whether a file was written.
func WriteDefault(path string, f *File) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}

	data, err := f.ToYAML()
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), svcwrap.DirMode); err != nil {
		return false, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, svcwrap.FileMode); err != nil {
		return false, fmt.Errorf("failed to write config file: %w", err)
	}
	return true, nil
}
