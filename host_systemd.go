//go:build linux

package svcwrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

// stopTimeoutSlack gives the supervisor's own bound room to finish before
// systemd escalates
const stopTimeoutSlack = 5 * time.Second

// SystemdHost registers and controls the supervisor as a systemd unit
type SystemdHost struct {
	// Config supplies the stop timeout, recovery policy and status path
	Config Config
	// UnitDir is where unit files are written (default: /etc/systemd/system)
	UnitDir string
	// SystemctlPath is the path to the systemctl binary
	SystemctlPath string
	// UseSudo runs privileged commands through SudoCommand
	UseSudo bool
	// SudoCommand is the sudo command to use (default: "sudo")
	SudoCommand string
	// Timeout bounds each systemctl invocation
	Timeout time.Duration

	logger *zap.Logger
}

// NewSystemdHost creates a systemd adapter for the configuration
func NewSystemdHost(cfg Config) *SystemdHost {
	return &SystemdHost{
		Config:        cfg,
		UnitDir:       "/etc/systemd/system",
		SystemctlPath: "systemctl",
		UseSudo:       os.Geteuid() != 0,
		SudoCommand:   "sudo",
		Timeout:       10 * time.Second,
		logger:        zap.NewNop(),
	}
}

func newSystemdHost(cfg Config, logger *zap.Logger) (ServiceHost, error) {
	h := NewSystemdHost(cfg)
	h.logger = logger
	return h, nil
}

// WithSudo configures sudo usage
func (h *SystemdHost) WithSudo(use bool, command string) *SystemdHost {
	h.UseSudo = use
	if command != "" {
		h.SudoCommand = command
	}
	return h
}

// WithUnitDir sets the unit directory
func (h *SystemdHost) WithUnitDir(dir string) *SystemdHost {
	h.UnitDir = dir
	return h
}

func unitName(name string) string {
	return name + ".service"
}

func (h *SystemdHost) unitPath(name string) string {
	return filepath.Join(h.UnitDir, unitName(name))
}

func (h *SystemdHost) installed(name string) bool {
	_, err := os.Stat(h.unitPath(name))
	return err == nil
}

// BuildUnit renders the unit file for a descriptor
func (h *SystemdHost) BuildUnit(d ServiceDescriptor) (string, error) {
	exe, err := d.ExecutablePath()
	if err != nil {
		return "", err
	}

	description := d.Description
	if description == "" {
		description = d.DisplayName
	}
	if description == "" {
		description = d.Name
	}

	var unit strings.Builder

	unit.WriteString("[Unit]\n")
	fmt.Fprintf(&unit, "Description=%s\n", description)
	if len(d.Dependencies) > 0 {
		deps := strings.Join(d.Dependencies, " ")
		fmt.Fprintf(&unit, "After=%s\n", deps)
		fmt.Fprintf(&unit, "Wants=%s\n", deps)
	}
	rec := h.Config.Recovery
	if rec.Restarts > 0 && rec.Reset > 0 {
		fmt.Fprintf(&unit, "StartLimitIntervalSec=%d\n", int64(rec.Reset.Seconds()))
		fmt.Fprintf(&unit, "StartLimitBurst=%d\n", rec.Restarts)
	}
	unit.WriteString("\n")

	unit.WriteString("[Service]\n")
	unit.WriteString("Type=simple\n")
	fmt.Fprintf(&unit, "ExecStart=%s\n", quoteExecArg(exe))
	if dir := filepath.Dir(exe); dir != "" {
		fmt.Fprintf(&unit, "WorkingDirectory=%s\n", dir)
	}
	if rec.Restarts > 0 {
		unit.WriteString("Restart=on-failure\n")
		fmt.Fprintf(&unit, "RestartSec=%d\n", max(int64(rec.Delay.Seconds()), 1))
	} else {
		unit.WriteString("Restart=no\n")
	}
	unit.WriteString("KillMode=mixed\n")
	unit.WriteString("KillSignal=SIGTERM\n")
	stop := h.Config.StopTimeout
	if stop <= 0 {
		stop = DefaultStopTimeout
	}
	fmt.Fprintf(&unit, "TimeoutStopSec=%d\n", int64((stop + stopTimeoutSlack).Seconds()))

	keys := make([]string, 0, len(d.Environment))
	for key := range d.Environment {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		escaped := strings.ReplaceAll(d.Environment[key], `"`, `\"`)
		fmt.Fprintf(&unit, "Environment=\"%s=%s\"\n", key, escaped)
	}

	unit.WriteString("StandardOutput=journal\n")
	unit.WriteString("StandardError=journal\n")
	fmt.Fprintf(&unit, "SyslogIdentifier=%s\n", d.Name)
	unit.WriteString("\n")

	unit.WriteString("[Install]\n")
	unit.WriteString("WantedBy=multi-user.target\n")

	return unit.String(), nil
}

func quoteExecArg(arg string) string {
	if strings.ContainsAny(arg, " \t\n\"'\\$") {
		return strconv.Quote(arg)
	}
	return arg
}

// Install writes the unit file, reloads systemd and enables automatic units
func (h *SystemdHost) Install(ctx context.Context, d ServiceDescriptor) error {
	if err := d.Validate(); err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	if h.installed(d.Name) {
		return &OpError{Op: OpInstall, Name: d.Name, Err: ErrAlreadyInstalled}
	}

	content, err := h.BuildUnit(d)
	if err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	if err := h.writeUnitFile(ctx, h.unitPath(d.Name), content); err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	if _, err := h.systemctl(ctx, "daemon-reload"); err != nil {
		return &OpError{Op: OpInstall, Name: d.Name, Err: err}
	}
	if d.StartType == StartAutomatic {
		if _, err := h.systemctl(ctx, "enable", unitName(d.Name)); err != nil {
			return &OpError{Op: OpInstall, Name: d.Name, Err: err}
		}
	}

	h.logger.Info("service installed",
		zap.String("service", d.Name),
		zap.String("unit", h.unitPath(d.Name)),
		zap.Stringer("start_type", d.StartType))
	return nil
}

// Remove disables the unit, deletes its file and reloads systemd
func (h *SystemdHost) Remove(ctx context.Context, name string) error {
	if !h.installed(name) {
		return &OpError{Op: OpRemove, Name: name, Err: ErrNotInstalled}
	}

	// A unit that was never enabled fails to disable; that is fine.
	if _, err := h.systemctl(ctx, "disable", unitName(name)); err != nil {
		h.logger.Debug("disable failed", zap.String("service", name), zap.Error(err))
	}

	if err := h.removeUnitFile(ctx, h.unitPath(name)); err != nil {
		return &OpError{Op: OpRemove, Name: name, Err: err}
	}
	if _, err := h.systemctl(ctx, "daemon-reload"); err != nil {
		return &OpError{Op: OpRemove, Name: name, Err: err}
	}

	h.logger.Info("service removed", zap.String("service", name))
	return nil
}

// Start asks systemd to start the unit
func (h *SystemdHost) Start(ctx context.Context, name string) error {
	if !h.installed(name) {
		return &OpError{Op: OpStart, Name: name, Err: ErrNotInstalled}
	}
	if _, err := h.systemctl(ctx, "start", unitName(name)); err != nil {
		return &OpError{Op: OpStart, Name: name, Err: err}
	}
	return nil
}

// Control maps a command onto systemctl. Stop and Shutdown do not wait for
// the unit to stop; Pause and Continue are delivered as signals to the
// supervisor's main process.
func (h *SystemdHost) Control(ctx context.Context, name string, cmd Command) (StatusReport, error) {
	if !h.installed(name) {
		return StatusReport{}, &OpError{Op: OpControl, Name: name, Err: ErrNotInstalled}
	}

	var args []string
	switch cmd {
	case CmdInterrogate:
	case CmdStop, CmdShutdown:
		args = []string{"stop", "--no-block", unitName(name)}
	case CmdPause:
		args = []string{"kill", "--signal=SIGUSR1", "--kill-who=main", unitName(name)}
	case CmdContinue:
		args = []string{"kill", "--signal=SIGUSR2", "--kill-who=main", unitName(name)}
	default:
		return StatusReport{}, &OpError{Op: OpControl, Name: name, Err: fmt.Errorf("%w: %s", ErrUnsupportedCommand, cmd)}
	}

	if args != nil {
		if _, err := h.systemctl(ctx, args...); err != nil {
			return StatusReport{}, &OpError{Op: OpControl, Name: name, Err: err}
		}
	}
	return h.Query(ctx, name)
}

// Query reads the unit state. While the unit is active the supervisor's
// status file refines it, since systemd cannot express StartPending on a
// simple unit or Paused at all.
func (h *SystemdHost) Query(ctx context.Context, name string) (StatusReport, error) {
	out, err := h.systemctl(ctx, "show", "--no-page",
		"--property=LoadState,ActiveState,SubState,MainPID", unitName(name))
	if err != nil {
		return StatusReport{}, &OpError{Op: OpQuery, Name: name, Err: err}
	}

	props := parseShow(out)
	if props["LoadState"] == "not-found" {
		return StatusReport{}, &OpError{Op: OpQuery, Name: name, Err: ErrNotInstalled}
	}

	pid, _ := strconv.Atoi(props["MainPID"])
	r := NewStatusReport(mapActiveState(props["ActiveState"]), pid)

	if r.State == StateRunning && h.Config.Paths.ConfigDir != "" {
		if snap, err := ReadStatusFile(h.Config.Paths.StatusFile()); err == nil && snap.State != StateStopped {
			snap.Time = r.Time
			return snap, nil
		}
	}
	return r, nil
}

// parseShow parses systemctl show key=value output
func parseShow(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return props
}

// mapActiveState converts a systemd ActiveState into a lifecycle state
func mapActiveState(active string) State {
	switch active {
	case "activating":
		return StateStartPending
	case "active", "reloading":
		return StateRunning
	case "deactivating":
		return StateStopPending
	default:
		return StateStopped
	}
}

// systemctl runs systemctl with optional sudo and returns stdout
func (h *SystemdHost) systemctl(ctx context.Context, args ...string) (string, error) {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	var cmd *exec.Cmd
	if h.UseSudo {
		cmd = exec.CommandContext(ctx, h.SudoCommand, append([]string{h.SystemctlPath}, args...)...)
	} else {
		cmd = exec.CommandContext(ctx, h.SystemctlPath, args...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("systemctl %s: %w (stderr: %s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// writeUnitFile writes the unit atomically, through sudo tee when needed
func (h *SystemdHost) writeUnitFile(ctx context.Context, path, content string) error {
	if !h.UseSudo {
		return renameio.WriteFile(path, []byte(content), FileMode)
	}

	cmd := exec.CommandContext(ctx, h.SudoCommand, "tee", path)
	cmd.Stdin = strings.NewReader(content)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo tee failed: %w (output: %s)", err, out.String())
	}
	return nil
}

func (h *SystemdHost) removeUnitFile(ctx context.Context, path string) error {
	if !h.UseSudo {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	cmd := exec.CommandContext(ctx, h.SudoCommand, "rm", "-f", path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("removing unit file: %w", err)
	}
	return nil
}
