package svcwrap

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ServiceHost is the host service manager as seen by administrative
// operations. One adapter exists per platform.
type ServiceHost interface {
	// Install registers the service entry and its logging sink. An existing
	// entry with the same name is never overwritten.
	Install(ctx context.Context, d ServiceDescriptor) error
	// Remove unregisters the service entry and its logging sink
	Remove(ctx context.Context, name string) error
	// Start asks the host to start the service
	Start(ctx context.Context, name string) error
	// Control delivers a command to the running service
	Control(ctx context.Context, name string, cmd Command) (StatusReport, error)
	// Query reads the current status of the service
	Query(ctx context.Context, name string) (StatusReport, error)
}

// HostType names a service host adapter
type HostType int

const (
	// HostUnknown means no adapter exists for the platform
	HostUnknown HostType = iota
	// HostSystemd drives systemd through systemctl
	HostSystemd
	// HostWindows drives the Windows Service Control Manager
	HostWindows
)

// HostType string constants
const (
	hostUnknownStr = "unknown"
	hostSystemdStr = "systemd"
	hostWindowsStr = "windows"
)

// String returns the string representation of the host type
func (t HostType) String() string {
	switch t {
	case HostSystemd:
		return hostSystemdStr
	case HostWindows:
		return hostWindowsStr
	default:
		return hostUnknownStr
	}
}

// ParseHostType converts a name into a HostType. Empty or "auto" selects
// the platform default.
func ParseHostType(v string) (HostType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "auto":
		return DefaultHostType(), nil
	case hostSystemdStr:
		return HostSystemd, nil
	case hostWindowsStr, "scm":
		return HostWindows, nil
	default:
		return HostUnknown, fmt.Errorf("unknown service host %q", v)
	}
}

// DefaultHostType returns the adapter used on this platform
func DefaultHostType() HostType {
	switch runtime.GOOS {
	case "linux":
		return HostSystemd
	case "windows":
		return HostWindows
	default:
		return HostUnknown
	}
}

// NewServiceHost creates the adapter for a host type
func NewServiceHost(t HostType, cfg Config, logger *zap.Logger) (ServiceHost, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch t {
	case HostSystemd:
		return newSystemdHost(cfg, logger)
	case HostWindows:
		return newWindowsHost(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, runtime.GOOS)
	}
}
