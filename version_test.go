package svcwrap

import (
	"runtime"
	"testing"
)

func TestGetVersion(t *testing.T) {
	info := GetVersion()
	if info.Version != Version {
		t.Errorf("Version = %q, want %q", info.Version, Version)
	}

	switch runtime.GOOS {
	case "linux":
		if len(info.Hosts) != 1 || info.Hosts[0] != HostSystemd {
			t.Errorf("Hosts = %v, want [systemd]", info.Hosts)
		}
	case "windows":
		if len(info.Hosts) != 1 || info.Hosts[0] != HostWindows {
			t.Errorf("Hosts = %v, want [windows]", info.Hosts)
		}
	default:
		if len(info.Hosts) != 0 {
			t.Errorf("Hosts = %v, want none", info.Hosts)
		}
	}
}
