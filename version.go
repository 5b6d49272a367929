package svcwrap

// Version is the current version of the svcwrap library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// Hosts lists the service hosts compiled into this build
	Hosts []HostType
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	info := VersionInfo{Version: Version}
	if t := DefaultHostType(); t != HostUnknown {
		info.Hosts = append(info.Hosts, t)
	}
	return info
}
