//go:build !windows

package svcwrap

import (
	"path/filepath"
	"strings"
)

func platformPaths(dirName string) Paths {
	name := strings.ToLower(dirName)
	return Paths{
		ConfigDir: filepath.Join("/etc", name),
		LogDir:    filepath.Join("/var/log", name),
	}
}

// platformDependencies orders the service after the network is up
func platformDependencies() []string {
	return []string{"network-online.target"}
}
