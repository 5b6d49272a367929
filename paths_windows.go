//go:build windows

package svcwrap

import (
	"os"
	"path/filepath"
)

func platformPaths(dirName string) Paths {
	appData := os.Getenv("PROGRAMDATA")
	if appData == "" {
		appData = `C:\ProgramData`
	}
	configDir := filepath.Join(appData, dirName)
	return Paths{
		ConfigDir: configDir,
		LogDir:    filepath.Join(configDir, "Logs"),
	}
}

func platformDependencies() []string {
	return []string{"Tcpip", "Dhcp"}
}
