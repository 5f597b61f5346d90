package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const DefaultInstance = "default"

// InstancePaths contains all paths for a catflash instance.
type InstancePaths struct {
	Home     string // Instance home directory
	ConfigDB string // SQLite state store path
	PIDFile  string // Daemon PID file
	Runtime  string // Daemon address and version for the CLI
	Logs     string // Logs directory
	LogFile  string // Rotated daemon log
	Sketch   string // Firmware downloads and preference files
	Build    string // Compiler build output
	TempDir  string // Temporary files directory
	ToolsDir string // Shared toolchain binaries (~/.catflash/tools)
	EnvFile  string // Optional .env overrides (~/.catflash/.env)
}

// GetInstancePaths returns all paths for a given instance.
// Empty instance name defaults to "default".
func GetInstancePaths(instanceName string) InstancePaths {
	if instanceName == "" {
		instanceName = DefaultInstance
	}

	home := GetCatflashHome()
	instanceDir := filepath.Join(home, "instances", instanceName)
	logs := filepath.Join(instanceDir, "logs")

	return InstancePaths{
		Home:     instanceDir,
		ConfigDB: filepath.Join(instanceDir, "state.db"),
		PIDFile:  filepath.Join(instanceDir, "catflashd.pid"),
		Runtime:  filepath.Join(instanceDir, "catflashd.json"),
		Logs:     logs,
		LogFile:  filepath.Join(logs, "catflashd.log"),
		Sketch:   filepath.Join(instanceDir, "sketch"),
		Build:    filepath.Join(instanceDir, "build"),
		TempDir:  filepath.Join(instanceDir, "tmp"),
		ToolsDir: filepath.Join(home, "tools"),
		EnvFile:  filepath.Join(home, ".env"),
	}
}

// GetCatflashHome returns the catflash home directory (~/.catflash).
func GetCatflashHome() string {
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, ".catflash")
}

// ArduinoLibrariesDir returns where arduino-cli installs user libraries by
// default on this OS.
func ArduinoLibrariesDir() string {
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "linux" {
		return filepath.Join(home, "Arduino", "libraries")
	}
	return filepath.Join(home, "Documents", "Arduino", "libraries")
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureInstanceDirs creates the directory structure for the given instance if it does not exist.
func EnsureInstanceDirs(instanceName string) (InstancePaths, error) {
	paths := GetInstancePaths(instanceName)
	return paths, paths.Ensure()
}

// Ensure creates every directory in p.
func (p InstancePaths) Ensure() error {
	dirs := []string{
		p.Home,
		p.Logs,
		p.Sketch,
		p.Build,
		p.TempDir,
		p.ToolsDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
