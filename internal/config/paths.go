package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.pingy.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pingy")
}

// ConfigPath returns the config file path inside a data dir.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, "config.toml")
}

// DBPath returns the SQLite database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, "pingy.db")
}

// SocketPath returns the UDS socket path of the gRPC health server.
func SocketPath(dataDir string) string {
	return filepath.Join(dataDir, "pingyd.sock")
}

// LockPath returns the lock file path.
func LockPath(dataDir string) string {
	return filepath.Join(dataDir, "LOCK")
}

// LogDir returns the log directory.
func LogDir(dataDir string) string {
	return filepath.Join(dataDir, "logs")
}

// LogPath returns the daemon log file path.
func LogPath(dataDir string) string {
	return filepath.Join(LogDir(dataDir), "pingyd.log")
}

// EnsureDir creates the data dir tree with proper permissions.
func EnsureDir(dataDir string) error {
	dirs := []string{
		dataDir,
		LogDir(dataDir),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
