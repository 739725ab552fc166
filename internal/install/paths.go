// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package install resolves sentinel's filesystem locations.
package install

import (
	"os"
	"path/filepath"
)

const (
	// EnvPrefix prefixes every path override variable.
	EnvPrefix = "SENTINEL"

	ConfigFileName = "sentinel.hcl"
	SocketName     = "sentinel.sock"
)

var (
	DefaultConfigDir string
	DefaultRunDir    string

	// Build-time path overrides (set via -ldflags), for distributions that
	// package under a different prefix.
	BuildDefaultConfigDir = ""
	BuildDefaultRunDir    = ""
)

func init() {
	DefaultConfigDir = orDefault(BuildDefaultConfigDir, "/etc/sentinel")
	DefaultRunDir = orDefault(BuildDefaultRunDir, "/run/sentinel")
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// lookup applies the override order shared by every directory:
// SENTINEL_<NAME>_DIR, then SENTINEL_PREFIX/<sub>, then def.
func lookup(name, sub, def string) string {
	if dir := os.Getenv(EnvPrefix + "_" + name + "_DIR"); dir != "" {
		return dir
	}
	if prefix := os.Getenv(EnvPrefix + "_PREFIX"); prefix != "" {
		return filepath.Join(prefix, sub)
	}
	return def
}

// GetConfigDir returns the configuration directory.
// Priority: SENTINEL_CONFIG_DIR > SENTINEL_PREFIX/config > DefaultConfigDir
func GetConfigDir() string {
	return lookup("CONFIG", "config", DefaultConfigDir)
}

// GetRunDir returns the runtime directory for the socket and PID file.
// Priority: SENTINEL_RUN_DIR > SENTINEL_PREFIX/run > DefaultRunDir
func GetRunDir() string {
	return lookup("RUN", "run", DefaultRunDir)
}

// GetSocketPath returns the daemon socket path. SENTINEL_SOCKET overrides
// the run directory.
func GetSocketPath() string {
	if path := os.Getenv(EnvPrefix + "_SOCKET"); path != "" {
		return path
	}
	return filepath.Join(GetRunDir(), SocketName)
}

// DefaultConfigFile returns the config file used when none is named, or ""
// if it does not exist.
func DefaultConfigFile() string {
	path := filepath.Join(GetConfigDir(), ConfigFileName)
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}
