// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"grimm.is/sentinel/internal/config"
)

// pidPath puts the PID file next to the socket: /run/sentinel/sentinel.sock
// becomes /run/sentinel/sentinel.pid.
func pidPath(cfg *config.Config) string {
	return strings.TrimSuffix(cfg.Listen, filepath.Ext(cfg.Listen)) + ".pid"
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}

// claimPIDFile fails if another daemon is running and otherwise writes our
// PID, replacing a stale file.
func claimPIDFile(path string) error {
	if pid, err := readPID(path); err == nil {
		if pid != os.Getpid() && processAlive(pid) {
			return fmt.Errorf("sentinel already running (PID: %d)", pid)
		}
		fmt.Fprintf(os.Stderr, "Warning: removing stale PID file %s\n", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
