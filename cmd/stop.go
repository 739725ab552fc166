// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"grimm.is/sentinel/internal/config"
	"grimm.is/sentinel/internal/install"
)

// RunStop sends SIGTERM to the daemon named by the config's PID file and
// waits for it to remove the file.
func RunStop(configFile string) error {
	cfg, err := loadOrDefault(configFile)
	if err != nil {
		return err
	}
	pidFile := pidPath(cfg)

	pid, err := readPID(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no PID file found at %s (is the daemon running?)", pidFile)
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("process not found: %w", err)
	}

	fmt.Fprintf(Out, "Stopping sentinel (PID: %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(cfg.ReadTimeout + 5*time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidFile); os.IsNotExist(err) {
			fmt.Fprintln(Out, "Stopped.")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(Out, "Warning: PID file still exists. Process might be stuck or slow to shut down.")
	return nil
}

// loadOrDefault loads configFile, falling back to the installed config file
// and then to the defaults.
func loadOrDefault(configFile string) (*config.Config, error) {
	if configFile == "" {
		configFile = install.DefaultConfigFile()
	}
	if configFile == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}
