// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"fmt"

	"grimm.is/sentinel/internal/config"
)

// RunConfigCheck loads and validates a configuration file without starting
// anything.
func RunConfigCheck(configFile string) error {
	res, err := config.LoadFileWithResult(configFile)
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(Out, "warning: %s\n", w)
	}
	fmt.Fprintf(Out, "%s: configuration is valid\n", res.Path)
	return nil
}

// RunConfigShow prints the effective configuration, defaults included, as
// HCL.
func RunConfigShow(configFile string) error {
	cfg, err := loadOrDefault(configFile)
	if err != nil {
		return err
	}
	_, err = Out.Write(config.MarshalHCL(cfg))
	return err
}
