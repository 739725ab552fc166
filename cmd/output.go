// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Out receives command output. Tests replace it.
var Out io.Writer = os.Stdout

// colorize is true when Out is an interactive terminal.
func colorize() bool {
	f, ok := Out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var levelColors = map[string]string{
	"clean":      "\033[32m",
	"suspicious": "\033[33m",
	"malicious":  "\033[31m",
	"critical":   "\033[1;31m",
}

func paintLevel(level string) string {
	c, ok := levelColors[level]
	if !ok || !colorize() {
		return level
	}
	return c + level + "\033[0m"
}

func printJSON(v any) error {
	enc := json.NewEncoder(Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
