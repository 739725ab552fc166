// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"grimm.is/sentinel/internal/config"
	"grimm.is/sentinel/internal/daemon"
	"grimm.is/sentinel/internal/errors"
	"grimm.is/sentinel/internal/install"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/protocol"
)

// ErrThreatDetected is returned by RunScan when any verdict is not clean.
var ErrThreatDetected = errors.New(errors.KindValidation, "threat detected")

// ClientOptions select the daemon to talk to.
type ClientOptions struct {
	ConfigFile string // takes socket, timeout, breaker and retry settings from the config
	Socket     string // overrides the socket path
	Timeout    time.Duration
}

func (o ClientOptions) client() (*daemon.Client, error) {
	var extra []daemon.ClientOption
	if o.Timeout > 0 {
		extra = append(extra, daemon.WithClientTimeout(o.Timeout))
	}
	extra = append(extra, daemon.WithClientLogger(logging.WithComponent("client")))

	file := o.ConfigFile
	if file == "" && o.Socket == "" {
		file = install.DefaultConfigFile()
	}
	if file != "" {
		cfg, err := config.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
		if o.Socket != "" {
			cfg.Listen = o.Socket
		}
		return daemon.NewClientFromConfig(cfg, extra...)
	}
	socket := o.Socket
	if socket == "" {
		socket = install.GetSocketPath()
	}
	return daemon.NewClient(socket, extra...)
}

// ScanOptions control RunScan.
type ScanOptions struct {
	ClientOptions
	// Inline sends file contents instead of asking the daemon to read the
	// path itself. Use it for files outside the daemon's scan roots.
	Inline bool
	JSON   bool
}

type scanOutput struct {
	Path   string               `json:"path"`
	Result *protocol.ScanResult `json:"result,omitempty"`
	Error  string               `json:"error,omitempty"`
}

// RunScan submits each path to the daemon and prints the verdicts. It
// returns ErrThreatDetected if any verdict is not clean.
func RunScan(ctx context.Context, paths []string, opts ScanOptions) error {
	if len(paths) == 0 {
		return errors.New(errors.KindValidation, "no files to scan")
	}
	client, err := opts.client()
	if err != nil {
		return err
	}

	var (
		outputs  []scanOutput
		threats  int
		failures int
	)
	for _, path := range paths {
		res, err := scanOne(ctx, client, path, opts.Inline)
		out := scanOutput{Path: path, Result: res}
		if err != nil {
			out.Error = err.Error()
			failures++
		} else if res.ThreatDetected() {
			threats++
		}
		outputs = append(outputs, out)
		if !opts.JSON {
			printScan(out)
		}
	}
	if opts.JSON {
		if err := printJSON(outputs); err != nil {
			return err
		}
	}

	switch {
	case failures > 0:
		return errors.Errorf(errors.KindUnavailable, "%d of %d scans failed", failures, len(paths))
	case threats > 0:
		return ErrThreatDetected
	}
	return nil
}

func scanOne(ctx context.Context, client *daemon.Client, path string, inline bool) (*protocol.ScanResult, error) {
	if inline {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return client.Scan(ctx, data, filepath.Base(path))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return client.ScanFile(ctx, abs)
}

func printScan(out scanOutput) {
	if out.Error != "" {
		fmt.Fprintf(Out, "%s: error: %s\n", out.Path, out.Error)
		return
	}
	r := out.Result
	fmt.Fprintf(Out, "%s: %s score=%.2f confidence=%.2f", out.Path, paintLevel(r.Level), r.Score, r.Confidence)
	if len(r.Labels) > 0 {
		fmt.Fprintf(Out, " labels=%s", strings.Join(r.Labels, ","))
	}
	var notes []string
	if r.Cached {
		notes = append(notes, "cached")
	}
	if r.Listed != "" {
		notes = append(notes, r.Listed)
	}
	if r.Degraded {
		notes = append(notes, "degraded")
	}
	if len(notes) > 0 {
		fmt.Fprintf(Out, " (%s)", strings.Join(notes, ", "))
	}
	fmt.Fprintln(Out)
}

// RunHealth prints the daemon's degradation report. It fails when the
// daemon is not ready.
func RunHealth(ctx context.Context, opts ClientOptions, asJSON bool) error {
	client, err := opts.client()
	if err != nil {
		return err
	}
	report, err := client.Health(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(Out, "status: %s (live=%t ready=%t uptime=%s)\n",
			report.Status, report.Live, report.Ready, report.Uptime.Round(time.Second))
		for _, svc := range report.Services {
			fmt.Fprintf(Out, "  %-16s %-9s failures=%d", svc.Name, svc.State, svc.Failures)
			if svc.Reason != "" {
				fmt.Fprintf(Out, " reason=%q", svc.Reason)
			}
			fmt.Fprintln(Out)
		}
	}
	if !report.Ready {
		return errors.New(errors.KindUnavailable, "daemon is not ready")
	}
	return nil
}
