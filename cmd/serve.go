// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grimm.is/sentinel/internal/config"
	"grimm.is/sentinel/internal/daemon"
	"grimm.is/sentinel/internal/install"
	"grimm.is/sentinel/internal/logging"
	"grimm.is/sentinel/internal/metrics"
	"grimm.is/sentinel/internal/sentinel"
	"grimm.is/sentinel/internal/verdictcache"
)

const shutdownTimeout = 10 * time.Second

// RunServe runs the scanning daemon in the foreground until SIGINT or
// SIGTERM.
func RunServe(configFile string) error {
	if configFile == "" {
		configFile = install.DefaultConfigFile()
	}
	cfg := config.DefaultConfig()
	var warnings []string
	if configFile != "" {
		res, err := config.LoadFileWithResult(configFile)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}
		cfg, warnings = res.Config, res.Warnings
	}

	logger := logging.New(cfg.Logging())
	logging.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn("configuration warning", "warning", w)
	}
	if err := setProcessName("sentinel"); err != nil {
		logger.Debug("could not set process name", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pidFile := pidPath(cfg)
	if err := claimPIDFile(pidFile); err != nil {
		return err
	}
	defer os.Remove(pidFile)

	opts := []daemon.Option{daemon.WithLogger(logger)}
	var registry *metrics.Registry
	if cfg.Metrics.Enabled {
		registry = metrics.NewRegistry(cfg.Metrics.Runtime)
		opts = append(opts, daemon.WithRegistry(registry))
	}
	if cfg.Cache.NATSURL != "" {
		pub, err := verdictcache.DialNATS(cfg.Cache.NATSURL, cfg.Cache.Subject, logger.WithComponent("nats"))
		if err != nil {
			return fmt.Errorf("verdict publisher: %w", err)
		}
		defer pub.Close()
		opts = append(opts, daemon.WithPublisher(pub))
	}

	static, err := sentinel.NewSignatureScanner(cfg.Scoring.Policy.Signatures...)
	if err != nil {
		return fmt.Errorf("signature rules: %w", err)
	}
	var sandbox sentinel.Sandbox
	if sb := daemon.NewExecSandbox(cfg.Sandbox.Command); sb != nil {
		sandbox = sb
	} else {
		logger.Info("no sandbox helper configured, verdicts are static-only")
	}

	srv, err := daemon.New(cfg, static, sandbox, opts...)
	if err != nil {
		return err
	}
	srv.Service().OnThreat(func(r sentinel.Report) {
		logger.Warn("threat detected",
			"level", r.Verdict.Level,
			"score", r.Verdict.Composite,
			"labels", r.Threat.Labels)
	})
	srv.Service().Start(cfg.Metrics.ReportInterval)
	defer srv.Service().Stop()

	if registry != nil {
		ms := metrics.NewServer(cfg.Metrics.Listen, registry,
			func() (bool, any) { return srv.Tracker().Live(), nil },
			func() (bool, any) {
				h := srv.HealthReport(true)
				return h.Ready, h
			},
			logger.WithComponent("metrics"))
		if err := ms.Start(); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			ms.Shutdown(sctx)
		}()

		collector := metrics.NewCollector(registry, metrics.Sources{
			ScanCount:        srv.ScanCount,
			DegradationLevel: func() int { return int(srv.Tracker().Level()) },
		}, logger, 0)
		collector.Start(ctx)
		defer collector.Stop()
	}

	logger.Info("sentinel starting",
		"socket", cfg.Listen,
		"signatures", static.Rules(),
		"sandbox", sandbox != nil,
		"metrics", cfg.Metrics.Enabled)

	serveErr := srv.ListenAndServe(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	os.Remove(cfg.Listen)
	logger.Info("sentinel stopped", "scans", srv.ScanCount())
	return serveErr
}
