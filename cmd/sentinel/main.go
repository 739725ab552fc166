// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command sentinel runs the content scanning daemon and talks to it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"grimm.is/sentinel/cmd"
	"grimm.is/sentinel/internal/errors"
)

const usage = `Usage: sentinel <command> [flags]

Commands:
  serve   -config <file>                  run the daemon in the foreground
  stop    -config <file>                  stop a running daemon
  scan    [-socket <path>] [-inline] <file>...
                                          scan files and print verdicts
  health  [-socket <path>]                print the degradation report
  score   [-policy <file>] <metrics.json> score a sandbox metrics snapshot offline
  config  check|show [-config <file>]     validate or print the configuration
`

// Exit status: 0 clean, 1 threat detected, 2 error.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	os.Exit(run(os.Args[1], os.Args[2:]))
}

func run(command string, args []string) int {
	var err error
	switch command {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := fs.String("config", "", "Path to HCL or JSON config file")
		fs.Parse(args)
		err = cmd.RunServe(*configFile)

	case "stop":
		fs := flag.NewFlagSet("stop", flag.ExitOnError)
		configFile := fs.String("config", "", "Path to HCL or JSON config file")
		fs.Parse(args)
		err = cmd.RunStop(*configFile)

	case "scan":
		fs := flag.NewFlagSet("scan", flag.ExitOnError)
		var opts cmd.ScanOptions
		clientFlags(fs, &opts.ClientOptions)
		fs.BoolVar(&opts.Inline, "inline", false, "Send file contents instead of the path")
		fs.BoolVar(&opts.JSON, "json", false, "Print results as JSON")
		fs.Parse(args)
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = cmd.RunScan(ctx, fs.Args(), opts)
		if errors.Is(err, cmd.ErrThreatDetected) {
			return 1
		}

	case "health":
		fs := flag.NewFlagSet("health", flag.ExitOnError)
		var opts cmd.ClientOptions
		clientFlags(fs, &opts)
		asJSON := fs.Bool("json", false, "Print the report as JSON")
		fs.Parse(args)
		err = cmd.RunHealth(context.Background(), opts, *asJSON)

	case "score":
		fs := flag.NewFlagSet("score", flag.ExitOnError)
		policy := fs.String("policy", "", "Scoring policy YAML file")
		asJSON := fs.Bool("json", false, "Print the report as JSON")
		fs.Parse(args)
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "Usage: sentinel score [-policy <file>] <metrics.json>")
			return 2
		}
		err = cmd.RunScore(fs.Arg(0), *policy, *asJSON)

	case "config":
		if len(args) == 0 {
			fmt.Fprintln(os.Stderr, "Usage: sentinel config check|show [-config <file>]")
			return 2
		}
		fs := flag.NewFlagSet("config", flag.ExitOnError)
		configFile := fs.String("config", "", "Path to HCL or JSON config file")
		fs.Parse(args[1:])
		switch args[0] {
		case "check":
			if *configFile == "" {
				fmt.Fprintln(os.Stderr, "config check requires -config")
				return 2
			}
			err = cmd.RunConfigCheck(*configFile)
		case "show":
			err = cmd.RunConfigShow(*configFile)
		default:
			fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", args[0])
			return 2
		}

	case "help", "-h", "-help", "--help":
		fmt.Fprint(os.Stdout, usage)
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", command, usage)
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func clientFlags(fs *flag.FlagSet, opts *cmd.ClientOptions) {
	fs.StringVar(&opts.ConfigFile, "config", "", "Read socket and client settings from this config file")
	fs.StringVar(&opts.Socket, "socket", "", "Daemon socket path")
	fs.DurationVar(&opts.Timeout, "timeout", 30*time.Second, "Per-response read timeout")
}
