package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/KimMachineGun/automemlimit/memlimit"

	"github.com/nicolastakashi/opsdash/cmd/importer"
	"github.com/nicolastakashi/opsdash/cmd/serve"
	"github.com/nicolastakashi/opsdash/cmd/simulate"
	"github.com/nicolastakashi/opsdash/internal/config"
	"github.com/nicolastakashi/opsdash/internal/tracing"
)

type command struct {
	registerFlags func(fs *flag.FlagSet, configFile *string)
	run           func() error
}

var commands = map[string]command{
	"serve":    {registerFlags: serve.RegisterFlags, run: serve.Run},
	"import":   {registerFlags: importer.RegisterFlags, run: importer.Run},
	"simulate": {registerFlags: simulate.RegisterFlags, run: simulate.Run},
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <serve|import|simulate> [flags]\n", os.Args[0])
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, ok := commands[os.Args[1]]
	if !ok {
		usage()
		os.Exit(2)
	}

	var (
		configFile string
		logLevel   string
		logFormat  string
	)
	fs := flag.NewFlagSet(os.Args[0]+" "+os.Args[1], flag.ExitOnError)
	fs.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error.")
	fs.StringVar(&logFormat, "log-format", "text", "Log format: text or json.")
	cmd.registerFlags(fs, &configFile)
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	if err := setupLogger(logLevel, logFormat); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if configFile != "" {
		if err := config.LoadConfig(configFile); err != nil {
			slog.Error("unable to load config file", "err", err)
			os.Exit(1)
		}
	}
	if err := config.DefaultConfig.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.Debug("configuration loaded", "config", config.DefaultConfig.GetSanitizedConfig())

	if config.DefaultConfig.MemoryLimit.Enabled {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(config.DefaultConfig.MemoryLimit.Ratio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
			memlimit.WithLogger(slog.Default()),
		)
		if err != nil {
			slog.Warn("unable to set memory limit", "err", err)
		} else {
			slog.Debug("memory limit set", "limit", limit)
		}
	}

	var shutdownTracing func()
	if config.DefaultConfig.IsTracingEnabled() {
		tp, err := tracing.WithTracing(context.Background(), slog.Default(), config.DefaultConfig)
		if err != nil {
			slog.Error("unable to set up tracing", "err", err)
			os.Exit(1)
		}
		shutdownTracing = func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				slog.Error("error shutting down tracer provider", "err", err)
			}
		}
	}

	err := cmd.run()
	if shutdownTracing != nil {
		shutdownTracing()
	}
	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}
}

func setupLogger(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", format)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
