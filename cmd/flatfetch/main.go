package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flatfetch/internal/app"
	"flatfetch/internal/config"
	"flatfetch/internal/garage"

	"github.com/spf13/pflag"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("flatfetch error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("flatfetch", pflag.ContinueOnError)
	showVersion := fs.Bool("version", false, "Print version and exit")
	printDDL := fs.Bool("print-ddl", false, "Print the garage schema DDL and exit")
	initSchema := fs.Bool("init-schema", false, "Create the garage tables before fetching")
	seed := fs.Int("seed", 0, "Insert this many sample cars before fetching")
	noFetch := fs.Bool("no-fetch", false, "Skip the fetch (with --init-schema or --seed)")

	cfg, err := config.Load(fs, args)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	switch {
	case *showVersion:
		_, err := fmt.Fprintf(stdout, "flatfetch %s (%s)\n", Version, Commit)
		return err
	case *printDDL:
		_, err := fmt.Fprint(stdout, garage.DDLFor(cfg.Database.DriverName()))
		return err
	}

	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		slog.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, err := range validationResult.Errors {
			slog.Error("configuration error",
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.String("hint", err.Hint),
			)
		}
		return fmt.Errorf("configuration validation failed")
	}

	logger, loggerProvider, err := app.InitLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return err
	}
	a.AttachLoggerProvider(loggerProvider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	if err := a.Init(ctx); err != nil {
		return err
	}
	if *initSchema {
		if err := a.InitSchema(ctx); err != nil {
			return err
		}
	}
	if err := a.Seed(ctx, *seed); err != nil {
		return err
	}
	if !*noFetch {
		if err := a.Run(ctx, stdout); err != nil {
			return err
		}
	}
	if cfg.Observability.MetricsDump {
		return a.WriteMetrics(stdout)
	}
	return nil
}
