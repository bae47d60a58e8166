package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/carepath/adapter/cli"
	cliBilling "github.com/felixgeelhaar/carepath/adapter/cli/billing"
	"github.com/felixgeelhaar/carepath/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/carepath/pkg/config"
	"github.com/felixgeelhaar/carepath/pkg/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Local development falls back to an SQLite file when no hosted store is set.
	if cfg.IsDevelopment() && cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		cfg.SQLitePath = database.DefaultSQLitePath()
	}

	version := cfg.Version
	if version == "" {
		version = cli.Version
	}
	logger := observability.NewLogger(observability.LogConfigFor(cfg.AppEnv, cfg.LogLevel, version))

	cli.SetLogger(logger)
	cli.SetConfig(cfg)
	cli.AddCommand(cliBilling.Cmd)

	cli.Execute(ctx)
}
