package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/anzu-ai/anzu"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("ANZU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := anzu.New(
		anzu.WithVersion(version),
		anzu.WithLogger(logger),
	)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return 1
	}

	if err := app.Run(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}
