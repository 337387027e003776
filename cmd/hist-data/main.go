package main

import (
	"log/slog"
	"os"

	"hist-data/internal/app"
	"hist-data/internal/slogx"
)

func init() {
	slog.SetDefault(slogx.NewDefault("info"))
}

func main() {
	a, err := InitializeApp()
	if err != nil {
		slog.Error("failed to initialize app", "error", err)
		os.Exit(1)
	}

	cfg := a.Config
	slog.SetDefault(slogx.NewDefault(cfg.LogLevel))

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		slog.Error("failed to create data dir", "error", err)
		os.Exit(1)
	}
	slog.Info("data dir", "dir", cfg.DataDir, "format", cfg.SaveFormat)
	slog.Info("rate limit", "interval", cfg.RequestInterval)

	app.RunFlow(cfg, a.Runner)
}
