//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"hist-data/internal/app"
	"hist-data/internal/ingest"
)

// App holds application dependencies built by Wire.
type App struct {
	Config *app.Config
	Runner *ingest.Runner
}

// InitializeApp builds App (Config + Runner) via Wire.
func InitializeApp() (*App, error) {
	wire.Build(
		app.ProvideConfig,
		app.ProvideSources,
		app.ProvideSchemas,
		app.ProvideLimiter,
		app.ProvideRunner,
		wire.Struct(new(App), "Config", "Runner"),
	)
	return nil, nil
}
