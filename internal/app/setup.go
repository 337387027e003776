package app

import (
	"fmt"

	"hist-data/internal/fetch"
	"hist-data/internal/ingest"
	"hist-data/internal/normalize"
	"hist-data/internal/slogx"
	"hist-data/internal/source"
	"hist-data/internal/source/databento"
	"hist-data/internal/source/polygon"
)

// ProvideConfig loads config from environment (for Wire).
func ProvideConfig() *Config {
	return LoadConfig()
}

// ProvideSources builds the remote sources enabled by configured API keys.
func ProvideSources(cfg *Config) (map[string]source.Source, error) {
	sources := make(map[string]source.Source)
	if cfg.PolygonAPIKey != "" {
		sources["polygon"] = polygon.New(cfg.PolygonAPIKey)
	}
	if cfg.DatabentoAPIKey != "" {
		sources["databento"] = databento.New(cfg.DatabentoAPIKey)
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no API keys configured (set POLYGON_API_KEY or DATABENTO_API_KEY)")
	}
	return sources, nil
}

// ProvideSchemas loads the provider schema table, preferring the file override.
func ProvideSchemas(cfg *Config) (map[string]normalize.Schema, error) {
	if cfg.SchemasFile != "" {
		return normalize.LoadSchemasFile(cfg.SchemasFile)
	}
	return normalize.LoadSchemas()
}

// ProvideLimiter creates the single process-wide rate limiter.
func ProvideLimiter(cfg *Config) *fetch.Limiter {
	return fetch.NewLimiter(cfg.RequestInterval)
}

// ProvideRunner wires the ingest runner with a slog progress sink.
func ProvideRunner(cfg *Config, sources map[string]source.Source, schemas map[string]normalize.Schema, limiter *fetch.Limiter) *ingest.Runner {
	log := slogx.NewDefault(cfg.LogLevel)
	return ingest.NewRunner(sources, schemas, limiter, nil, log)
}
