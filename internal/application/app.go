// Package application wires configuration into a ready import service.
// It is shared by the HTTP server and the csvimport CLI.
package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/subimport/internal/backend"
	"github.com/JonMunkholm/subimport/internal/config"
	"github.com/JonMunkholm/subimport/internal/core"
)

// App holds the service and the resources behind it.
type App struct {
	Service   *core.Service
	Submitter core.BatchSubmitter
	Pool      *pgxpool.Pool // nil unless the postgres backend is used
}

// Close releases the database pool, if any.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// New builds an App from cfg. For the postgres backend it connects, pings
// and ensures the subscribers table exists.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	syn, err := core.LoadSynonyms(cfg.Import.SynonymsFile)
	if err != nil {
		return nil, err
	}

	app := &App{}
	switch cfg.Backend.Name() {
	case "http":
		app.Submitter = backend.NewHTTP(backend.HTTPConfig{
			URL:     cfg.Backend.URL,
			Token:   cfg.Backend.Token,
			Timeout: cfg.Backend.Timeout,
		}, nil, logger)
	case "postgres":
		pool, err := Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		app.Pool = pool
		app.Submitter = backend.NewPostgres(pool, logger)
	case "log":
		app.Submitter = backend.NewLog(logger, cfg.Backend.Concurrency)
	default:
		return nil, fmt.Errorf("unknown backend kind %q", cfg.Backend.Kind)
	}

	app.Service = core.NewService(app.Submitter, ServiceConfig(cfg, syn), logger)
	logger.Info("import service ready", "backend", cfg.Backend.Name(), "max_concurrent", cfg.Import.MaxConcurrent)
	return app, nil
}

// ServiceConfig maps the import section of cfg onto core settings.
func ServiceConfig(cfg *config.Config, syn core.Synonyms) core.ServiceConfig {
	return core.ServiceConfig{
		Read:     core.ReadOptions{MaxSize: cfg.Import.MaxFileSize, Encoding: cfg.Import.Encoding},
		Synonyms: syn,
		Rules: core.ValidationRules{
			MaxNameLength: cfg.Import.MaxNameLength,
			TagDelimiter:  cfg.Import.TagDelimiter,
		},
		Batcher: core.BatcherConfig{
			BatchSize:   cfg.Import.BatchSize,
			RetryBase:   cfg.Import.RetryBase,
			RetryFactor: cfg.Import.RetryFactor,
			MaxRetries:  cfg.Import.MaxRetries,
		},
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		ImportTimeout: cfg.Import.Timeout,
		SessionTTL:    cfg.Import.SessionTTL,
	}
}

// Connect opens and pings a pgx pool sized from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		logger.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		logger.Info("connected to database")
	}
	return pool, nil
}
