//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package app wires the service components together: config, prompts, the
// adapter registry, the durable store, the task manager and the worker
// pool. The HTTP layer talks to an App instead of to individual packages.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/textproof/textproof/config"
	"github.com/textproof/textproof/engine"
	"github.com/textproof/textproof/prompt"
	"github.com/textproof/textproof/provider"
	"github.com/textproof/textproof/store"
	"github.com/textproof/textproof/task"
)

const (
	defaultPoolSize = 8
	databaseFile    = "textproof.db"
	healthTimeout   = 5 * time.Second
)

// Options configures App construction.
type Options struct {
	// BaseDir anchors relative prompt paths and the dotfile. Defaults to
	// the working directory.
	BaseDir string
	// DotfilePath is the KEY=VALUE config file. Defaults to BaseDir/.env.
	DotfilePath string
	// CacheDir holds the database. Defaults to BaseDir/cache.
	CacheDir string
	// PoolSize bounds concurrently running background tasks.
	PoolSize int
}

// App owns the long-lived service state.
type App struct {
	Config   *config.Store
	Prompts  *prompt.Manager
	Registry *provider.Registry
	Store    *store.Store
	Tasks    *task.Manager
	Pool     *ants.Pool

	// PreCorrector, when set, runs on the per-sentence path.
	PreCorrector engine.PreCorrector
}

// New loads configuration and opens every component.
func New(opts Options) (*App, error) {
	if opts.BaseDir == "" {
		opts.BaseDir = "."
	}
	if opts.DotfilePath == "" {
		opts.DotfilePath = filepath.Join(opts.BaseDir, ".env")
	}
	if opts.CacheDir == "" {
		opts.CacheDir = filepath.Join(opts.BaseDir, "cache")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = defaultPoolSize
	}

	cfg, err := config.Load(opts.DotfilePath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	settings := cfg.Snapshot()

	prompts := prompt.NewManager(opts.BaseDir, settings.PromptFile, settings.OllamaPromptFile)
	prompts.Reload()

	registry := provider.NewRegistry()
	cfg.OnChange(registry.Invalidate)

	st, err := store.Open(filepath.Join(opts.CacheDir, databaseFile))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	pool, err := ants.NewPool(opts.PoolSize)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &App{
		Config:   cfg,
		Prompts:  prompts,
		Registry: registry,
		Store:    st,
		Tasks:    task.NewManager(st),
		Pool:     pool,
	}, nil
}

// Close releases the pool and the database.
func (a *App) Close() {
	if a.Pool != nil {
		a.Pool.Release()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

// NewEngine builds an engine for one request. Empty provider or model fall
// back to the configured defaults; chunkSize/chunkOverlap of 0 use the
// provider-appropriate configured values.
func (a *App) NewEngine(providerName, model string, chunkSize, chunkOverlap int) (*engine.Engine, error) {
	settings := a.Config.Snapshot()

	if providerName == "" {
		providerName = settings.DefaultModelProvider
	}
	name, err := provider.ParseName(providerName)
	if err != nil {
		return nil, err
	}

	p, err := a.Registry.Get(settings, name, model)
	if err != nil {
		return nil, err
	}

	size, overlap := settings.ChunkSize, settings.ChunkOverlap
	if name == provider.Ollama {
		size, overlap = settings.OllamaChunkSize, settings.OllamaChunkOverlap
	}
	if chunkSize > 0 {
		size = chunkSize
	}
	if chunkOverlap > 0 {
		overlap = chunkOverlap
	}

	opts := engine.Options{
		Provider:             p,
		Prompt:               a.Prompts.Get(string(name)),
		ChunkSize:            size,
		ChunkOverlap:         overlap,
		OllamaChunkSize:      settings.OllamaChunkSize,
		FastProviderMaxChars: settings.FastProviderMaxChars,
		MaxRetries:           settings.MaxRetries,
		RetryDelay:           settings.RetryDelayDuration(),
	}
	if name == provider.Ollama && settings.OllamaUsePreCorrector {
		opts.PreCorrector = a.PreCorrector
	}
	return engine.New(opts)
}

// HealthCheck probes one provider/model pair.
func (a *App) HealthCheck(ctx context.Context, providerName, model string) (provider.Name, string, bool) {
	settings := a.Config.Snapshot()
	if providerName == "" {
		providerName = settings.DefaultModelProvider
	}
	name, err := provider.ParseName(providerName)
	if err != nil {
		return provider.Name(providerName), model, false
	}
	p, err := a.Registry.Get(settings, name, model)
	if err != nil {
		return name, model, false
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return name, p.Model(), p.Health(ctx)
}
