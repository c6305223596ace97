//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Command textproofd runs the Chinese text proofreading HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/textproof/textproof/app"
	"github.com/textproof/textproof/log"
	"github.com/textproof/textproof/server"
)

func main() {
	addr := flag.String("addr", ":8000", "listen address")
	baseDir := flag.String("base-dir", ".", "directory anchoring the dotfile, prompts and cache")
	envFile := flag.String("env-file", "", "path to the KEY=VALUE config file (default base-dir/.env)")
	cacheDir := flag.String("cache-dir", "", "directory for the results database (default base-dir/cache)")
	poolSize := flag.Int("pool-size", 0, "maximum concurrent background tasks")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	log.SetLevel(*logLevel)

	a, err := app.New(app.Options{
		BaseDir:     *baseDir,
		DotfilePath: *envFile,
		CacheDir:    *cacheDir,
		PoolSize:    *poolSize,
	})
	if err != nil {
		log.Errorf("startup failed: %v", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.New(a).Run(ctx, *addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Errorf("server stopped: %v", err)
		os.Exit(1)
	}
	log.Infof("shutdown complete")
}
