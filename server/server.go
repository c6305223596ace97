//
// Copyright (C) 2025 textproof Authors. All rights reserved.
//
// textproof is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the proofreading service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/textproof/textproof/app"
	"github.com/textproof/textproof/log"
)

// Server routes HTTP requests to the application components.
type Server struct {
	app    *app.App
	router *mux.Router
}

// New builds the router with CORS enabled for browser frontends.
func New(a *app.App) *Server {
	s := &Server{app: a, router: mux.NewRouter()}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type", "Content-Disposition"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	r := s.router

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.HandleFunc("/api/correct", s.handleCorrect).Methods(http.MethodPost)
	r.HandleFunc("/api/correct/file", s.handleCorrectFile).Methods(http.MethodPost)
	r.HandleFunc("/api/diff", s.handleDiff).Methods(http.MethodPost)

	r.HandleFunc("/api/providers", s.handleProviders).Methods(http.MethodGet)
	r.HandleFunc("/api/models", s.handleModels).Methods(http.MethodGet)

	r.HandleFunc("/api/prompt", s.handleGetPrompt).Methods(http.MethodGet)
	r.HandleFunc("/api/prompt", s.handleSetPrompt).Methods(http.MethodPost)
	r.HandleFunc("/api/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/config", s.handleUpdateConfig).Methods(http.MethodPost)

	r.HandleFunc("/api/tasks", s.handleListTasks).Methods(http.MethodGet)
	r.HandleFunc("/api/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)

	r.HandleFunc("/api/results", s.handleListResults).Methods(http.MethodGet)
	r.HandleFunc("/api/results/manual", s.handleManualResult).Methods(http.MethodPost)
	r.HandleFunc("/api/results/{id}", s.handleGetResult).Methods(http.MethodGet)
	r.HandleFunc("/api/results/{id}", s.handleDeleteResult).Methods(http.MethodDelete)
	r.HandleFunc("/api/results/{id}/chapters/{index}", s.handleGetChapter).Methods(http.MethodGet)
	r.HandleFunc("/api/results/{id}/download", s.handleDownload).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
