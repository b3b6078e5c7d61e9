// Package main is the entry point for the relay process.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"github.com/ktauchathuranga/notebud/internal/auth"
	"github.com/ktauchathuranga/notebud/internal/config"
	"github.com/ktauchathuranga/notebud/internal/directory"
	"github.com/ktauchathuranga/notebud/internal/logging"
	"github.com/ktauchathuranga/notebud/internal/registry"
	"github.com/ktauchathuranga/notebud/internal/router"
	"github.com/ktauchathuranga/notebud/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting relay", zap.String("port", cfg.Port))

	db, err := sql.Open("postgres", cfg.DBConnStr)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	dir := directory.NewPostgres(db)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := dir.Migrate(ctx); err != nil {
		cancel()
		log.Fatal("failed to migrate schema", zap.Error(err))
	}
	cancel()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	reg := registry.New()
	rt := router.New(reg, dir, verifier, log.Named("router"))
	server := ws.NewServer(rt, dir, log.Named("ws"))

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
	}))

	r.Get("/", server.HandleRoot)
	r.Get("/healthz", server.HandleHealthz)
	r.Get("/ws", server.HandleWS)
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  0, // websocket connections are long-lived
		WriteTimeout: 0,
	}

	log.Info("relay listening", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
