package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hostfact/internal/logging"
	"hostfact/internal/server"
)

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	dev := flag.Bool("dev", false, "in-memory store, no database")
	flag.Parse()

	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	addr := env("HF_ADDR", ":8085")
	dbPath := env("HF_DB_PATH", "./data/hostfact.db")
	enrollToken := env("HF_ENROLL_TOKEN", "")
	adminKey := env("HF_ADMIN_KEY", "")

	log, cleanup, err := logging.New(env("HF_LOG_LEVEL", "info"), env("HF_LOG_FILE", ""))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer cleanup()

	if enrollToken == "" {
		log.Error("HF_ENROLL_TOKEN is required")
		os.Exit(1)
	}
	if adminKey == "" {
		log.Warn("HF_ADMIN_KEY not set, admin endpoints disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store server.Store
	if *dev {
		log.Info("using in-memory store")
		store = server.NewMemStore()
	} else {
		if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				log.Error("cannot create db dir", "dir", dir, "err", err)
				os.Exit(1)
			}
		}
		db, err := server.OpenDB(dbPath)
		if err != nil {
			log.Error("cannot open db", "path", dbPath, "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := server.RunMigrations(log, db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		log.Info("database ready", "path", dbPath)
		store = server.NewSQLiteStore(db)
	}

	hub := server.NewHub(log)
	go hub.Run(ctx)

	api := &server.API{
		Log:         log,
		Store:       store,
		Hub:         hub,
		EnrollToken: enrollToken,
		AdminKey:    adminKey,
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown failed", "err", err)
			os.Exit(1)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "err", err)
			os.Exit(1)
		}
	}
}
