package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trustd/pkg/bus"
	"trustd/pkg/db"
	gos3 "trustd/pkg/s3"
	"trustd/pkg/scoring"
	"trustd/pkg/telemetry"
	"trustd/services/api"
	"trustd/services/api/internal/config"
	"trustd/services/registry"
	"trustd/services/scheduler"
)

func main() {
	if err := run("trustd-api"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, middleware, logger, err := telemetry.Init(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownTelemetry != nil {
			if err := shutdownTelemetry(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "%s: telemetry shutdown error: %v\n", serviceName, err)
			}
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	conn, err := bus.New(cfg.NATSURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer conn.Close()

	publisher, err := bus.NewPublisher(conn, cfg.Queue.Stream, cfg.Queue.Subject)
	if err != nil {
		return fmt.Errorf("open queue publisher: %w", err)
	}

	artifacts, err := registry.NewStore(pool)
	if err != nil {
		return err
	}
	jobs, err := scheduler.NewJobStore(pool)
	if err != nil {
		return err
	}
	ctrl, err := scheduler.NewController(jobs, artifacts, scoring.DefaultWeights(), nil, logger, scheduler.Config{})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	checks := map[string]api.HealthCheck{
		"database": func(ctx context.Context) error { return db.Ping(ctx, pool) },
		"queue": func(ctx context.Context) error {
			if !conn.Connected() {
				return errors.New("nats connection is down")
			}
			return nil
		},
	}

	var presigner api.LogPresigner
	if cfg.LogBucket != "" {
		store, err := gos3.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("create object store client: %w", err)
		}
		presigner = store
		checks["objectstore"] = func(ctx context.Context) error {
			return store.HeadBucket(ctx, cfg.LogBucket)
		}
	}

	facade, err := api.New(artifacts, ctrl, publisher, presigner, checks, logger, api.Config{
		MaxSyncWait:  cfg.Sync.MaxWait,
		PollInterval: cfg.Sync.PollInterval,
		DedupWindow:  cfg.Dedup.Window,
		DedupSize:    cfg.Dedup.Size,
		LogBucket:    cfg.LogBucket,
		Version:      cfg.Version,
		Environment:  cfg.Environment,
	})
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}
	routes, err := facade.Routes()
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil {
			http.Error(w, "database not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", routes)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: middleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	logger.Printf("INFO listening on %s", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Printf("ERROR server failed: %v", err)
		return err
	}

	return nil
}
