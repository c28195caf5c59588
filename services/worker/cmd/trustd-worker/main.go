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
	"trustd/pkg/signer"
	"trustd/pkg/telemetry"
	"trustd/services/executor"
	"trustd/services/registry"
	"trustd/services/scheduler"
	"trustd/services/worker/internal/config"
)

func main() {
	if err := run("trustd-worker"); err != nil {
		log.New(os.Stderr, "", log.LstdFlags).Fatal(err)
	}
}

func run(serviceName string) error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, _, logger, err := telemetry.Init(ctx, serviceName)
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

	queue, err := bus.NewQueue(conn, bus.QueueConfig{
		Stream:     cfg.Queue.Stream,
		Subject:    cfg.Queue.Subject,
		Durable:    cfg.Queue.Durable,
		Visibility: cfg.Queue.Visibility,
		Poll:       cfg.Queue.Poll,
		MaxDeliver: cfg.MaxAttempts + 1,
	})
	if err != nil {
		return fmt.Errorf("open queue: %w", err)
	}
	defer queue.Close()

	weights, err := scoring.LoadWeights(cfg.WeightsFile)
	if err != nil {
		return fmt.Errorf("load scoring weights: %w", err)
	}

	var resultSigner *signer.Signer
	if os.Getenv("AGE_SECRET_KEY") != "" {
		resultSigner, err = signer.NewFromEnv()
		if err != nil {
			return fmt.Errorf("init result signer: %w", err)
		}
		logger.Printf("INFO signing results as %s", resultSigner.Recipient())
	}

	artifacts, err := registry.NewStore(pool)
	if err != nil {
		return err
	}
	jobs, err := scheduler.NewJobStore(pool)
	if err != nil {
		return err
	}
	ctrl, err := scheduler.NewController(jobs, artifacts, weights, resultSigner, logger, scheduler.Config{
		AttemptBudget: cfg.AttemptBudget,
		MaxAttempts:   cfg.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	grader, err := executor.NewGrader(executor.GraderConfig{
		Command:          cfg.Grader.Command,
		Args:             cfg.Grader.Args,
		MemoryLimitBytes: cfg.Grader.MemoryLimitBytes,
		CPUSeconds:       cfg.Grader.CPUSeconds,
		PassEnv:          cfg.Grader.PassEnv,
		WorkDir:          cfg.Grader.WorkDir,
	})
	if err != nil {
		return fmt.Errorf("create grader: %w", err)
	}

	var archiver *executor.Archiver
	if cfg.LogBucket != "" {
		store, err := gos3.NewClientFromEnv()
		if err != nil {
			return fmt.Errorf("create object store client: %w", err)
		}
		archiver, err = executor.NewArchiver(store, cfg.LogBucket)
		if err != nil {
			return err
		}
	}

	workers, err := executor.NewPool(queue, ctrl, grader, archiver, logger, cfg.PoolSize)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}

	errCh := make(chan error, 2)

	go func() {
		workers.Run(ctx)
		errCh <- nil
	}()
	go ctrl.RunSweeper(ctx, cfg.Sweeper.Interval, cfg.Sweeper.Grace, cfg.Sweeper.Retention)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context(), pool); err != nil || !conn.Connected() {
			http.Error(w, "dependencies not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "%s: http shutdown error: %v\n", serviceName, err)
		}
	}()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()

	logger.Printf("INFO worker pool of %d started, metrics on %s", cfg.PoolSize, server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}
