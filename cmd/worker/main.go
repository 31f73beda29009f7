package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seatcheck/internal/audit"
	"seatcheck/internal/config"
	"seatcheck/internal/ledger/postgres"
	"seatcheck/internal/metrics"
	"seatcheck/internal/queue"
	"seatcheck/internal/store"
	"seatcheck/internal/sweeper"
)

// Worker stores audit events from the queue and sweeps the Postgres waiting room.
func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			log.Fatalf("migrate failed: %v", err)
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.MetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

	sw, err := sweeper.New(postgres.New(db.Pool).Waiting(), m, nil).Start(cfg.SweepSchedule)
	if err != nil {
		log.Fatalf("sweeper: %v", err)
	}
	defer sw.Stop()

	if cfg.QueueBackend != "redis" {
		log.Println("QUEUE_BACKEND is not redis; audit events are stored by the api process")
		<-ctx.Done()
		log.Println("worker stopped")
		return
	}

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, 0)
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)

	log.Println("worker started, waiting for audit events...")
	if err := audit.Consume(ctx, q, audit.NewRepository(db.Pool), m); err != nil {
		log.Printf("audit consumer failed: %v", err)
	}
	log.Println("worker stopped")
}
