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

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seatcheck/internal/audit"
	"seatcheck/internal/checkin"
	"seatcheck/internal/config"
	"seatcheck/internal/httpapi"
	"seatcheck/internal/httpmiddleware"
	"seatcheck/internal/idempotency"
	"seatcheck/internal/ledger"
	"seatcheck/internal/ledger/memory"
	"seatcheck/internal/ledger/postgres"
	"seatcheck/internal/metrics"
	"seatcheck/internal/queue"
	"seatcheck/internal/roster"
	"seatcheck/internal/rosterclient"
	"seatcheck/internal/store"
	"seatcheck/internal/sweeper"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *store.DB
	if cfg.StoreBackend == "postgres" {
		var err error
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("db connect: %w", err)
		}
		defer db.Close()
		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				return err
			}
			log.Println("schema migrated")
		}
	}

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" || cfg.IdemBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, 0)
		defer redisClient.Close()
		if !redisClient.Healthy(ctx) {
			log.Printf("warning: redis not reachable at %s", cfg.RedisAddr)
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	var ledgers ledger.Store
	if db != nil {
		ledgers = postgres.New(db.Pool)
	} else {
		ledgers = memory.New()
		sw, err := sweeper.New(ledgers.Waiting(), m, nil).Start(cfg.SweepSchedule)
		if err != nil {
			return err
		}
		defer sw.Stop()
	}

	lookup, err := rosterLookup(cfg, db)
	if err != nil {
		return err
	}

	var cache idempotency.Cache
	switch cfg.IdemBackend {
	case "redis":
		cache = idempotency.NewRedis(redisClient.Client, "", cfg.IdemTTL)
	case "memory":
		cache = idempotency.NewMemory(cfg.IdemTTL)
	default:
		cache = idempotency.Nop{}
	}

	var events interface {
		audit.Sink
		audit.Reader
	}
	if db != nil {
		events = audit.NewRepository(db.Pool)
	} else {
		events = audit.NewMemory()
	}
	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	} else {
		q = queue.NewInMemory(256)
		go func() {
			if err := audit.Consume(ctx, q, events, m); err != nil {
				log.Printf("audit consumer stopped: %v", err)
			}
		}()
	}

	window, err := sessionWindow(cfg)
	if err != nil {
		return err
	}
	coord := checkin.New(ledgers, lookup, window, checkin.Options{
		CommitTimeout: cfg.CommitTimeout,
		WaitingTTL:    cfg.WaitingTTL,
		Cache:         cache,
		Publisher:     audit.NewQueuePublisher(q),
		Metrics:       m,
	})

	health := map[string]httpapi.HealthCheck{}
	if redisClient != nil {
		health["redis"] = redisClient.Healthy
	}
	if c, ok := lookup.(*rosterclient.Client); ok {
		health["roster"] = func(ctx context.Context) bool { return c.Health(ctx) == nil }
	}

	r := httpapi.NewRouter(httpapi.Deps{
		Coordinator:   coord,
		Store:         ledgers,
		Events:        events,
		Limiter:       httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		Metrics:       promhttp.Handler(),
		Health:        health,
		JWTSigningKey: cfg.JWTSigningKey,
		JWTIssuer:     cfg.JWTIssuer,
		DevTokens:     !cfg.IsProduction(),
		AccessTTL:     cfg.AccessTTL,
		CORSOrigins:   cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s store=%s queue=%s roster=%s idempotency=%s",
			cfg.HTTPPort, cfg.StoreBackend, cfg.QueueBackend, cfg.RosterBackend, cfg.IdemBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}
	log.Println("server exited")
	return nil
}

func rosterLookup(cfg config.App, db *store.DB) (roster.Lookup, error) {
	switch cfg.RosterBackend {
	case "http":
		return rosterclient.New(cfg.RosterURL, cfg.RosterTimeout), nil
	case "postgres":
		return postgres.NewRosterLookup(db.Pool), nil
	default:
		static, err := roster.ParseStatic(cfg.RosterStatic)
		if err != nil {
			return nil, fmt.Errorf("ROSTER_STATIC: %w", err)
		}
		return static, nil
	}
}

func sessionWindow(cfg config.App) (checkin.SessionWindow, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return checkin.SessionWindow{}, fmt.Errorf("TIMEZONE: %w", err)
	}
	start, err := checkin.ParseClock(cfg.SessionStart)
	if err != nil {
		return checkin.SessionWindow{}, fmt.Errorf("SESSION_START: %w", err)
	}
	overrides, err := checkin.ParseOverrides(cfg.SessionOverride)
	if err != nil {
		return checkin.SessionWindow{}, fmt.Errorf("SESSION_OVERRIDES: %w", err)
	}
	return checkin.SessionWindow{Location: loc, Start: start, LateAfter: cfg.LateAfter, Overrides: overrides}, nil
}
