package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"github.com/pscheid92/chatrelay/internal/config"
	"github.com/pscheid92/chatrelay/internal/hub"
	"github.com/pscheid92/chatrelay/internal/logging"
	"github.com/pscheid92/chatrelay/internal/postgres"
	"github.com/pscheid92/chatrelay/internal/recorder"
	"github.com/pscheid92/chatrelay/internal/redis"
	"github.com/pscheid92/chatrelay/internal/relay"
	"github.com/pscheid92/chatrelay/internal/server"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupDB(cfg *config.Config) *pgxpool.Pool {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	return pool
}

func setupRedis(cfg *config.Config) *goredis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redis.NewClient(ctx, cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

func runGracefulShutdown(srv *server.Server, chatHub *hub.Hub, rec *recorder.Recorder, timeout time.Duration) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		chatHub.Stop()

		drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeout)
		defer cancelDrain()
		if err := rec.Close(drainCtx); err != nil {
			slog.Error("Recorder drain error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "room", cfg.Room)

	pool := setupDB(cfg)
	defer pool.Close()

	redisClient := setupRedis(cfg)
	defer func() { _ = redisClient.Close() }()

	eventRepo := postgres.NewEventRepo(pool)
	messageRepo := postgres.NewMessageRepo(pool)

	rec := recorder.New(eventRepo, cfg.RecorderBufferSize)
	history := redis.NewHistoryCache(redisClient, cfg.Room, cfg.HistoryReplayLimit)

	chatHub := hub.NewHub(clock, cfg.MaxClientsPerRoom)
	coordinator := relay.NewCoordinator(chatHub, rec, messageRepo, history, clock, cfg.Room)

	srv := server.NewServer(cfg, coordinator, eventRepo, messageRepo, pool, redisClient)

	done := runGracefulShutdown(srv, chatHub, rec, cfg.ShutdownTimeout)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
