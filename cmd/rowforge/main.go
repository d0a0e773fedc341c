package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rowforge/rowforge/internal/activities"
	"github.com/rowforge/rowforge/internal/api"
	"github.com/rowforge/rowforge/internal/config"
	"github.com/rowforge/rowforge/internal/dedupe"
	"github.com/rowforge/rowforge/internal/engine"
	"github.com/rowforge/rowforge/internal/fileprovider"
	"github.com/rowforge/rowforge/internal/logging"
	"github.com/rowforge/rowforge/internal/metrics"
	"github.com/rowforge/rowforge/internal/spool"
	"github.com/rowforge/rowforge/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Info("rowforge starting", "addr", cfg.Server.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	jobStore, err := store.NewPostgresRepository(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer jobStore.Close()

	spoolStore, err := spool.OpenGormStore(cfg.Spool.SQLitePath)
	if err != nil {
		log.Fatalf("open spool: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer redisClient.Close()
	dedupIndex := dedupe.NewRedisIndex(redisClient, 48*time.Hour)

	provider := fileprovider.NewBlobProvider()

	rowActs := activities.NewRowRangeActivities(provider, jobStore, dedupIndex, spoolStore, cfg.Engine.BoundaryScanWindowBytes)
	fileActs := activities.NewFileActivities(provider, spoolStore, jobStore, dedupIndex, cfg.Engine.AnalysisSampleBytes)

	m := metrics.Init("rowforge")
	eng := engine.New(rowActs, fileActs, jobStore, jobStore, m, cfg.Engine.BatchSize, cfg.Engine.ProgressFlushEveryNBatches)

	srv := api.NewServer(eng, cfg.Server.APIKey, cfg.Engine)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	serverLogger := logging.Component("http-server")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			serverLogger.Warn("http server shutdown error", "error", err)
		}
	}()

	serverLogger.Info("http server listening", "addr", cfg.Server.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server: %v", err)
	}

	serverLogger.Info("rowforge stopped cleanly")
}
