package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hyphen-sync/internal/config"
	"hyphen-sync/internal/database"
	httpapi "hyphen-sync/internal/http"
	"hyphen-sync/internal/logger"
	"hyphen-sync/internal/metrics"
	"hyphen-sync/internal/repository"
	"hyphen-sync/internal/service"
	"hyphen-sync/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "hyphen-sync")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Starting hyphen-sync",
		zap.String("hyphen_address", cfg.Hyphen.HttpAddress),
		zap.Duration("cache_ttl", cfg.Sync.CacheTTL),
	)

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// redis 热层可选：不可用时回落到纯 postgres 缓存
	var kv store.KV
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			log.Warn("Redis unavailable, hot cache tier disabled", zap.Error(err))
		} else {
			kv = store.NewRedisKV(redisClient)
			defer redisClient.Close()
		}
	}

	collector := metrics.NewCollector("hyphen_sync")

	employeesRepo := repository.NewPostgresEmployeesRepository(db)
	linksRepo := repository.NewPostgresNhisLinksRepository(db)
	cacheRepo := repository.NewPostgresFetchCacheRepository(db)
	snapshotsRepo := repository.NewPostgresSnapshotsRepository(db)

	cacheStore := service.NewFetchCacheStore(cacheRepo, kv, cfg.Sync.CacheTTL, collector, log)
	hyphenClient := service.NewHyphenClient(
		cfg.Hyphen.HttpAddress,
		cfg.Hyphen.ApiKey,
		cfg.Hyphen.Timeout,
		cfg.Hyphen.RateLimit,
		cfg.Hyphen.RateBurst,
		log,
	)
	patcher := service.NewPayloadPatcher(cacheStore, hyphenClient, collector, log)

	syncService := service.NewHealthSyncService(
		employeesRepo,
		linksRepo,
		snapshotsRepo,
		cacheStore,
		patcher,
		hyphenClient,
		service.NewMemoryDedupCoordinator(),
		collector,
		log,
		cfg.Sync.YearLimit,
	)

	router := httpapi.NewRouter(log)
	router.RegisterSyncRoutes(httpapi.NewSyncHandler(syncService, log))
	router.RegisterOpsRoutes(collector.Handler())

	server := service.NewServer(cfg.HTTP.Addr, router, log)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down hyphen-sync")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}
}
