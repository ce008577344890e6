package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/phonologic/curator/internal/audit"
	"github.com/phonologic/curator/internal/config"
	"github.com/phonologic/curator/internal/curator"
	"github.com/phonologic/curator/internal/knowledge"
	"github.com/phonologic/curator/internal/override"
	"github.com/phonologic/curator/internal/server"
	"github.com/phonologic/curator/internal/staging"
	"github.com/phonologic/curator/pkg/logger"
	"github.com/phonologic/curator/pkg/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(logger.Config{
		Environment: cfg.AppEnv,
		LogLevel:    cfg.LogLevel,
		ServiceName: cfg.AppName,
	})
	defer func() { _ = log.Sync() }()

	client, err := redis.NewClient(redis.Config{
		Host:         cfg.RedisHost,
		Port:         cfg.RedisPort,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     cfg.RedisPoolSize,
		MinIdleConns: cfg.RedisMinIdleConns,
		MaxRetries:   cfg.RedisMaxRetries,
	}, log)
	if err != nil {
		log.Fatal("failed to connect to the shared store", zap.Error(err))
	}
	defer func() { _ = client.Close() }()

	stagingRepo := staging.NewRepository(client, time.Duration(cfg.PendingTTLHours)*time.Hour)
	overrideRepo := override.NewRepository(client)
	auditLog := audit.NewLog(client, cfg.AuditLogCap)
	locks := redis.NewLockManager(client)
	limiter := redis.NewRateLimiter(client)
	snapshots := knowledge.NewProvider(overrideRepo, log)

	svc := curator.NewService(stagingRepo, overrideRepo, auditLog, locks, limiter, snapshots, curator.Config{
		ClarifyThreshold: cfg.ClarifyThreshold,
		LockTTL:          redis.TTLLock,
		RateWindow:       time.Duration(cfg.RateWindowSeconds) * time.Second,
		SubmitMax:        cfg.RateSubmitMax,
		QueryMax:         cfg.RateQueryMax,
	}, log)

	httpServer := server.New(svc, log, cfg.AppPort)

	go func() {
		log.Info("starting HTTP server", zap.String("address", cfg.AppPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
