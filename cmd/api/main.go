package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/punchamoorthee/payledger/internal/api"
	"github.com/punchamoorthee/payledger/internal/config"
	"github.com/punchamoorthee/payledger/internal/events"
	"github.com/punchamoorthee/payledger/internal/logger"
	"github.com/punchamoorthee/payledger/internal/service"
	"github.com/punchamoorthee/payledger/internal/store"
	"github.com/punchamoorthee/payledger/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("unable to open store", zap.Error(err))
	}
	defer st.Close()

	hub := events.NewHub(log)
	publishers := events.Fanout{hub}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, continuing without it", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer rdb.Close()
		publishers = append(publishers, events.NewRedisPublisher(rdb, cfg.RedisEventsChannel, log))
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer kp.Close()
		publishers = append(publishers, kp)
	}

	dispatcher := webhook.NewDispatcher(cfg.WebhookSecret, cfg.WebhookTimeout, st, log)

	transfers := service.NewTransferService(st, publishers, log, cfg.BalanceCeiling)
	registry := service.NewPaymentRequestRegistry(st, transfers, dispatcher, log, cfg.QRRequestTTL, cfg.ExternalRequestTTL)
	gateway, err := service.NewGatewayService(st, transfers, registry, log)
	if err != nil {
		log.Fatal("unable to build gateway", zap.Error(err))
	}

	handler := api.NewHandler(api.Deps{
		Store:              st,
		Transfers:          transfers,
		Registry:           registry,
		Gateway:            gateway,
		Hub:                hub,
		Redis:              rdb,
		Logger:             log,
		JWTSecret:          cfg.JWTSecret,
		AdminToken:         cfg.AdminToken,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		CORSOrigins:        cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server starting",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
			zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	dispatcher.Wait()
	log.Info("server exited")
}

func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.StoreDriver == config.DriverMemory {
		log.Warn("using in-memory store, data is lost on restart")
		return store.NewMemoryStore(cfg.LockTimeout), nil
	}
	pg, err := store.NewPostgresStore(ctx, cfg.DBSource, cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
