package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"vendpay/config"
	"vendpay/internal/database"
	"vendpay/internal/domain"
	"vendpay/internal/events"
	"vendpay/internal/logger"
	"vendpay/internal/repository"
	"vendpay/internal/router"
	"vendpay/pkg/payment"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logger.Must(cfg.Server.Env)
	defer func() { _ = log.Sync() }()

	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("migrate", zap.Error(err))
	}
	if err := repository.NewSettingRepository(db).SeedDefaults(context.Background(), map[string]string{
		domain.SettingReferralInviterPoints: strconv.FormatInt(cfg.Loyalty.ReferralInviterPoints, 10),
		domain.SettingReferralInvitedPoints: strconv.FormatInt(cfg.Loyalty.ReferralInvitedPoints, 10),
	}); err != nil {
		log.Warn("seed settings", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Warn("redis unreachable, machine names will not be cached", zap.Error(err))
		}
		defer rdb.Close()
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Warn("kafka unavailable, settlement events disabled", zap.Error(err))
		} else {
			publisher = kp
			defer kp.Close()
		}
	}

	var gateway payment.Gateway
	if cfg.Gateway.SecretKey != "" {
		gateway = payment.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, cfg.Gateway.RedirectURL, cfg.Gateway.Timeout, log)
	} else {
		log.Warn("GATEWAY_SECRET_KEY not set, using stub gateway")
		gateway = &payment.StubGateway{}
	}

	engine := router.Setup(cfg, db, rdb, publisher, gateway, log)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
