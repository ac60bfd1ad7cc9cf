package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flagpost/internal/api"
	"flagpost/internal/config"
	"flagpost/internal/metrics"
	"flagpost/internal/model"
	"flagpost/internal/repository"
	"flagpost/internal/service"
	"flagpost/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("application startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	db, err := initDB(cfg.MySQL)
	if err != nil {
		return err
	}

	flagRepo := repository.NewFlagRepository(db)
	overrideRepo := repository.NewOverrideRepository(db)
	membershipRepo := repository.NewMembershipRepository(db)
	orgRepo := repository.NewOrganizationRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	userRepo := repository.NewUserRepository(db)

	observer := metrics.NewPrometheusObserver()
	hub := service.NewHub(observer, cfg.Stream.HeartbeatInterval)

	idx := service.NewMembershipIndex(membershipRepo)
	guard := service.NewGuard(idx)
	trail := service.NewAuditTrail(auditRepo)
	resolver := service.NewResolver(overrideRepo)

	flagSvc := service.NewFlagService(db, flagRepo, overrideRepo, userRepo, orgRepo, trail, guard, idx, resolver, hub)
	orgSvc := service.NewOrgService(db, orgRepo, membershipRepo, userRepo, idx, guard, trail)
	authSvc := service.NewAuthService(rdb, userRepo, []byte(cfg.Auth.Secret), cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)

	go func() {
		logger.Info("starting hub")
		hub.Run(ctx)
	}()

	r := api.RegisterRoutes(
		api.NewFlagHandler(flagSvc),
		api.NewOrgHandler(orgSvc),
		api.NewStreamHandler(idx, hub, cfg.Stream.ClientBufferSize),
		api.NewAuthHandler(authSvc),
		authSvc,
		rdb,
		cfg.RateLimit.RequestsPerSecond,
	)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited properly")
	return nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mysql: %w", err)
	}

	// Auto-migrate for dev convenience; production deployments should run a
	// proper migration tool.
	err = db.AutoMigrate(
		&model.User{},
		&model.Organization{},
		&model.Membership{},
		&model.Flag{},
		&model.Override{},
		&model.AuditRecord{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
