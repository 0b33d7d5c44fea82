package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/console/handler"
	"github.com/xela07ax/chainvault-custody/internal/console/server"
	"github.com/xela07ax/chainvault-custody/internal/console/service"
	"github.com/xela07ax/chainvault-custody/internal/infra"
	"github.com/xela07ax/chainvault-custody/internal/infra/auth"
	"github.com/xela07ax/chainvault-custody/internal/repository/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()
	logger = logger.Named("console")

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура
	if err := postgres.RunMigrations(cfg.Database.URL); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}
	repo, err := postgres.NewRepo(appCtx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
	if err != nil {
		logger.Fatal("database unreachable", zap.Error(err))
	}
	defer repo.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// 3. Ключи RS256: консоль подписывает токены, шлюз только проверяет
	privKey, err := auth.ParseRSAPrivateKey(cfg.Auth.PrivateKey)
	if err != nil {
		logger.Fatal("auth private key load failed", zap.Error(err))
	}
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key load failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 4. Слои (Dependency Injection)
	authService := service.NewAuthService(repo, privKey, cfg.Auth.TokenTTL)
	policyService := service.NewPolicyService(repo, rdb)
	approvalService := service.NewApprovalService(repo, rdb, logger)
	walletService := service.NewWalletService(repo, rdb, logger)
	auditService := service.NewAuditService(repo)

	srvHandler := server.NewConsoleServer(
		cfg,
		logger,
		validator,
		handler.NewAuthHandler(authService),
		handler.NewWalletHandler(walletService),
		handler.NewPolicyHandler(policyService),
		handler.NewApprovalHandler(approvalService),
		handler.NewDashboardHandler(auditService),
		handler.NewAuditHandler(auditService),
	)

	// 5. Фоновая жатва просроченных заявок (страховка поверх lazy expiry)
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Engine.ApprovalSweepSpec, func() {
		approvalService.SweepOverdue(appCtx)
	}); err != nil {
		logger.Fatal("approval sweep schedule invalid", zap.Error(err))
	}
	sweeper.Start()
	defer sweeper.Stop()

	// 6. HTTP Server + Graceful Shutdown
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srvHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("console API started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("console stopping...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("console exited properly")
}
