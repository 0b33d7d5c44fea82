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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xela07ax/chainvault-custody/internal/audit"
	"github.com/xela07ax/chainvault-custody/internal/connectors"
	"github.com/xela07ax/chainvault-custody/internal/engine"
	"github.com/xela07ax/chainvault-custody/internal/infra"
	"github.com/xela07ax/chainvault-custody/internal/infra/auth"
	"github.com/xela07ax/chainvault-custody/internal/notify"
	"github.com/xela07ax/chainvault-custody/internal/policy"
	"github.com/xela07ax/chainvault-custody/internal/pricing"
	"github.com/xela07ax/chainvault-custody/internal/quota"
	"github.com/xela07ax/chainvault-custody/internal/repository/postgres"
	"github.com/xela07ax/chainvault-custody/internal/spend"
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
	logger = logger.Named("gateway")

	// Контекст для управления жизненным циклом фоновых горутин
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Инфраструктура: Postgres (миграции + пул), Redis
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

	// 3. Аутентификация (проверка RS256-токенов, выданных консолью)
	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("auth public key load failed", zap.Error(err))
	}
	validator := auth.NewBaseValidator(pubKey)

	// 4. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		addr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		logger.Info("metrics endpoint started", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 5. Control Plane: кэш политик + заморозки
	policyCache := policy.NewMemoSource(repo, rdb, logger)
	if err := policyCache.Refresh(appCtx); err != nil {
		logger.Fatal("policy cache cold load failed", zap.Error(err))
	}
	go policyCache.StartListener(appCtx, infra.RedisChanPolicyUpdate)

	freeze := engine.NewFreezeManager(rdb, logger)
	if err := freeze.Init(appCtx); err != nil {
		logger.Fatal("freeze manager init failed", zap.Error(err))
	}
	if frozen, err := repo.GetFrozenWallets(appCtx); err == nil {
		if err := freeze.Warmup(appCtx, frozen); err != nil {
			logger.Warn("freeze warm-up failed", zap.Error(err))
		}
	}
	go freeze.StartListener(appCtx, repo.GetFrozenWallets)

	// 6. Execution Layer: signer + Reliability (Retries, Circuit Breaker)
	var executor connectors.ExecutionProvider
	if cfg.Signer.Mock {
		logger.Warn("using mock signer, no real transactions will be broadcast")
		executor = &connectors.MockSigner{}
	} else {
		conn, err := grpc.NewClient(cfg.Signer.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			logger.Fatal("signer connection failed", zap.Error(err))
		}
		defer conn.Close()
		executor = connectors.NewGRPCSigner(conn)
	}
	safeExecutor := engine.NewReliabilityWrapper(executor, cfg.Engine, metrics)

	// 7. Decision trail (батчевая запись в Postgres)
	trail := audit.NewTrail(repo, cfg.Engine.TrailBufferSize, logger)
	trail.Start()
	defer trail.Stop()

	// 8. Core: оценка, политика, квота, нотификации, оркестратор
	var valuation pricing.Valuation
	if cfg.Pricing.BaseURL != "" {
		valuation = pricing.NewOracleClient(cfg.Pricing.BaseURL, cfg.Pricing.Timeout, logger)
	}

	spendReader := spend.NewReader(repo, logger)
	evaluator := policy.NewEvaluator(spendReader, logger)
	quotaGate := quota.NewGate(rdb, cfg.Quota.MonthlyActions, logger)
	notifier := notify.NewApprovalNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, rdb, logger)

	orch := engine.NewOrchestrator(engine.OrchestratorDeps{
		Policies:    policyCache,
		Wallets:     repo,
		Records:     repo,
		Approvals:   repo,
		Decider:     evaluator,
		Valuation:   valuation,
		Executor:    safeExecutor,
		Freeze:      freeze,
		Quota:       quotaGate,
		Notifier:    notifier,
		Trail:       trail,
		Metrics:     metrics,
		Logger:      logger,
		ApprovalTTL: cfg.Engine.ApprovalTTL,
	})

	// Координатор решений HITL (сигналы от консоли)
	coordinator := engine.NewApprovalCoordinator(orch, rdb, metrics, logger)
	go coordinator.StartListener(appCtx, infra.RedisChanApprovalDecisions)

	// 9. HTTP Server
	gw := engine.NewGatewayServer(orch, repo, repo, validator, metrics, logger)
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      gw.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 10. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("gateway exited properly")
}
