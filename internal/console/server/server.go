package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/console/handler"
	"github.com/xela07ax/chainvault-custody/internal/infra"
	"github.com/xela07ax/chainvault-custody/internal/infra/auth"
)

type ConsoleServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов (RS256)
	authValidator auth.TokenValidator

	// Обработчики бизнес-доменов
	authHandler     *handler.AuthHandler     // /auth/token
	walletHandler   *handler.WalletHandler   // /v1/wallets (Freeze)
	policyHandler   *handler.PolicyHandler   // /v1/policies
	approvalHandler *handler.ApprovalHandler // /v1/approvals (HITL)
	dashHandler     *handler.DashboardHandler
	auditHandler    *handler.AuditHandler // /v1/audit + /v1/records
}

// NewConsoleServer инициализирует сервер админки со всеми зависимостями
func NewConsoleServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	authH *handler.AuthHandler,
	walletH *handler.WalletHandler,
	policyH *handler.PolicyHandler,
	approvalH *handler.ApprovalHandler,
	dashH *handler.DashboardHandler,
	auditH *handler.AuditHandler,
) *ConsoleServer {
	s := &ConsoleServer{
		router:          chi.NewRouter(),
		logger:          logger.Named("console-api"),
		cfg:             cfg,
		authValidator:   validator,
		authHandler:     authH,
		walletHandler:   walletH,
		policyHandler:   policyH,
		approvalHandler: approvalH,
		dashHandler:     dashH,
		auditHandler:    auditH,
	}

	s.routes()
	return s
}

func (s *ConsoleServer) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (Открыты для всех) ---
	r.Group(func(r chi.Router) {
		// Логин должен быть доступен без токена
		r.Post("/auth/token", s.authHandler.Login)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		// Dashboard & Stats
		r.Get("/api/v1/dashboard/stats", s.dashHandler.GetStats)

		// Кошельки (Status, Freeze)
		r.Route("/v1/wallets", func(r chi.Router) {
			r.Get("/", s.walletHandler.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.walletHandler.Get)
				r.Post("/freeze", s.walletHandler.Freeze)     // Мгновенная остановка действий
				r.Post("/unfreeze", s.walletHandler.Unfreeze) // Возврат в работу
			})
		})

		// Управление политиками (Policy Engine)
		r.Route("/v1/policies", func(r chi.Router) {
			r.Get("/", s.policyHandler.List)    // Все политики (или ?wallet_id=)
			r.Post("/", s.policyHandler.Create) // Новая политика
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.policyHandler.Get)
				r.Put("/", s.policyHandler.Update)
				r.Delete("/", s.policyHandler.Delete)
			})
		})

		// Human-in-the-loop (Approvals)
		r.Route("/v1/approvals", func(r chi.Router) {
			r.Get("/", s.approvalHandler.List) // Очередь запросов на проверку
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.approvalHandler.GetDetails)
				r.Post("/decide", s.approvalHandler.Decide) // Approve/Reject + Redis Publish
			})
		})

		// Журнал транзакций и decision trail (Observability)
		r.Route("/v1/records", func(r chi.Router) {
			r.Get("/", s.auditHandler.ListRecords)
			r.Get("/{id}", s.auditHandler.GetRecord)
		})
		r.Get("/v1/audit", s.auditHandler.GetEvents)
	})
}

// ServeHTTP позволяет использовать ConsoleServer как стандартный http.Handler
func (s *ConsoleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
