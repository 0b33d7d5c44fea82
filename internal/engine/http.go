package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/connectors"
	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra/auth"
	"github.com/xela07ax/chainvault-custody/internal/quota"
)

// ApprovalReader нужен шлюзу для ленивого истечения заявок при чтении записи.
type ApprovalReader interface {
	GetApprovalByRecordID(ctx context.Context, recordID string) (*domain.ApprovalRequest, error)
	ExpireApproval(ctx context.Context, id string) (string, error)
}

// GatewayServer — data plane: прием действий и поллинг записей.
type GatewayServer struct {
	router    *chi.Mux
	logger    *zap.Logger
	orch      *Orchestrator
	records   RecordStore
	approvals ApprovalReader
	metrics   *Metrics

	authValidator auth.TokenValidator
}

func NewGatewayServer(orch *Orchestrator, records RecordStore, approvals ApprovalReader, validator auth.TokenValidator, metrics *Metrics, logger *zap.Logger) *GatewayServer {
	s := &GatewayServer{
		router:        chi.NewRouter(),
		logger:        logger.Named("gateway-api"),
		orch:          orch,
		records:       records,
		approvals:     approvals,
		metrics:       metrics,
		authValidator: validator,
	}
	s.routes()
	return s
}

func (s *GatewayServer) Handler() http.Handler { return s.router }

func (s *GatewayServer) routes() {
	r := s.router

	// --- Глобальные инфраструктурные Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- Защищенный периметр (RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Route("/v1/wallets/{id}", func(r chi.Router) {
			r.Post("/transfer", s.handleTransfer)
			r.Post("/call", s.handleCall)
			r.Post("/swap", s.handleSwap)
		})

		r.Get("/v1/records/{id}", s.handleGetRecord)
	})
}

// --- DTO входящих запросов ---

type transferRequest struct {
	To           string `json:"to"`
	ChainID      int64  `json:"chain_id"`
	Value        string `json:"value,omitempty"`         // Wei, для нативного перевода
	TokenAddress string `json:"token_address,omitempty"` // Контракт токена
	TokenAmount  string `json:"token_amount,omitempty"`  // Базовые единицы токена
}

type callRequest struct {
	To       string `json:"to"`
	ChainID  int64  `json:"chain_id"`
	Value    string `json:"value,omitempty"`
	Selector string `json:"selector"` // Первые 4 байта calldata
}

type swapRequest struct {
	Router     string `json:"router"` // Адрес роутера DEX
	ChainID    int64  `json:"chain_id"`
	SellToken  string `json:"sell_token"`
	SellAmount string `json:"sell_amount"`
	BuyToken   string `json:"buy_token"`
}

func (s *GatewayServer) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" {
		s.respondError(w, http.StatusBadRequest, "'to' is required")
		return
	}
	if req.Value == "" && (req.TokenAddress == "" || req.TokenAmount == "") {
		s.respondError(w, http.StatusBadRequest, "either 'value' or 'token_address'+'token_amount' is required")
		return
	}

	action := domain.ProposedAction{
		To:           req.To,
		ChainID:      req.ChainID,
		Value:        req.Value,
		TokenAddress: req.TokenAddress,
		TokenAmount:  req.TokenAmount,
	}
	res, err := s.orch.AuthorizeTransfer(r.Context(), chi.URLParam(r, "id"), action)
	s.respondAuthorize(w, res, err)
}

func (s *GatewayServer) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" || req.Selector == "" {
		s.respondError(w, http.StatusBadRequest, "'to' and 'selector' are required")
		return
	}

	action := domain.ProposedAction{
		To:       req.To,
		ChainID:  req.ChainID,
		Value:    req.Value,
		Selector: req.Selector,
	}
	res, err := s.orch.AuthorizeCall(r.Context(), chi.URLParam(r, "id"), action)
	s.respondAuthorize(w, res, err)
}

func (s *GatewayServer) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Router == "" || req.SellToken == "" || req.SellAmount == "" {
		s.respondError(w, http.StatusBadRequest, "'router', 'sell_token' and 'sell_amount' are required")
		return
	}

	action := domain.ProposedAction{
		To:         req.Router,
		ChainID:    req.ChainID,
		SellToken:  req.SellToken,
		SellAmount: req.SellAmount,
		BuyToken:   req.BuyToken,
	}
	res, err := s.orch.AuthorizeSwap(r.Context(), chi.URLParam(r, "id"), action)
	s.respondAuthorize(w, res, err)
}

// respondAuthorize переводит итог оркестратора в HTTP-коды:
// executed — 200, pending_approval — 202, denied — 403, failed — 502.
func (s *GatewayServer) respondAuthorize(w http.ResponseWriter, res *AuthorizeResult, err error) {
	if err != nil {
		var quotaErr *quota.QuotaError
		var execErr *connectors.ExecutionError
		switch {
		case errors.Is(err, ErrWalletNotFound):
			s.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ErrWalletFrozen):
			s.respondError(w, http.StatusForbidden, err.Error())
		case errors.As(err, &quotaErr):
			s.respondError(w, http.StatusTooManyRequests, err.Error())
		case errors.As(err, &execErr):
			// Запись уже финализирована как FAILED — отдаем клиенту детали
			s.respondJSON(w, http.StatusBadGateway, res)
		default:
			s.logger.Error("authorization failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	switch res.Status {
	case StatusPendingApproval:
		s.respondJSON(w, http.StatusAccepted, res)
	case StatusDenied:
		s.respondJSON(w, http.StatusForbidden, res)
	default:
		s.respondJSON(w, http.StatusOK, res)
	}
}

// handleGetRecord — поллинг статуса. Здесь работает контракт ленивого
// истечения: PENDING-запись с просроченной заявкой отдается как DENIED.
func (s *GatewayServer) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	record, err := s.records.GetRecordByID(ctx, id)
	if err != nil {
		s.logger.Error("record lookup failed", zap.String("record_id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if record == nil {
		s.respondError(w, http.StatusNotFound, "record not found")
		return
	}

	if record.Status == domain.RecordPending {
		record = s.expireLazily(ctx, record)
	}

	s.respondJSON(w, http.StatusOK, record)
}

// expireLazily проверяет дедлайн связанной заявки и при просрочке
// финализирует ее и запись. Гонку с параллельным решением выигрывает БД.
func (s *GatewayServer) expireLazily(ctx context.Context, record *domain.TransactionRecord) *domain.TransactionRecord {
	app, err := s.approvals.GetApprovalByRecordID(ctx, record.ID)
	if err != nil || app == nil {
		return record
	}
	if !app.IsExpired(time.Now()) {
		return record
	}

	if _, err := s.approvals.ExpireApproval(ctx, app.ID); err != nil {
		// Заявку успели зарезолвить — отдаем запись как есть
		return record
	}
	s.metrics.ApprovalsResolved.WithLabelValues(string(domain.ApprovalExpired)).Inc()

	if err := s.orch.FinalizeDeniedRecord(ctx, record.ID, "approval timed out"); err != nil {
		s.logger.Error("record denial failed", zap.String("record_id", record.ID), zap.Error(err))
		return record
	}

	updated, err := s.records.GetRecordByID(ctx, record.ID)
	if err != nil || updated == nil {
		return record
	}
	return updated
}

func (s *GatewayServer) respondJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *GatewayServer) respondError(w http.ResponseWriter, code int, msg string) {
	s.respondJSON(w, code, map[string]string{"error": msg})
}
