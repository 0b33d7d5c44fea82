package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/audit"
	"github.com/xela07ax/chainvault-custody/internal/connectors"
	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/infra/auth"
	"github.com/xela07ax/chainvault-custody/internal/pricing"
)

// Интерфейсы зависимостей объявляем на стороне потребителя:
// конкретика (pgx, redis) живет в repository/quota, оркестратору хватает контракта.

type PolicySource interface {
	PoliciesFor(ctx context.Context, walletID string) ([]domain.Policy, error)
}

type WalletStore interface {
	GetWallet(ctx context.Context, id string) (*domain.Wallet, error)
	TouchWalletActivity(ctx context.Context, id string) error
}

type RecordStore interface {
	CreateRecord(ctx context.Context, rec *domain.TransactionRecord) error
	GetRecordByID(ctx context.Context, id string) (*domain.TransactionRecord, error)
	FinalizeExecuted(ctx context.Context, id, txHash string, response json.RawMessage) error
	FinalizeFailed(ctx context.Context, id, reason string, response json.RawMessage) error
	FinalizeDenied(ctx context.Context, id, reason string) error
}

type ApprovalStore interface {
	CreateApproval(ctx context.Context, app *domain.ApprovalRequest) error
}

// QuotaGate возвращает типизированную ошибку квоты при исчерпании месячного
// лимита действий владельца (или недоступности квотного бэкенда — fail-closed).
type QuotaGate interface {
	Consume(ctx context.Context, ownerID string) error
}

// Notifier шлет уведомление о новой заявке на подтверждение. Fire-and-forget:
// сбой доставки не должен ронять ответ оркестратора.
type Notifier interface {
	ApprovalCreated(app *domain.ApprovalRequest, action domain.ProposedAction)
}

type Decider interface {
	Evaluate(ctx context.Context, walletID string, policies []domain.Policy, action domain.ProposedAction) domain.Verdict
	CheckSellToken(policies []domain.Policy, sellToken string) domain.Verdict
}

// Итог авторизации для клиента: статус + запись, по которой можно поллить.
type AuthorizeResult struct {
	Status     string     `json:"status"` // executed / denied / pending_approval / failed
	RecordID   string     `json:"record_id"`
	TxHash     string     `json:"tx_hash,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	ApprovalID string     `json:"approval_id,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

const (
	StatusExecuted        = "executed"
	StatusDenied          = "denied"
	StatusPendingApproval = "pending_approval"
	StatusFailed          = "failed"
)

type Orchestrator struct {
	policies  PolicySource
	wallets   WalletStore
	records   RecordStore
	approvals ApprovalStore
	decider   Decider
	valuation pricing.Valuation
	executor  connectors.ExecutionProvider
	freeze    *FreezeManager
	quota     QuotaGate
	notifier  Notifier
	trail     *audit.Trail
	metrics   *Metrics
	logger    *zap.Logger

	approvalTTL time.Duration
}

type OrchestratorDeps struct {
	Policies  PolicySource
	Wallets   WalletStore
	Records   RecordStore
	Approvals ApprovalStore
	Decider   Decider
	Valuation pricing.Valuation
	Executor  connectors.ExecutionProvider
	Freeze    *FreezeManager
	Quota     QuotaGate
	Notifier  Notifier
	Trail     *audit.Trail
	Metrics   *Metrics
	Logger    *zap.Logger

	ApprovalTTL time.Duration
}

func NewOrchestrator(d OrchestratorDeps) *Orchestrator {
	if d.ApprovalTTL <= 0 {
		d.ApprovalTTL = 30 * time.Minute
	}
	return &Orchestrator{
		policies:    d.Policies,
		wallets:     d.Wallets,
		records:     d.Records,
		approvals:   d.Approvals,
		decider:     d.Decider,
		valuation:   d.Valuation,
		executor:    d.Executor,
		freeze:      d.Freeze,
		quota:       d.Quota,
		notifier:    d.Notifier,
		trail:       d.Trail,
		metrics:     d.Metrics,
		logger:      d.Logger,
		approvalTTL: d.ApprovalTTL,
	}
}

func (o *Orchestrator) AuthorizeTransfer(ctx context.Context, walletID string, action domain.ProposedAction) (*AuthorizeResult, error) {
	action.Kind = domain.ActionTransfer
	return o.authorize(ctx, walletID, action)
}

func (o *Orchestrator) AuthorizeCall(ctx context.Context, walletID string, action domain.ProposedAction) (*AuthorizeResult, error) {
	action.Kind = domain.ActionCall
	return o.authorize(ctx, walletID, action)
}

func (o *Orchestrator) AuthorizeSwap(ctx context.Context, walletID string, action domain.ProposedAction) (*AuthorizeResult, error) {
	action.Kind = domain.ActionSwap
	return o.authorize(ctx, walletID, action)
}

func (o *Orchestrator) authorize(ctx context.Context, walletID string, action domain.ProposedAction) (res *AuthorizeResult, err error) {
	o.metrics.TotalActions.WithLabelValues(string(action.Kind)).Inc()
	start := time.Now()

	event := audit.DecisionEvent{
		ID:         uuid.New().String(),
		TraceID:    extractTraceID(ctx),
		WalletID:   walletID,
		ActionKind: string(action.Kind),
		Timestamp:  start,
	}

	defer func() {
		event.DurationMs = time.Since(start).Milliseconds()
		o.metrics.AuthorizeDuration.WithLabelValues(string(action.Kind), event.Status).Observe(time.Since(start).Seconds())
		o.trail.Record(event)
		o.metrics.TrailBufferFill.Set(float64(o.trail.BufferLen()))
	}()

	// 1. Кошелек и заморозка (самая дешевая проверка — in-memory)
	wallet, err := o.wallets.GetWallet(ctx, walletID)
	if err != nil {
		event.Status = "ERROR"
		event.Error = err.Error()
		return nil, fmt.Errorf("wallet lookup: %w", err)
	}
	if wallet == nil {
		event.Status = "NOT_FOUND"
		return nil, ErrWalletNotFound
	}
	if o.freeze.IsFrozen(walletID) || wallet.Status == domain.WalletFrozen {
		event.Status = "FROZEN"
		return nil, ErrWalletFrozen
	}

	// 2. Месячная квота владельца — до любой работы с политиками
	if err := o.quota.Consume(ctx, wallet.OwnerID); err != nil {
		event.Status = "QUOTA_DENIED"
		event.Error = err.Error()
		return nil, err
	}

	// 3. Оценка в USD — best-effort. nil означает "оракул не смог";
	// fail-closed/fail-open решает конкретный вид политики в evaluator'е.
	action.USDValue = o.resolveUSD(ctx, action)
	event.USDValue = action.USDValue

	// 4. Вердикт
	policies, err := o.policies.PoliciesFor(ctx, walletID)
	if err != nil {
		event.Status = "ERROR"
		event.Error = err.Error()
		return nil, fmt.Errorf("policy lookup: %w", err)
	}

	verdict := o.decider.Evaluate(ctx, walletID, policies, action)
	if action.Kind == domain.ActionSwap {
		// Вторичная проверка продаваемого токена; более строгий вердикт побеждает
		verdict = worseOf(verdict, o.decider.CheckSellToken(policies, action.SellToken))
	}

	o.metrics.Verdicts.WithLabelValues(string(verdict.Decision), policyKindLabel(verdict)).Inc()
	event.Decision = string(verdict.Decision)
	event.PolicyKind = string(verdict.PolicyKind)
	event.Reason = verdict.Reason

	// 5. Запись в журнал транзакций. DENIED финален сразу, остальное — PENDING.
	record, err := o.createRecord(ctx, walletID, action, verdict)
	if err != nil {
		event.Status = "ERROR"
		event.Error = err.Error()
		return nil, fmt.Errorf("create record: %w", err)
	}
	event.RecordID = record.ID

	switch verdict.Decision {
	case domain.DecisionDeny:
		event.Status = "DENIED"
		return &AuthorizeResult{Status: StatusDenied, RecordID: record.ID, Reason: verdict.Reason}, nil

	case domain.DecisionRequireApproval:
		return o.requestApproval(ctx, record, action, verdict, &event)

	default:
		return o.execute(ctx, record, wallet.KeyRef, action, &event)
	}
}

func (o *Orchestrator) resolveUSD(ctx context.Context, action domain.ProposedAction) *float64 {
	if o.valuation == nil {
		return nil
	}

	asset := pricing.Asset{ChainID: action.ChainID}
	amount := action.Value
	switch {
	case action.Kind == domain.ActionSwap:
		asset.Token = action.SellToken
		amount = action.SellAmount
	case action.HasToken():
		asset.Token = action.TokenAddress
		amount = action.TokenAmount
	}
	if amount == "" {
		return nil
	}

	usd, err := o.valuation.ResolveUSD(ctx, asset, amount)
	if err != nil {
		o.logger.Warn("usd valuation unavailable",
			zap.String("token", asset.Token), zap.Int64("chain_id", asset.ChainID), zap.Error(err))
		return nil
	}
	return &usd
}

func (o *Orchestrator) createRecord(ctx context.Context, walletID string, action domain.ProposedAction, verdict domain.Verdict) (*domain.TransactionRecord, error) {
	reqBody, err := domain.EncodeRequest(action)
	if err != nil {
		return nil, err
	}

	record := &domain.TransactionRecord{
		ID:         uuid.New().String(),
		WalletID:   walletID,
		ActionKind: action.Kind,
		Request:    reqBody,
		Status:     domain.RecordPending,
	}
	// От чьего имени пришел запрос (API-ключ из токена)
	if callerID := auth.UserID(ctx); callerID != "" {
		record.CredentialID = &callerID
	}
	if verdict.Decision == domain.DecisionDeny {
		record.Status = domain.RecordDenied
		record.Reason = verdict.Reason
	}

	if err := o.records.CreateRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (o *Orchestrator) requestApproval(ctx context.Context, record *domain.TransactionRecord, action domain.ProposedAction, verdict domain.Verdict, event *audit.DecisionEvent) (*AuthorizeResult, error) {
	app := &domain.ApprovalRequest{
		ID:        uuid.New().String(),
		RecordID:  record.ID,
		WalletID:  record.WalletID,
		Reason:    verdict.Reason,
		Status:    domain.ApprovalPending,
		ExpiresAt: time.Now().Add(o.approvalTTL),
	}

	if err := o.approvals.CreateApproval(ctx, app); err != nil {
		event.Status = "ERROR"
		event.Error = err.Error()
		return nil, fmt.Errorf("create approval: %w", err)
	}

	// Fire-and-forget: сбой уведомления не роняет ответ
	if o.notifier != nil {
		go o.notifier.ApprovalCreated(app, action)
	}

	event.Status = "PENDING_APPROVAL"
	return &AuthorizeResult{
		Status:     StatusPendingApproval,
		RecordID:   record.ID,
		ApprovalID: app.ID,
		Reason:     verdict.Reason,
		ExpiresAt:  &app.ExpiresAt,
	}, nil
}

// execute доводит PENDING-запись до терминального статуса ровно один раз.
// Ошибку исполнения поднимаем наверх типизированной — после финализации записи.
func (o *Orchestrator) execute(ctx context.Context, record *domain.TransactionRecord, keyRef string, action domain.ProposedAction, event *audit.DecisionEvent) (*AuthorizeResult, error) {
	res, execErr := o.executor.ExecuteOnChain(ctx, keyRef, action)

	if execErr != nil {
		kind := "unknown"
		var typed *connectors.ExecutionError
		if errors.As(execErr, &typed) {
			kind = typed.Kind
		}
		o.metrics.ExecutionFailures.WithLabelValues(kind).Inc()

		respBody, _ := json.Marshal(map[string]string{"error_kind": kind, "error": execErr.Error()})
		if err := o.records.FinalizeFailed(ctx, record.ID, execErr.Error(), respBody); err != nil {
			// Запись уже финализирована кем-то другим — исполнение не повторяем
			o.logger.Warn("record finalize skipped", zap.String("record_id", record.ID), zap.Error(err))
		}

		event.Status = "FAILED"
		event.Error = execErr.Error()
		return &AuthorizeResult{Status: StatusFailed, RecordID: record.ID, Reason: execErr.Error()}, execErr
	}

	var respBody json.RawMessage
	if len(res.Meta) > 0 {
		respBody, _ = json.Marshal(res.Meta)
	}
	if err := o.records.FinalizeExecuted(ctx, record.ID, res.TxHash, respBody); err != nil {
		o.logger.Warn("record finalize skipped", zap.String("record_id", record.ID), zap.Error(err))
	}

	if err := o.wallets.TouchWalletActivity(ctx, record.WalletID); err != nil {
		o.logger.Warn("wallet activity touch failed", zap.String("wallet_id", record.WalletID), zap.Error(err))
	}

	event.Status = "EXECUTED"
	event.TxHash = res.TxHash
	return &AuthorizeResult{Status: StatusExecuted, RecordID: record.ID, TxHash: res.TxHash}, nil
}

// ResumeApproved повторно входит в ветку исполнения для записи, чья заявка
// была подтверждена оператором. Вызывается координатором апрувов.
func (o *Orchestrator) ResumeApproved(ctx context.Context, recordID string) error {
	record, err := o.records.GetRecordByID(ctx, recordID)
	if err != nil {
		return fmt.Errorf("record lookup: %w", err)
	}
	if record == nil {
		return fmt.Errorf("record %s not found", recordID)
	}
	if record.Status != domain.RecordPending {
		// Кто-то уже довел запись до терминального статуса
		return domain.ErrRecordFinalized
	}

	req, err := record.DecodeRequest()
	if err != nil {
		return fmt.Errorf("decode stored action: %w", err)
	}

	wallet, err := o.wallets.GetWallet(ctx, record.WalletID)
	if err != nil {
		return fmt.Errorf("wallet lookup: %w", err)
	}
	if wallet == nil {
		return ErrWalletNotFound
	}

	event := audit.DecisionEvent{
		ID:         uuid.New().String(),
		TraceID:    extractTraceID(ctx),
		WalletID:   record.WalletID,
		RecordID:   record.ID,
		ActionKind: string(record.ActionKind),
		Decision:   string(domain.DecisionAllow),
		Reason:     "approved by reviewer",
		USDValue:   req.USDValue,
		Timestamp:  time.Now(),
	}

	_, execErr := o.execute(ctx, record, wallet.KeyRef, req.Action, &event)
	o.trail.Record(event)
	return execErr
}

// FinalizeDeniedRecord закрывает запись как DENIED (отклонение или таймаут заявки).
func (o *Orchestrator) FinalizeDeniedRecord(ctx context.Context, recordID, reason string) error {
	err := o.records.FinalizeDenied(ctx, recordID, reason)
	if err != nil && !errors.Is(err, domain.ErrRecordFinalized) {
		return err
	}
	return nil
}

// worseOf выбирает более строгий из двух вердиктов: deny > require-approval > allow.
func worseOf(a, b domain.Verdict) domain.Verdict {
	if a.Decision == domain.DecisionDeny || b.Decision == domain.DecisionAllow {
		return a
	}
	if b.Decision == domain.DecisionDeny || a.Decision == domain.DecisionAllow {
		return b
	}
	return a
}

func policyKindLabel(v domain.Verdict) string {
	if v.PolicyKind == "" {
		return "none"
	}
	return string(v.PolicyKind)
}
