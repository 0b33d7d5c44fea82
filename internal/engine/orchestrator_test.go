package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/audit"
	"github.com/xela07ax/chainvault-custody/internal/connectors"
	"github.com/xela07ax/chainvault-custody/internal/domain"
	"github.com/xela07ax/chainvault-custody/internal/policy"
	"github.com/xela07ax/chainvault-custody/internal/pricing"
	"github.com/xela07ax/chainvault-custody/internal/spend"
)

// --- In-memory фейки хранилищ ---

type fakeStore struct {
	mu        sync.Mutex
	wallets   map[string]*domain.Wallet
	records   map[string]*domain.TransactionRecord
	approvals map[string]*domain.ApprovalRequest
	policies  map[string][]domain.Policy
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:   make(map[string]*domain.Wallet),
		records:   make(map[string]*domain.TransactionRecord),
		approvals: make(map[string]*domain.ApprovalRequest),
		policies:  make(map[string][]domain.Policy),
	}
}

func (f *fakeStore) PoliciesFor(ctx context.Context, walletID string) ([]domain.Policy, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.policies[walletID], nil
}

func (f *fakeStore) GetWallet(ctx context.Context, id string) (*domain.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wallets[id], nil
}

func (f *fakeStore) TouchWalletActivity(ctx context.Context, id string) error { return nil }

func (f *fakeStore) CreateRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.records[rec.ID] = &cp
	return nil
}

func (f *fakeStore) GetRecordByID(ctx context.Context, id string) (*domain.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.records[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStore) finalize(id string, status domain.RecordStatus, reason, txHash string, response json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	if !ok || r.Status != domain.RecordPending {
		return domain.ErrRecordFinalized
	}
	r.Status = status
	r.Reason = reason
	r.TxHash = txHash
	r.Response = response
	return nil
}

func (f *fakeStore) FinalizeExecuted(ctx context.Context, id, txHash string, response json.RawMessage) error {
	return f.finalize(id, domain.RecordExecuted, "", txHash, response)
}

func (f *fakeStore) FinalizeFailed(ctx context.Context, id, reason string, response json.RawMessage) error {
	return f.finalize(id, domain.RecordFailed, reason, "", response)
}

func (f *fakeStore) FinalizeDenied(ctx context.Context, id, reason string) error {
	return f.finalize(id, domain.RecordDenied, reason, "", nil)
}

func (f *fakeStore) CreateApproval(ctx context.Context, app *domain.ApprovalRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *app
	f.approvals[app.ID] = &cp
	return nil
}

func (f *fakeStore) recordByID(id string) *domain.TransactionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[id]
}

// fakeExecutor отдает заранее заданный результат или ошибку и считает вызовы
type fakeExecutor struct {
	mu     sync.Mutex
	res    *connectors.ExecutionResult
	err    error
	calls  int
	keyRef string
}

func (f *fakeExecutor) ExecuteOnChain(ctx context.Context, keyRef string, action domain.ProposedAction) (*connectors.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.keyRef = keyRef
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeExecutor) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type allowAllQuota struct{}

func (allowAllQuota) Consume(ctx context.Context, ownerID string) error { return nil }

type deniedQuota struct{ err error }

func (q deniedQuota) Consume(ctx context.Context, ownerID string) error { return q.err }

type captureNotifier struct {
	mu    sync.Mutex
	calls []*domain.ApprovalRequest
}

func (n *captureNotifier) ApprovalCreated(app *domain.ApprovalRequest, action domain.ProposedAction) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, app)
}

type nopTrailStore struct{}

func (nopTrailStore) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error { return nil }

// --- Сборка тестового оркестратора ---

type orchEnv struct {
	store    *fakeStore
	executor *fakeExecutor
	notifier *captureNotifier
	freeze   *FreezeManager
	orch     *Orchestrator
}

func newOrchEnv(t *testing.T, quota QuotaGate) *orchEnv {
	t.Helper()
	logger := zap.NewNop()
	store := newFakeStore()
	executor := &fakeExecutor{res: &connectors.ExecutionResult{TxHash: "0xhash"}}
	notifier := &captureNotifier{}
	freeze := NewFreezeManager(nil, logger)

	spendReader := spend.NewReader(store, logger)
	evaluator := policy.NewEvaluator(spendReader, logger)

	if quota == nil {
		quota = allowAllQuota{}
	}

	orch := NewOrchestrator(OrchestratorDeps{
		Policies:    store,
		Wallets:     store,
		Records:     store,
		Approvals:   store,
		Decider:     evaluator,
		Valuation:   &pricing.StaticValuation{},
		Executor:    executor,
		Freeze:      freeze,
		Quota:       quota,
		Notifier:    notifier,
		Trail:       audit.NewTrail(nopTrailStore{}, 100, logger),
		Metrics:     NewMetrics(nil),
		Logger:      logger,
		ApprovalTTL: 30 * time.Minute,
	})

	return &orchEnv{store: store, executor: executor, notifier: notifier, freeze: freeze, orch: orch}
}

// fakeStore используется и как источник истории трат для evaluator'а
func (f *fakeStore) SumExecutedUSDSince(ctx context.Context, walletID string, since time.Time) (float64, error) {
	return 0, nil
}

func (f *fakeStore) addWallet(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wallets[id] = &domain.Wallet{
		ID:      id,
		OwnerID: "owner-1",
		Status:  domain.WalletActive,
		KeyRef:  "kms://" + id,
	}
}

func (f *fakeStore) addPolicy(t *testing.T, walletID string, kind domain.PolicyKind, cfg interface{}) {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies[walletID] = append(f.policies[walletID], domain.Policy{
		ID: "pol-" + string(kind), WalletID: walletID, Kind: kind, Config: raw,
	})
}

// --- Тесты ---

func TestAuthorizeTransfer_AllowExecutes(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")

	res, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
	assert.Equal(t, "0xhash", res.TxHash)
	assert.Equal(t, 1, env.executor.callCount())
	assert.Equal(t, "kms://w1", env.executor.keyRef)

	rec := env.store.recordByID(res.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordExecuted, rec.Status)
	assert.Equal(t, "0xhash", rec.TxHash)
}

func TestAuthorizeTransfer_DenyCreatesDeniedRecord(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	env.store.addPolicy(t, "w1", domain.KindAddressAllowlist, domain.AllowlistConfig{
		Items: []string{"0xgood"},
	})

	res, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xevil", Value: "1000",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Contains(t, res.Reason, "0xevil")
	assert.Zero(t, env.executor.callCount(), "denied action must never reach the signer")

	rec := env.store.recordByID(res.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordDenied, rec.Status)
}

func TestAuthorizeTransfer_RequireApprovalDefersExecution(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	env.store.addPolicy(t, "w1", domain.KindRequireApproval, domain.ToggleConfig{Enabled: true})

	res, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, res.Status)
	assert.NotEmpty(t, res.ApprovalID)
	require.NotNil(t, res.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), *res.ExpiresAt, time.Minute)
	assert.Zero(t, env.executor.callCount())

	rec := env.store.recordByID(res.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordPending, rec.Status)

	// Fire-and-forget нотификация успевает отработать
	assert.Eventually(t, func() bool {
		env.notifier.mu.Lock()
		defer env.notifier.mu.Unlock()
		return len(env.notifier.calls) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAuthorizeTransfer_ExecutionFailureFinalizesOnce(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	env.executor.err = &connectors.ExecutionError{Kind: "insufficient_funds", Message: "balance too low"}

	res, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})

	require.Error(t, err)
	var execErr *connectors.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "insufficient_funds", execErr.Kind)

	assert.Equal(t, StatusFailed, res.Status)
	rec := env.store.recordByID(res.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordFailed, rec.Status)
	assert.Contains(t, rec.Reason, "balance too low")
}

func TestAuthorize_FrozenWalletRejected(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	env.freeze.setFrozen("w1", true)

	_, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})

	require.ErrorIs(t, err, ErrWalletFrozen)
	assert.Empty(t, env.store.records, "no record for frozen wallet")
	assert.Zero(t, env.executor.callCount())
}

func TestAuthorize_UnknownWallet(t *testing.T) {
	env := newOrchEnv(t, nil)

	_, err := env.orch.AuthorizeTransfer(context.Background(), "ghost", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})

	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestAuthorize_QuotaDeniedBeforePolicyWork(t *testing.T) {
	quotaErr := errors.New("monthly action quota of 10 exhausted")
	env := newOrchEnv(t, deniedQuota{err: quotaErr})
	env.store.addWallet("w1")

	_, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})

	require.ErrorIs(t, err, quotaErr)
	assert.Empty(t, env.store.records)
}

func TestAuthorizeSwap_SellTokenCheckWins(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	// Роутер разрешен адресным списком, но продаваемый токен — нет
	env.store.addPolicy(t, "w1", domain.KindAddressAllowlist, domain.AllowlistConfig{
		Items: []string{"0xrouter"},
	})
	env.store.addPolicy(t, "w1", domain.KindTokenAllowlist, domain.AllowlistConfig{
		Items: []string{"0xusdc"},
	})

	res, err := env.orch.AuthorizeSwap(context.Background(), "w1", domain.ProposedAction{
		To: "0xrouter", SellToken: "0xshitcoin", SellAmount: "100", BuyToken: "0xusdc",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Contains(t, res.Reason, "sell token")
	assert.Zero(t, env.executor.callCount())
}

func TestAuthorizeSwap_AllowedSellTokenExecutes(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	env.store.addPolicy(t, "w1", domain.KindTokenAllowlist, domain.AllowlistConfig{
		Items: []string{"0xusdc"},
	})

	res, err := env.orch.AuthorizeSwap(context.Background(), "w1", domain.ProposedAction{
		To: "0xrouter", SellToken: "0xUSDC", SellAmount: "100", BuyToken: "0xweth",
	})

	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, res.Status)
}

func TestResumeApproved_ExecutesExactlyOnce(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")
	env.store.addPolicy(t, "w1", domain.KindRequireApproval, domain.ToggleConfig{Enabled: true})

	res, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPendingApproval, res.Status)

	// Первый сигнал исполняет сохраненные параметры
	require.NoError(t, env.orch.ResumeApproved(context.Background(), res.RecordID))
	assert.Equal(t, 1, env.executor.callCount())

	rec := env.store.recordByID(res.RecordID)
	require.NotNil(t, rec)
	assert.Equal(t, domain.RecordExecuted, rec.Status)

	// Повторный сигнал (дубль из pub/sub) — no-op
	err = env.orch.ResumeApproved(context.Background(), res.RecordID)
	require.ErrorIs(t, err, domain.ErrRecordFinalized)
	assert.Equal(t, 1, env.executor.callCount(), "approved action must execute exactly once")
}

func TestFinalizeDeniedRecord_IdempotentOnFinalized(t *testing.T) {
	env := newOrchEnv(t, nil)
	env.store.addWallet("w1")

	res, err := env.orch.AuthorizeTransfer(context.Background(), "w1", domain.ProposedAction{
		To: "0xaaa", Value: "1000",
	})
	require.NoError(t, err)
	require.Equal(t, StatusExecuted, res.Status)

	// Запись уже EXECUTED: повторная финализация не ошибка и не перезапись
	require.NoError(t, env.orch.FinalizeDeniedRecord(context.Background(), res.RecordID, "approval timed out"))
	rec := env.store.recordByID(res.RecordID)
	assert.Equal(t, domain.RecordExecuted, rec.Status)
}

func TestWorseOf(t *testing.T) {
	p := &domain.Policy{ID: "p1", Kind: domain.KindTokenAllowlist}
	allow := domain.Allow()
	deny := domain.Deny(p, "nope")
	approval := domain.RequireApproval(p, "check me")

	assert.Equal(t, deny, worseOf(allow, deny))
	assert.Equal(t, deny, worseOf(deny, approval))
	assert.Equal(t, approval, worseOf(approval, allow))
	assert.Equal(t, allow, worseOf(allow, allow))
}
