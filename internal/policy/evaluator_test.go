package policy

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/chainvault-custody/internal/domain"
)

// fakeSpend — управляемая история трат для оконных лимитов
type fakeSpend struct {
	sum float64
	err error
}

func (f *fakeSpend) SumExecutedUSD(ctx context.Context, walletID string, window time.Duration) (float64, error) {
	return f.sum, f.err
}

func newTestEvaluator(spend SpendReader) *Evaluator {
	if spend == nil {
		spend = &fakeSpend{}
	}
	return NewEvaluator(spend, zap.NewNop())
}

func mkPolicy(t *testing.T, kind domain.PolicyKind, cfg interface{}) domain.Policy {
	t.Helper()
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	return domain.Policy{
		ID:       "pol-" + string(kind),
		WalletID: "w1",
		Kind:     kind,
		Config:   raw,
	}
}

func usd(v float64) *float64 { return &v }

func TestEvaluate_NoPolicies_Allows(t *testing.T) {
	e := newTestEvaluator(nil)

	v := e.Evaluate(context.Background(), "w1", nil, domain.ProposedAction{
		Kind: domain.ActionTransfer,
		To:   "0xabc",
	})

	assert.Equal(t, domain.DecisionAllow, v.Decision)
	assert.Empty(t, v.Reason)
}

func TestEvaluate_AddressAllowlist(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindAddressAllowlist, domain.AllowlistConfig{
			Items: []string{"0xAAA", "0xBBB"},
		}),
	}

	t.Run("known address allowed", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", // Сравнение регистронезависимое
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("unknown address denied", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xevil",
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
		assert.Equal(t, domain.KindAddressAllowlist, v.PolicyKind)
		assert.Contains(t, v.Reason, "0xevil")
	})
}

func TestEvaluate_ApprovalOverride_DowngradesDeny(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindAddressAllowlist, domain.AllowlistConfig{
			Items:            []string{"0xaaa"},
			ApprovalOverride: true,
		}),
	}

	v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
		Kind: domain.ActionTransfer, To: "0xevil",
	})

	assert.Equal(t, domain.DecisionRequireApproval, v.Decision)
	assert.Contains(t, v.Reason, "(requires approval)")
}

func TestEvaluate_DenyOutranksApprovalOnly(t *testing.T) {
	e := newTestEvaluator(nil)
	// REQUIRE_APPROVAL создана раньше, но deny-capable проход идет первым
	policies := []domain.Policy{
		mkPolicy(t, domain.KindRequireApproval, domain.ToggleConfig{Enabled: true}),
		mkPolicy(t, domain.KindAddressAllowlist, domain.AllowlistConfig{Items: []string{"0xaaa"}}),
	}

	v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
		Kind: domain.ActionTransfer, To: "0xevil",
	})

	assert.Equal(t, domain.DecisionDeny, v.Decision)
	assert.Equal(t, domain.KindAddressAllowlist, v.PolicyKind)
}

func TestEvaluate_FunctionAllowlist_OnlyAppliesToCalls(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindFunctionAllowlist, domain.AllowlistConfig{
			Items: []string{"0xa9059cbb"},
		}),
	}

	t.Run("transfer without selector is exempt", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa",
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("call with foreign selector denied", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionCall, To: "0xaaa", Selector: "0xdeadbeef",
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
	})

	t.Run("call with allowed selector passes", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionCall, To: "0xaaa", Selector: "0xA9059CBB",
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})
}

func TestEvaluate_TokenAllowlist_NativeTransferExempt(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindTokenAllowlist, domain.AllowlistConfig{
			Items: []string{"0xusdc"},
		}),
	}

	t.Run("native transfer passes", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", Value: "1000000000000000000",
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("foreign token denied", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa",
			TokenAddress: "0xshitcoin", TokenAmount: "5",
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
	})
}

func TestEvaluate_PerTxLimit(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindSpendingLimitPerTx, domain.LimitConfig{MaxUSD: 500}),
	}

	t.Run("under limit allowed", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(499.99),
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("exactly at limit allowed", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(500),
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("over limit denied", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(500.01),
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
		assert.Contains(t, v.Reason, "per-tx limit")
	})

	t.Run("unpriceable action denied fail-closed", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa",
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
		assert.Contains(t, v.Reason, "unable to determine USD value")
	})
}

func TestEvaluate_DailyLimit_WindowSum(t *testing.T) {
	spent := &fakeSpend{sum: 400}
	e := newTestEvaluator(spent)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindSpendingLimitDaily, domain.LimitConfig{MaxUSD: 500}),
	}

	t.Run("sum plus action over limit denied", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(150),
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
		assert.Contains(t, v.Reason, "daily limit")
	})

	t.Run("sum plus action under limit allowed", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(50),
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("spend history unavailable denies fail-closed", func(t *testing.T) {
		broken := &fakeSpend{err: errors.New("connection refused")}
		eb := newTestEvaluator(broken)
		v := eb.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(1),
		})
		assert.Equal(t, domain.DecisionDeny, v.Decision)
		assert.Contains(t, v.Reason, "unable to determine spent amount")
	})
}

func TestEvaluate_RequireApproval(t *testing.T) {
	e := newTestEvaluator(nil)

	t.Run("enabled forces approval", func(t *testing.T) {
		policies := []domain.Policy{
			mkPolicy(t, domain.KindRequireApproval, domain.ToggleConfig{Enabled: true}),
		}
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa",
		})
		assert.Equal(t, domain.DecisionRequireApproval, v.Decision)
	})

	t.Run("disabled is a no-op", func(t *testing.T) {
		policies := []domain.Policy{
			mkPolicy(t, domain.KindRequireApproval, domain.ToggleConfig{Enabled: false}),
		}
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa",
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})
}

func TestEvaluate_ApprovalThreshold_FailsOpenToApproval(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindApprovalThreshold, domain.ThresholdConfig{ThresholdUSD: 1000}),
	}

	t.Run("over threshold requires approval", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(1500),
		})
		assert.Equal(t, domain.DecisionRequireApproval, v.Decision)
	})

	t.Run("under threshold allowed", func(t *testing.T) {
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa", USDValue: usd(999),
		})
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("unpriceable action escalates to approval, not deny", func(t *testing.T) {
		// Контраст с per-tx лимитом: устаревший вид мягче
		v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
			Kind: domain.ActionTransfer, To: "0xaaa",
		})
		assert.Equal(t, domain.DecisionRequireApproval, v.Decision)
	})
}

func TestEvaluate_BrokenConfig_Denies(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		{
			ID:       "pol-broken",
			WalletID: "w1",
			Kind:     domain.KindAddressAllowlist,
			Config:   json.RawMessage(`{"items": "not-an-array"}`),
		},
	}

	v := e.Evaluate(context.Background(), "w1", policies, domain.ProposedAction{
		Kind: domain.ActionTransfer, To: "0xaaa",
	})

	assert.Equal(t, domain.DecisionDeny, v.Decision)
	assert.Contains(t, v.Reason, "invalid configuration")
}

func TestCheckSellToken(t *testing.T) {
	e := newTestEvaluator(nil)
	policies := []domain.Policy{
		mkPolicy(t, domain.KindTokenAllowlist, domain.AllowlistConfig{
			Items: []string{"0xusdc", "0xweth"},
		}),
	}

	t.Run("allowed sell token", func(t *testing.T) {
		v := e.CheckSellToken(policies, "0xUSDC")
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})

	t.Run("foreign sell token denied", func(t *testing.T) {
		v := e.CheckSellToken(policies, "0xshitcoin")
		assert.Equal(t, domain.DecisionDeny, v.Decision)
		assert.Contains(t, v.Reason, "sell token")
	})

	t.Run("no token allowlist policy means allow", func(t *testing.T) {
		v := e.CheckSellToken(nil, "0xanything")
		assert.Equal(t, domain.DecisionAllow, v.Decision)
	})
}
