package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyKindDenyCapable(t *testing.T) {
	denyCapable := []PolicyKind{
		KindAddressAllowlist, KindFunctionAllowlist, KindTokenAllowlist,
		KindSpendingLimitPerTx, KindSpendingLimitDaily, KindSpendingLimitWeek,
	}
	for _, k := range denyCapable {
		assert.True(t, k.DenyCapable(), string(k))
	}

	assert.False(t, KindRequireApproval.DenyCapable())
	assert.False(t, KindApprovalThreshold.DenyCapable())
}

func TestPolicyKindValid(t *testing.T) {
	assert.True(t, KindSpendingLimitWeek.Valid())
	assert.False(t, PolicyKind("SOMETHING_ELSE").Valid())
}

func TestValidateConfig(t *testing.T) {
	mk := func(kind PolicyKind, raw string) *Policy {
		return &Policy{ID: "p1", Kind: kind, Config: json.RawMessage(raw)}
	}

	t.Run("allowlist requires items", func(t *testing.T) {
		require.NoError(t, mk(KindAddressAllowlist, `{"items":["0xaaa"]}`).ValidateConfig())
		assert.Error(t, mk(KindAddressAllowlist, `{"items":[]}`).ValidateConfig())
	})

	t.Run("limit must be positive", func(t *testing.T) {
		require.NoError(t, mk(KindSpendingLimitDaily, `{"max_usd":100}`).ValidateConfig())
		assert.Error(t, mk(KindSpendingLimitDaily, `{"max_usd":0}`).ValidateConfig())
		assert.Error(t, mk(KindSpendingLimitPerTx, `{"max_usd":-5}`).ValidateConfig())
	})

	t.Run("unknown kind rejected", func(t *testing.T) {
		err := mk(PolicyKind("MAGIC"), `{}`).ValidateConfig()
		assert.ErrorIs(t, err, ErrUnknownPolicyKind)
	})

	t.Run("malformed json rejected", func(t *testing.T) {
		assert.Error(t, mk(KindRequireApproval, `{"enabled": "yes"}`).ValidateConfig())
	})
}

func TestRecordRequestRoundTrip(t *testing.T) {
	v := 123.45
	action := ProposedAction{
		Kind: ActionSwap, To: "0xrouter", ChainID: 1,
		SellToken: "0xusdc", SellAmount: "100", BuyToken: "0xweth",
		USDValue: &v,
	}

	raw, err := EncodeRequest(action)
	require.NoError(t, err)

	rec := &TransactionRecord{Request: raw}
	got, err := rec.DecodeRequest()
	require.NoError(t, err)

	assert.Equal(t, action, got.Action)
	require.NotNil(t, got.USDValue)
	assert.Equal(t, v, *got.USDValue)
}
