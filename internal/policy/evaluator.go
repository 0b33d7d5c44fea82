package policy

/*
Файл evaluator.go — ядро принятия решений (Policy Decision Point).
Два упорядоченных прохода по политикам кошелька:
  Pass 1 — deny-capable виды (allowlist'ы и лимиты). Первая сработка
           короткого замыкания возвращает deny; approval_override
           понижает deny до require-approval, но никогда до allow.
  Pass 2 — approval-only виды. Достигается только если Pass 1 молчал.
Deny всегда старше require-approval: сработка Pass 1 возвращается сразу,
политики Pass 2 даже не оцениваются.
*/

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/chainvault-custody/internal/domain"
	"go.uber.org/zap"
)

// SpendReader — оконный учет трат (см. internal/spend).
type SpendReader interface {
	SumExecutedUSD(ctx context.Context, walletID string, window time.Duration) (float64, error)
}

type Evaluator struct {
	spend  SpendReader
	logger *zap.Logger
}

func NewEvaluator(spend SpendReader, logger *zap.Logger) *Evaluator {
	return &Evaluator{spend: spend, logger: logger.Named("evaluator")}
}

// Evaluate выносит вердикт по предложенному действию.
// Порядок policies = порядок создания (репозиторий отдает ORDER BY created_at, id) —
// для корректности он не важен, но должен быть детерминированным.
// Ноль политик — allow: кошелек без ограничений.
func (e *Evaluator) Evaluate(ctx context.Context, walletID string, policies []domain.Policy, action domain.ProposedAction) domain.Verdict {
	if len(policies) == 0 {
		return domain.Allow()
	}

	// Pass 1: deny-capable.
	for i := range policies {
		p := &policies[i]
		if !p.Kind.DenyCapable() {
			continue
		}
		if v, fired := e.evalDenyCapable(ctx, walletID, p, action); fired {
			return v
		}
	}

	// Pass 2: approval-only.
	for i := range policies {
		p := &policies[i]
		if p.Kind.DenyCapable() {
			continue
		}
		if v, fired := e.evalApprovalOnly(p, action); fired {
			return v
		}
	}

	return domain.Allow()
}

// evalDenyCapable возвращает (вердикт, true) при сработке условия deny.
// Неприменимые проверки (например, FUNCTION_ALLOWLIST на transfer)
// пропускаются целиком — это не "pass", это "не про нас".
func (e *Evaluator) evalDenyCapable(ctx context.Context, walletID string, p *domain.Policy, action domain.ProposedAction) (domain.Verdict, bool) {
	switch p.Kind {
	case domain.KindAddressAllowlist:
		cfg, err := p.AllowlistConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		if !containsFold(cfg.Items, action.To) {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("destination address %s is not in the allowlist", action.To)), true
		}

	case domain.KindFunctionAllowlist:
		// Только call-действия с селектором. Plain transfer — не наша забота.
		if !action.HasSelector() {
			return domain.Verdict{}, false
		}
		cfg, err := p.AllowlistConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		if !containsFold(cfg.Items, action.Selector) {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("function selector %s is not in the allowlist", action.Selector)), true
		}

	case domain.KindTokenAllowlist:
		// Только transfer с адресом токена. Перевод нативной валюты exempt.
		if action.Kind != domain.ActionTransfer || !action.HasToken() {
			return domain.Verdict{}, false
		}
		cfg, err := p.AllowlistConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		if !containsFold(cfg.Items, action.TokenAddress) {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("token %s is not in the allowlist", action.TokenAddress)), true
		}

	case domain.KindSpendingLimitPerTx:
		cfg, err := p.LimitConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		// Fail-closed: не смогли оценить в USD — запрещаем, а не пропускаем.
		if action.USDValue == nil {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("unable to determine USD value for per-tx limit of $%.2f", cfg.MaxUSD)), true
		}
		if *action.USDValue > cfg.MaxUSD {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("action value $%.2f exceeds per-tx limit of $%.2f", *action.USDValue, cfg.MaxUSD)), true
		}

	case domain.KindSpendingLimitDaily, domain.KindSpendingLimitWeek:
		cfg, err := p.LimitConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		if action.USDValue == nil {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("unable to determine USD value for %s limit of $%.2f", windowName(p.Kind), cfg.MaxUSD)), true
		}
		spent, err := e.spend.SumExecutedUSD(ctx, walletID, p.Kind.Window())
		if err != nil {
			// Недоступная история трат = неопределимая величина. Fail-closed.
			e.logger.Error("spend window lookup failed",
				zap.String("wallet_id", walletID),
				zap.String("kind", string(p.Kind)),
				zap.Error(err))
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("unable to determine spent amount for %s limit of $%.2f", windowName(p.Kind), cfg.MaxUSD)), true
		}
		if spent+*action.USDValue > cfg.MaxUSD {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("action value $%.2f plus $%.2f spent in the last %s exceeds %s limit of $%.2f",
					*action.USDValue, spent, windowHuman(p.Kind), windowName(p.Kind), cfg.MaxUSD)), true
		}
	}

	return domain.Verdict{}, false
}

func (e *Evaluator) evalApprovalOnly(p *domain.Policy, action domain.ProposedAction) (domain.Verdict, bool) {
	switch p.Kind {
	case domain.KindRequireApproval:
		cfg, err := p.ToggleConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		if cfg.Enabled {
			return domain.RequireApproval(p, "manual approval required by wallet policy"), true
		}

	case domain.KindApprovalThreshold:
		cfg, err := p.ThresholdConfig()
		if err != nil {
			return e.brokenConfig(p, err), true
		}
		// Устаревший вид: при неоценимой сумме fail-open к апруву, не к deny.
		if action.USDValue == nil {
			return domain.RequireApproval(p,
				fmt.Sprintf("unable to determine USD value for approval threshold of $%.2f", cfg.ThresholdUSD)), true
		}
		if *action.USDValue > cfg.ThresholdUSD {
			return domain.RequireApproval(p,
				fmt.Sprintf("action value $%.2f exceeds approval threshold of $%.2f", *action.USDValue, cfg.ThresholdUSD)), true
		}
	}

	return domain.Verdict{}, false
}

// CheckSellToken — вторичная проверка для swap: "to" свапа — это роутер DEX,
// а не контрагент, поэтому продаваемый токен проверяется по TOKEN_ALLOWLIST отдельно.
func (e *Evaluator) CheckSellToken(policies []domain.Policy, sellToken string) domain.Verdict {
	if strings.TrimSpace(sellToken) == "" {
		return domain.Allow()
	}
	for i := range policies {
		p := &policies[i]
		if p.Kind != domain.KindTokenAllowlist {
			continue
		}
		cfg, err := p.AllowlistConfig()
		if err != nil {
			return e.brokenConfig(p, err)
		}
		if !containsFold(cfg.Items, sellToken) {
			return e.denyOrOverride(p, cfg.ApprovalOverride,
				fmt.Sprintf("sell token %s is not in the allowlist", sellToken))
		}
	}
	return domain.Allow()
}

// denyOrOverride — approval_override понижает deny до require-approval.
// Никогда до allow и никогда до молчаливого deny.
func (e *Evaluator) denyOrOverride(p *domain.Policy, override bool, reason string) domain.Verdict {
	if override {
		return domain.RequireApproval(p, reason+" (requires approval)")
	}
	return domain.Deny(p, reason)
}

// brokenConfig: битый конфиг деньги не трогает — fail-closed.
func (e *Evaluator) brokenConfig(p *domain.Policy, err error) domain.Verdict {
	e.logger.Error("policy config unreadable, denying",
		zap.String("policy_id", p.ID),
		zap.String("kind", string(p.Kind)),
		zap.Error(err))
	return domain.Deny(p, fmt.Sprintf("policy %s has invalid configuration", p.Kind))
}

// containsFold — регистронезависимое сравнение адресов/селекторов.
func containsFold(items []string, v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, it := range items {
		if strings.ToLower(strings.TrimSpace(it)) == v {
			return true
		}
	}
	return false
}

func windowName(k domain.PolicyKind) string {
	if k == domain.KindSpendingLimitWeek {
		return "weekly"
	}
	return "daily"
}

func windowHuman(k domain.PolicyKind) string {
	if k == domain.KindSpendingLimitWeek {
		return "7 days"
	}
	return "24 hours"
}
