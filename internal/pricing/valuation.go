package pricing

/*
Файл valuation.go — адаптер оценки стоимости действия в USD.
Сам прайс-сервис внешний (HTTP). Ошибка оценки НИКОГДА не превращается
в молчаливый 0: она уходит наверх, и конкретный вид политики решает,
fail-closed это (лимиты) или fail-open к апруву (устаревший threshold).
*/

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Asset — что оцениваем: нативная валюта сети (Token == "") либо токен.
type Asset struct {
	Token   string // Адрес контракта токена, пусто для нативной валюты
	ChainID int64
}

// Valuation — контракт адаптера оценки.
type Valuation interface {
	// ResolveUSD конвертирует amount (базовые единицы, строка) в USD.
	ResolveUSD(ctx context.Context, asset Asset, amount string) (float64, error)
}

// OracleClient ходит в прайс-сервис по HTTP.
type OracleClient struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewOracleClient(baseURL string, timeout time.Duration, logger *zap.Logger) *OracleClient {
	return &OracleClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.Named("pricing"),
	}
}

func (c *OracleClient) ResolveUSD(ctx context.Context, asset Asset, amount string) (float64, error) {
	q := url.Values{}
	q.Set("chain_id", fmt.Sprintf("%d", asset.ChainID))
	q.Set("amount", amount)
	if asset.Token != "" {
		q.Set("token", asset.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/quote?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("pricing: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("pricing: oracle unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricing: oracle returned status %d", resp.StatusCode)
	}

	var body struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("pricing: bad oracle response: %w", err)
	}

	c.logger.Debug("usd value resolved",
		zap.String("token", asset.Token),
		zap.Int64("chain_id", asset.ChainID),
		zap.Float64("usd", body.USD))

	return body.USD, nil
}

// StaticValuation — фиксированные курсы для dev-режима и тестов.
type StaticValuation struct {
	// usd за одну базовую единицу актива; ключ — lower(token), "" для нативной
	Rates map[string]float64
}

func (s *StaticValuation) ResolveUSD(ctx context.Context, asset Asset, amount string) (float64, error) {
	rate, ok := s.Rates[strings.ToLower(asset.Token)]
	if !ok {
		return 0, fmt.Errorf("pricing: no static rate for asset %q", asset.Token)
	}
	var amt float64
	if _, err := fmt.Sscanf(amount, "%g", &amt); err != nil {
		return 0, fmt.Errorf("pricing: non-numeric amount %q", amount)
	}
	return amt * rate, nil
}
