package spend

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// HistorySource — сумма usd_value по EXECUTED записям кошелька в окне.
// Реализуется record-репозиторием (SQL с защитой от нечисловых значений).
type HistorySource interface {
	SumExecutedUSDSince(ctx context.Context, walletID string, since time.Time) (float64, error)
}

// Reader считает traced-траты кошелька в скользящем окне [now-window, now].
// Считаются только EXECUTED записи; доверяем usd_value, зафиксированному
// в request при создании записи (без переоценки по текущему курсу).
type Reader struct {
	src    HistorySource
	logger *zap.Logger
}

func NewReader(src HistorySource, logger *zap.Logger) *Reader {
	return &Reader{src: src, logger: logger.Named("spend")}
}

// SumExecutedUSD возвращает 0 для пустого набора. Пропавшие/нечисловые
// usd_value дают нулевой вклад на уровне SQL. Ошибка хранилища
// пробрасывается наверх: evaluator трактует ее как неопределимую величину.
func (r *Reader) SumExecutedUSD(ctx context.Context, walletID string, window time.Duration) (float64, error) {
	since := time.Now().Add(-window)
	sum, err := r.src.SumExecutedUSDSince(ctx, walletID, since)
	if err != nil {
		return 0, err
	}
	r.logger.Debug("spend window computed",
		zap.String("wallet_id", walletID),
		zap.Duration("window", window),
		zap.Float64("sum_usd", sum))
	return sum, nil
}
