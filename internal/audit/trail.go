package audit

/*
Файл trail.go — неблокирующий сборщик decision trail.

- Non-blocking Logging: события уходят из Hot Path оркестратора через
  буферизованный канал; задержки Postgres не влияют на Response Time.
- Batching: накопление в памяти и пакетная вставка по таймеру или при
  достижении лимита (100 событий).
- Drain Pattern: при остановке канал закрывается, воркер вычитывает остаток
  и делает финальный flush — перезапуск сервиса не теряет события.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события.
type StorageInterface interface {
	// WriteBatch сохраняет пачку событий за один раз
	WriteBatch(ctx context.Context, events []DecisionEvent) error
}

type Recorder interface {
	Record(event DecisionEvent)
}

type Trail struct {
	ch     chan DecisionEvent
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	// Защита от Record после Stop
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)
}

func NewTrail(repo StorageInterface, bufferSize int, logger *zap.Logger) *Trail {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Trail{
		ch:     make(chan DecisionEvent, bufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "decision-trail")),
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	atomic.StoreInt32(&t.isClosed, 1)

	// Крошечная пауза, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	t.logger.Info("stopping decision trail: closing channel and flushing buffer...")
	close(t.ch)
	t.wg.Wait()
	t.logger.Info("decision trail stopped gracefully")
}

func (t *Trail) Record(event DecisionEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if atomic.LoadInt32(&t.isClosed) == 1 {
		t.logger.Warn("decision event dropped: trail is stopping", zap.String("id", event.ID))
		return
	}

	// Load Shedding: переполненный буфер не должен блокировать авторизацию
	select {
	case t.ch <- event:
	default:
		t.logger.Error("decision_trail_overflow",
			zap.String("wallet_id", event.WalletID),
			zap.String("trace_id", event.TraceID),
		)
	}
}

// BufferLen — текущая заполненность буфера (для gauge-метрики backpressure).
func (t *Trail) BufferLen() int {
	return len(t.ch)
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]DecisionEvent, 0, 100)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст к моменту финального flush может быть закрыт
			if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
				t.logger.Error("decision trail flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остаток, финальный flush, выход
				flush()
				t.logger.Info("decision trail worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
