package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type captureStorage struct {
	mu     sync.Mutex
	events []DecisionEvent
}

func (c *captureStorage) WriteBatch(ctx context.Context, events []DecisionEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *captureStorage) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestTrail_DrainsOnStop(t *testing.T) {
	storage := &captureStorage{}
	trail := NewTrail(storage, 100, zap.NewNop())
	trail.Start()

	for i := 0; i < 7; i++ {
		trail.Record(DecisionEvent{ID: "e", WalletID: "w1", Decision: "allow"})
	}

	// Stop закрывает канал и дожидается финального flush'а
	trail.Stop()
	assert.Equal(t, 7, storage.count())
}

func TestTrail_DropsAfterStop(t *testing.T) {
	storage := &captureStorage{}
	trail := NewTrail(storage, 100, zap.NewNop())
	trail.Start()
	trail.Stop()

	trail.Record(DecisionEvent{ID: "late"})
	assert.Equal(t, 0, storage.count())
}

func TestTrail_FillsTimestamp(t *testing.T) {
	storage := &captureStorage{}
	trail := NewTrail(storage, 100, zap.NewNop())
	trail.Start()

	trail.Record(DecisionEvent{ID: "e1"})
	trail.Stop()

	assert.Equal(t, 1, storage.count())
	assert.False(t, storage.events[0].Timestamp.IsZero())
}
