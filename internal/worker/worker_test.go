package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"catering-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRecorder struct {
	mu     sync.Mutex
	seen   map[string]models.ProcessedEvent
	err    error
	writes int
}

func (m *memoryRecorder) RecordOrderEvent(_ context.Context, event *models.ProcessedEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return false, m.err
	}
	m.writes++
	if _, ok := m.seen[event.EventID]; ok {
		return false, nil
	}
	m.seen[event.EventID] = *event
	return true, nil
}

func eventMessage(t *testing.T, id, eventType string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(models.OrderEvent{
		BaseEvent:         models.BaseEvent{EventID: id, EventType: eventType, Timestamp: time.Now()},
		MerchantReference: "CAT-000003",
		PaymentStatus:     models.PaymentStatusAbandoned,
		TotalAmount:       "12.00",
	})
	require.NoError(t, err)
	return kafka.Message{Value: b}
}

func TestAuditWorkerRecordsEventsOnce(t *testing.T) {
	recorder := &memoryRecorder{seen: map[string]models.ProcessedEvent{}}
	w := NewAuditWorker(nil, recorder)

	msg := eventMessage(t, "evt-9", models.EventTypeOrderAbandoned)
	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), msg))
	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), msg))

	assert.Equal(t, 2, recorder.writes)
	require.Len(t, recorder.seen, 1)
	stored := recorder.seen["evt-9"]
	assert.Equal(t, models.EventTypeOrderAbandoned, stored.EventType)
	assert.Equal(t, "CAT-000003", stored.MerchantReference)
	assert.Equal(t, "abandoned", stored.PaymentStatus)
}

func TestAuditWorkerHandlesEveryLifecycleEvent(t *testing.T) {
	recorder := &memoryRecorder{seen: map[string]models.ProcessedEvent{}}
	w := NewAuditWorker(nil, recorder)

	types := []string{
		models.EventTypeCheckoutCreated,
		models.EventTypeCheckoutUpdated,
		models.EventTypePaymentStatusChanged,
		models.EventTypeOrderAbandoned,
	}
	for i, eventType := range types {
		require.NoError(t, w.eventHandler.HandleMessage(context.Background(), eventMessage(t, string(rune('a'+i)), eventType)))
	}
	assert.Len(t, recorder.seen, len(types))
}

func TestAuditWorkerSurfacesStoreErrors(t *testing.T) {
	recorder := &memoryRecorder{seen: map[string]models.ProcessedEvent{}, err: errors.New("connection refused")}
	w := NewAuditWorker(nil, recorder)

	err := w.eventHandler.HandleMessage(context.Background(), eventMessage(t, "evt-1", models.EventTypeCheckoutCreated))
	assert.Error(t, err)
}
