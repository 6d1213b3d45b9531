package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiltronBee/leave-engine/notify"
)

type ackRecorder struct {
	mu      sync.Mutex
	acked   []uint64
	nacked  []uint64
	requeue []bool
}

func (a *ackRecorder) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked = append(a.acked, tag)
	return nil
}

func (a *ackRecorder) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked = append(a.nacked, tag)
	a.requeue = append(a.requeue, requeue)
	return nil
}

func (a *ackRecorder) Reject(tag uint64, requeue bool) error { return a.Nack(tag, false, requeue) }

type failing struct{}

func (failing) Notify(context.Context, notify.Notice) error { return errors.New("smtp down") }

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, n any) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(n)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestConsume_AcksDeliveredAndRejectsMalformed(t *testing.T) {
	// GIVEN: A valid notice, an unknown type, and undecodable bytes
	// WHEN: Consuming
	// THEN: valid -> ack, unknown type -> nack without requeue, garbage -> nack without requeue

	ack := &ackRecorder{}
	rec := &notify.Recorder{}
	ch := make(chan amqp.Delivery, 3)
	ch <- delivery(t, ack, 1, notify.Notice{Kind: notify.KindReservationConfirmed, To: "a@example.com"})
	ch <- delivery(t, ack, 2, notify.Notice{Kind: "birthday", To: "a@example.com"})
	ch <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 3, Body: []byte("{not json")}
	close(ch)

	notify.Consume(context.Background(), ch, rec, nil)

	assert.Equal(t, []uint64{1}, ack.acked)
	assert.Equal(t, []uint64{2, 3}, ack.nacked)
	assert.Equal(t, []bool{false, false}, ack.requeue)
	assert.Len(t, rec.Notices(), 1)
}

func TestConsume_RequeuesFailedDelivery(t *testing.T) {
	ack := &ackRecorder{}
	ch := make(chan amqp.Delivery, 1)
	ch <- delivery(t, ack, 7, notify.Notice{Kind: notify.KindUrgentAction, To: "boss@example.com"})
	close(ch)

	notify.Consume(context.Background(), ch, failing{}, nil)

	assert.Equal(t, []uint64{7}, ack.nacked)
	assert.Equal(t, []bool{true}, ack.requeue)
}

func TestRender_UsesNoticeData(t *testing.T) {
	subject, body, err := notify.Render(notify.Notice{
		Kind: notify.KindBlockAssigned,
		Data: map[string]any{"blockNumber": 2, "position": 3, "windowStart": "2026-02-02 09:00", "windowEnd": "2026-02-03 09:00", "remaining": 6},
	})
	require.NoError(t, err)
	assert.Contains(t, subject, "bloque")
	assert.Contains(t, body, "block 2 (position 3)")
	assert.Contains(t, body, "Days to choose: 6")

	_, _, err = notify.Render(notify.Notice{Kind: "nope"})
	assert.Error(t, err)
}

func TestAsync_DeliversInOrderAndDrainsOnClose(t *testing.T) {
	rec := &notify.Recorder{}
	async := notify.NewAsync(rec, 16, time.Second, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, async.Notify(context.Background(), notify.Notice{Kind: notify.KindEscalated, To: "x@example.com", Data: map[string]any{"i": i}}))
	}
	async.Close()

	got := rec.Notices()
	require.Len(t, got, 5)
	for i, n := range got {
		assert.Equal(t, i, n.Data["i"])
	}
}

func TestAsync_NotifyAfterCloseIsDropped(t *testing.T) {
	// GIVEN: A closed Async notifier
	// WHEN: Notifying again and closing a second time
	// THEN: No panic, nothing reaches the next notifier

	rec := &notify.Recorder{}
	async := notify.NewAsync(rec, 4, time.Second, nil)
	require.NoError(t, async.Notify(context.Background(), notify.Notice{Kind: notify.KindEscalated, To: "a@example.com"}))
	async.Close()

	assert.NotPanics(t, func() {
		assert.NoError(t, async.Notify(context.Background(), notify.Notice{Kind: notify.KindEscalated, To: "b@example.com"}))
		async.Close()
	})
	got := rec.Notices()
	require.Len(t, got, 1)
	assert.Equal(t, "a@example.com", got[0].To)
}
