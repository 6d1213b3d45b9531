package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Consume delivers queued notices until ctx is done or deliveries closes.
// Malformed or unsupported messages are rejected without requeue; delivery
// failures are requeued.
func Consume(ctx context.Context, deliveries <-chan amqp.Delivery, next Notifier, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			handle(ctx, d, next, logger)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, next Notifier, logger *slog.Logger) {
	var n Notice
	if err := json.Unmarshal(d.Body, &n); err != nil {
		logger.Error("notice decode failed", "error", err)
		_ = d.Nack(false, false)
		return
	}
	if _, _, err := Render(n); err != nil {
		logger.Error("notice rejected", "type", n.Kind, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if n.To == "" {
		logger.Warn("notice without recipient dropped", "type", n.Kind, "employee", n.EmployeeID)
		_ = d.Ack(false)
		return
	}
	if err := next.Notify(ctx, n); err != nil {
		logger.Error("notice delivery failed", "type", n.Kind, "to", n.To, "error", err)
		_ = d.Nack(false, true)
		return
	}
	logger.Info("notice delivered", "type", n.Kind, "to", n.To)
	_ = d.Ack(false)
}
