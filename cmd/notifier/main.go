/*
main.go - Notice worker

PURPOSE:
  Consumes the notices the server publishes on RabbitMQ and delivers them
  by e-mail. Malformed notices are dropped; failed deliveries are requeued.

ENVIRONMENT:
  RABBITMQ_DSN, RABBITMQ_QUEUE and SMTP_* (see config/config.go).

SEE ALSO:
  - notify/worker.go: Consume loop
  - notify/mail.go: SMTP delivery and templates
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/MiltronBee/leave-engine/config"
	"github.com/MiltronBee/leave-engine/notify"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("notifier failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RabbitMQ.DSN == "" {
		return errors.New("RABBITMQ_DSN is required")
	}
	if cfg.SMTP.Host == "" {
		return errors.New("SMTP_HOST is required")
	}

	mailer, err := notify.NewMailer(notify.MailConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		SSL:      cfg.SMTP.SSL,
	})
	if err != nil {
		return fmt.Errorf("failed to create mail client: %w", err)
	}
	defer mailer.Close()

	conn, err := amqp.Dial(cfg.RabbitMQ.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := notify.DeclareQueue(ch, cfg.RabbitMQ.Queue)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	// One unacknowledged notice at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(
		q.Name,
		"",    // consumer tag assigned by the broker
		false, // manual ack
		false, // not exclusive
		false, // no-local is unsupported by RabbitMQ
		false, // wait for the broker
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		notify.Consume(ctx, deliveries, mailer, logger)
	}()

	logger.Info("waiting for notices", "queue", q.Name)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	select {
	case <-quit:
	case err := <-closed:
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("rabbitmq connection closed: %w", err)
		}
	}

	logger.Info("shutting down notifier")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		logger.Warn("delivery still running at shutdown")
	}
	logger.Info("notifier stopped")
	return nil
}
