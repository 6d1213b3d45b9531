/*
Package notify carries fire-and-forget notices about reservation blocks.

PURPOSE:
  The allocation core emits a Notice when an employee is placed in a block,
  confirms a reservation, is escalated to the overflow block, or is flagged
  for urgent action. Delivery is somebody else's problem: the core only
  calls Notifier.Notify and never waits on the network.

IMPLEMENTATIONS:
  - Async:         buffered hand-off, drops (and logs) when full or closed
  - AMQPPublisher: JSON message on a RabbitMQ queue (amqp.go)
  - Mailer:        SMTP delivery used by the queue worker (mail.go)
  - Log / Nop / Recorder: local runs and tests

SEE ALSO:
  - worker.go: queue consumer used by cmd/notifier
  - reservation/scheduler.go: emits the notices
*/
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MiltronBee/leave-engine/generic"
)

type Kind string

const (
	KindBlockAssigned        Kind = "block_assigned"
	KindReservationConfirmed Kind = "reservation_confirmed"
	KindEscalated            Kind = "escalated"
	KindUrgentAction         Kind = "urgent_action"
)

// Notice is one message for one recipient.
type Notice struct {
	Kind       Kind               `json:"type"`
	To         string             `json:"to"`
	EmployeeID generic.EmployeeID `json:"employeeId,omitempty"`
	ProgramID  generic.ProgramID  `json:"programId,omitempty"`
	BlockID    generic.BlockID    `json:"blockId,omitempty"`
	Data       map[string]any     `json:"data,omitempty"`
	CreatedAt  time.Time          `json:"createdAt"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// =============================================================================
// SIMPLE NOTIFIERS
// =============================================================================

type Nop struct{}

func (Nop) Notify(context.Context, Notice) error { return nil }

// Log writes notices to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(_ context.Context, n Notice) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notice", "type", n.Kind, "to", n.To, "employee", n.EmployeeID, "block", n.BlockID)
	return nil
}

// Recorder keeps every notice in memory.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// OfKind returns the recorded notices of one kind.
func (r *Recorder) OfKind(k Kind) []Notice {
	var out []Notice
	for _, n := range r.Notices() {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// Multi fans a notice out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) error {
	var first error
	for _, x := range m {
		if err := x.Notify(ctx, n); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// =============================================================================
// ASYNC - decouple callers from slow transports
// =============================================================================

// Async forwards notices to next from a single goroutine. Notify never
// blocks: when the buffer is full, or after Close, the notice is dropped
// and logged.
type Async struct {
	next    Notifier
	queue   chan Notice
	logger  *slog.Logger
	timeout time.Duration
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Notifier, buffer int, timeout time.Duration, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	a := &Async{
		next:    next,
		queue:   make(chan Notice, buffer),
		logger:  logger,
		timeout: timeout,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, n Notice) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warn("notice dropped, notifier closed", "type", n.Kind, "to", n.To)
		return nil
	}
	select {
	case a.queue <- n:
	default:
		a.logger.Warn("notice dropped, queue full", "type", n.Kind, "to", n.To)
	}
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for n := range a.queue {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if a.timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, a.timeout)
		}
		if err := a.next.Notify(ctx, n); err != nil {
			a.logger.Error("notice delivery failed", "type", n.Kind, "to", n.To, "error", err)
		}
		cancel()
	}
}

// Close drains pending notices and stops the goroutine. Safe to call more
// than once.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
