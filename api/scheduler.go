/*
scheduler.go - Periodic sweep of programs and reservation blocks

PURPOSE:
  Keeps the allocation cycle moving without operator action: makes sure next
  year's program exists and escalates expired reservation blocks of every
  active program.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on Start
  - EnsureNextYear and EscalateExpired are idempotent, so overlapping or
    repeated runs change nothing
  - With several replicas, an optional SweepLock (Redis SET NX PX) lets a
    single replica sweep per interval; the others skip

CONFIGURATION:
  - Interval: How often to sweep (default: 5 minutes)
  - Enabled:  Whether the sweep is active (default: true)
  - Lock:     nil sweeps on every replica

USAGE:
  sweep := NewSweepScheduler(programs, scheduler)
  sweep.Lock = NewRedisLock(rdb, "leave:sweep", 2*time.Minute)
  sweep.Start()
  // ... later
  sweep.Stop()

SEE ALSO:
  - lock.go: Redis lease
  - reservation/scheduler.go: EscalateExpired
  - program/service.go: EnsureNextYear
*/
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MiltronBee/leave-engine/generic"
	"github.com/MiltronBee/leave-engine/program"
	"github.com/MiltronBee/leave-engine/reservation"
)

// SweepScheduler periodically ensures programs and escalates blocks.
type SweepScheduler struct {
	Programs  *program.Service
	Scheduler *reservation.Scheduler
	Lock      SweepLock
	Metrics   *Metrics
	Logger    *slog.Logger
	Interval  time.Duration
	Enabled   bool
	Now       func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SweepResult reports one sweep.
type SweepResult struct {
	Skipped     bool                            `json:"skipped"`
	NextProgram *generic.AnnualProgram          `json:"nextProgram,omitempty"`
	Created     bool                            `json:"created"`
	Escalations []reservation.EscalationSummary `json:"escalations"`
}

// NewSweepScheduler creates a sweep with default settings.
func NewSweepScheduler(programs *program.Service, scheduler *reservation.Scheduler) *SweepScheduler {
	return &SweepScheduler{
		Programs:  programs,
		Scheduler: scheduler,
		Logger:    slog.Default(),
		Interval:  5 * time.Minute,
		Enabled:   true,
		Now:       time.Now,
	}
}

// Start begins the sweep loop.
func (s *SweepScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("sweep disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)

	go s.run()

	s.Logger.Info("sweep started", "interval", s.Interval)
}

// Stop stops the loop and waits for a running sweep to finish.
func (s *SweepScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info("sweep stopped")
	}
}

func (s *SweepScheduler) run() {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-s.stop
		cancel()
	}()

	// Run immediately on start
	s.RunNow(ctx)

	for {
		select {
		case <-s.ticker.C:
			s.RunNow(ctx)
		case <-s.stop:
			return
		}
	}
}

// RunNow performs one sweep (also used by tests and admin tooling).
// Errors of individual programs are logged and do not stop the others.
func (s *SweepScheduler) RunNow(ctx context.Context) (SweepResult, error) {
	var result SweepResult
	now := s.Now()

	if s.Lock != nil {
		release, ok, err := s.Lock.Acquire(ctx)
		if err != nil {
			s.record("failed")
			s.Logger.Error("sweep lock failed", "error", err)
			return result, err
		}
		if !ok {
			s.record("skipped")
			s.Logger.Debug("sweep held by another replica")
			result.Skipped = true
			return result, nil
		}
		defer release()
	}

	var errs []error

	next, created, err := s.Programs.EnsureNextYear(ctx, now)
	if err != nil {
		s.Logger.Error("ensuring next-year program failed", "error", err)
		errs = append(errs, err)
	} else {
		result.NextProgram, result.Created = next, created
	}

	programs, err := s.Programs.List(ctx)
	if err != nil {
		s.record("failed")
		return result, errors.Join(append(errs, err)...)
	}
	for _, p := range programs {
		if !p.Active() {
			continue
		}
		summary, err := s.Scheduler.EscalateExpired(ctx, p.ID, now)
		if err != nil {
			s.Logger.Error("escalation failed", "program", p.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if summary.Closed+summary.Escalated+summary.Flagged > 0 {
			s.Logger.Info("escalation completed", "program", p.ID,
				"closed", summary.Closed, "escalated", summary.Escalated, "flagged", summary.Flagged)
		}
		if s.Metrics != nil {
			s.Metrics.escalated(summary.Escalated, summary.Flagged)
		}
		result.Escalations = append(result.Escalations, summary)
	}

	if len(errs) > 0 {
		s.record("failed")
		return result, errors.Join(errs...)
	}
	s.record("done")
	return result, nil
}

func (s *SweepScheduler) record(result string) {
	if s.Metrics != nil {
		s.Metrics.sweep(result)
	}
}
