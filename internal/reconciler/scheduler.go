package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Scheduler triggers a reconciliation tick on a fixed interval.
type Scheduler struct {
	reconciler *Reconciler
	interval   time.Duration
	sched      gocron.Scheduler
	cancel     context.CancelFunc
}

func NewScheduler(reconciler *Reconciler, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{reconciler: reconciler, interval: interval}
}

func (s *Scheduler) Start(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			s.reconciler.Tick(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("reconcile-pending-operations"),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return fmt.Errorf("schedule reconciliation: %w", err)
	}

	s.sched = sched
	s.cancel = cancel
	sched.Start()

	log.Info().Dur("interval", s.interval).Msg("Reconciler scheduled")
	return nil
}

// Stop cancels the running tick and waits for the scheduler to drain.
func (s *Scheduler) Stop() {
	if s.sched == nil {
		return
	}
	s.cancel()
	if err := s.sched.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Reconciler scheduler shutdown failed")
	}
	log.Info().Msg("Reconciler stopped")
}
