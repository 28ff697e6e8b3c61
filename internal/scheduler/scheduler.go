package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Sweeper drops rate-limit counters whose window has passed.
type Sweeper interface {
	Sweep() int
}

type Scheduler struct {
	sweeper  Sweeper
	schedule string
	log      *slog.Logger
	c        *cron.Cron
}

func NewScheduler(sweeper Sweeper, schedule string, log *slog.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		schedule: schedule,
		log:      log,
		c:        cron.New(),
	}
}

// Start registers the counter sweep and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.c.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("scheduling counter sweep %q: %w", s.schedule, err)
	}
	s.c.Start()
	return nil
}

func (s *Scheduler) sweep() {
	if removed := s.sweeper.Sweep(); removed > 0 {
		s.log.Debug("swept rate counters", "removed", removed)
	}
}

// Stop stops the cron loop and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	<-s.c.Stop().Done()
}
