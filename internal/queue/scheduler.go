package queue

import (
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Scheduler triggers the periodic sync sweep
type Scheduler struct {
	scheduler *asynq.Scheduler
}

// NewScheduler creates a Scheduler that enqueues a sync:all task on the
// given interval
func NewScheduler(redisURL string, interval time.Duration) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Logger: slogAdapter{}})
	if _, err := scheduler.Register(fmt.Sprintf("@every %s", interval), NewSyncAllTask()); err != nil {
		return nil, fmt.Errorf("failed to register sync schedule: %w", err)
	}
	return &Scheduler{scheduler: scheduler}, nil
}

// Run starts the scheduler and blocks until Shutdown
func (s *Scheduler) Run() error {
	return s.scheduler.Run()
}

// Shutdown stops the scheduler
func (s *Scheduler) Shutdown() {
	s.scheduler.Shutdown()
}
