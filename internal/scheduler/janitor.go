package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
	"github.com/robfig/cron/v3"
)

// Pruner deletes expired export artifacts. export.Pipeline implements it.
type Pruner interface {
	Prune(maxAge time.Duration) (int, error)
}

// Janitor removes old artifacts on a cron schedule.
type Janitor struct {
	pruner   Pruner
	schedule string
	maxAge   time.Duration
	cron     *cron.Cron
}

// NewJanitor checks the cron expression (five fields or a descriptor such
// as "@hourly") up front.
func NewJanitor(p Pruner, schedule string, maxAge time.Duration) (*Janitor, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("janitor max age must be positive, got %v", maxAge)
	}
	return &Janitor{pruner: p, schedule: schedule, maxAge: maxAge}, nil
}

// Start schedules the janitor and stops it when ctx is done. The
// returned channel is closed once a running pass has finished.
func (j *Janitor) Start(ctx context.Context) (<-chan struct{}, error) {
	c := cron.New()
	if _, err := c.AddFunc(j.schedule, func() { j.RunOnce() }); err != nil {
		return nil, fmt.Errorf("schedule janitor: %w", err)
	}
	j.cron = c
	c.Start()
	logger.WithComponent("janitor").Infof("janitor scheduled %q, max age %v", j.schedule, j.maxAge)

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		<-c.Stop().Done()
		logger.WithComponent("janitor").Info("janitor stopped")
	}()
	return done, nil
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce() int {
	n, err := j.pruner.Prune(j.maxAge)
	if err != nil {
		logger.WithComponent("janitor").Errorf("prune failed: %v", err)
		return 0
	}
	if n > 0 {
		logger.WithComponent("janitor").Infof("removed %d expired artifacts", n)
	}
	return n
}
