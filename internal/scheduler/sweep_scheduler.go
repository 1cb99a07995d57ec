// Package scheduler runs the periodic background jobs: the cache sweep
// that keeps relevant pages rendered and the artifact janitor.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bassista/go_leaf/internal/logger"
)

// Reconciler brings the cache in line with what the host shows.
// cache.Manager implements it.
type Reconciler interface {
	Reconcile() int
}

// SweepScheduler calls Reconcile on a fixed interval, and immediately
// when triggered.
//
// Semantics:
// - At most one sweep runs at a time.
// - Triggers that arrive while a sweep is running collapse into one
//   follow-up sweep.
type SweepScheduler struct {
	target   Reconciler
	interval time.Duration
	kick     chan struct{}

	mu      sync.Mutex
	running bool
	sweeps  atomic.Uint64
	started atomic.Uint64
}

func NewSweepScheduler(target Reconciler, interval time.Duration) *SweepScheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &SweepScheduler{
		target:   target,
		interval: interval,
		kick:     make(chan struct{}, 1),
	}
}

// Start runs the loop until ctx is done. Calling Start on a running
// scheduler is a no-op.
func (s *SweepScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	log := logger.WithComponent("sweep")
	log.Debugf("starting sweep scheduler with interval: %v", s.interval)
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		defer func() {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				log.Info("sweep scheduler stopped")
				return
			case <-ticker.C:
				s.sweep()
			case <-s.kick:
				s.sweep()
			}
		}
	}()
}

// Trigger asks for a sweep as soon as possible without waiting for it.
func (s *SweepScheduler) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Sweeps counts completed sweeps.
func (s *SweepScheduler) Sweeps() uint64 { return s.sweeps.Load() }

// Started counts renders requested by sweeps.
func (s *SweepScheduler) Started() uint64 { return s.started.Load() }

func (s *SweepScheduler) sweep() {
	n := s.target.Reconcile()
	s.sweeps.Add(1)
	s.started.Add(uint64(n))
	if n > 0 {
		logger.WithComponent("sweep").Debugf("sweep requested %d renders", n)
	} else {
		logger.WithComponent("sweep").Trace("sweep found nothing to do")
	}
}
