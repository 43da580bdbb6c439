package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/metrics"
	"github.com/nexuscrm/tablekit/pkg/logger"
)

// ExpiredLockPurger removes lapsed edit locks
type ExpiredLockPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// LockSweeper periodically deletes expired edit locks. Expired locks are
// already ignored by the lock protocol; sweeping only keeps the table small.
type LockSweeper struct {
	purger   ExpiredLockPurger
	logger   logger.Logger
	schedule string
	timeout  time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewLockSweeper creates a sweeper on a cron schedule such as "@every 1m"
func NewLockSweeper(purger ExpiredLockPurger, log logger.Logger, schedule string) *LockSweeper {
	return &LockSweeper{
		purger:   purger,
		logger:   log,
		schedule: schedule,
		timeout:  30 * time.Second,
	}
}

// Start schedules the sweep. Starting a running sweeper is a no-op.
func (s *LockSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return fmt.Errorf("invalid lock sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("lock sweeper started", zap.String("schedule", s.schedule))
	return nil
}

// Stop unschedules the sweep and waits for a running sweep to finish
func (s *LockSweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("lock sweeper stopped")
}

// Sweep runs one purge and returns how many locks it removed
func (s *LockSweeper) Sweep(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	n, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.logger.Error("lock sweep failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		metrics.LocksSwept.Add(float64(n))
		s.logger.Warn("expired locks swept", zap.Int64("count", n))
	}
	return n
}
