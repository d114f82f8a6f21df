package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"wallet-safety/pkg/logger"
	"wallet-safety/pkg/utils/lock"
)

const hygieneLockKey = "cron:lock:recovery_hygiene"

// Hygiene is the periodic maintenance the recovery coordinator exposes.
type Hygiene interface {
	SweepExpired(ctx context.Context) (int, error)
	ReleaseDueFreezes(ctx context.Context) (int, error)
}

type CronService struct {
	cron     *cron.Cron
	lock     lock.DistributedLock
	hygiene  Hygiene
	schedule string
	lockTTL  time.Duration
}

// NewCronService schedules recovery hygiene. With a nil lock every instance
// runs the job; pass a RedisLock when several instances share one cache.
func NewCronService(l lock.DistributedLock, h Hygiene, schedule string, lockTTL time.Duration) *CronService {
	if schedule == "" {
		schedule = "@every 1m"
	}
	if lockTTL <= 0 {
		lockTTL = 50 * time.Second
	}
	return &CronService{
		cron:     cron.New(),
		lock:     l,
		hygiene:  h,
		schedule: schedule,
		lockTTL:  lockTTL,
	}
}

func (s *CronService) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.RunHygiene); err != nil {
		return err
	}
	s.cron.Start()
	logger.Info("Cron Service started", zap.String("schedule", s.schedule))
	return nil
}

// Stop waits for a running job to finish.
func (s *CronService) Stop() {
	<-s.cron.Stop().Done()
	logger.Info("Cron Service stopped")
}

// RunHygiene expires overdue recovery requests, then lifts due freezes. Only
// the instance holding the lock runs it.
func (s *CronService) RunHygiene() {
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
	defer cancel()

	if s.lock != nil {
		token, locked, err := s.lock.Acquire(ctx, hygieneLockKey, s.lockTTL)
		if err != nil || !locked {
			logger.Debug("RunHygiene: lock held elsewhere or unavailable", zap.Error(err))
			return
		}
		defer func() {
			rctx, rcancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer rcancel()
			_ = s.lock.Release(rctx, hygieneLockKey, token)
		}()
	}

	expired, err := s.hygiene.SweepExpired(ctx)
	if err != nil {
		logger.Error("Recovery sweep failed", zap.Error(err))
	}
	released, err := s.hygiene.ReleaseDueFreezes(ctx)
	if err != nil {
		logger.Error("Freeze release failed", zap.Error(err))
	}
	if expired > 0 || released > 0 {
		logger.Info("Recovery hygiene done", zap.Int("expired", expired), zap.Int("unfrozen", released))
	}
}
