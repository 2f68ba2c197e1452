package service

import (
	"context"
	"sync"
	"time"

	"sendfleet/internal/constants"
	"sendfleet/internal/models"

	"github.com/sirupsen/logrus"
)

// MaintenanceStore is the storage surface for periodic housekeeping.
type MaintenanceStore interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	SweepStaleLocks(ctx context.Context, staleness time.Duration) (int64, error)
	RequeueOrphanedClaims(ctx context.Context, olderThan time.Duration) (int64, error)
}

// MaintenanceScheduler runs periodic housekeeping: rolling daily usage
// windows past UTC midnight and reclaiming exclusivity locks whose
// holders died without releasing them.
type MaintenanceScheduler struct {
	store         MaintenanceStore
	limiter       *RateLimiter
	logger        *logrus.Logger
	interval      time.Duration
	lockStaleness time.Duration

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func NewMaintenanceScheduler(store MaintenanceStore, limiter *RateLimiter, interval, lockStaleness time.Duration, logger *logrus.Logger) *MaintenanceScheduler {
	if interval <= 0 {
		interval = constants.DefaultMaintenanceSec * time.Second
	}
	if lockStaleness <= 0 {
		lockStaleness = constants.DefaultLockStalenessSec * time.Second
	}
	return &MaintenanceScheduler{
		store:         store,
		limiter:       limiter,
		logger:        logger,
		interval:      interval,
		lockStaleness: lockStaleness,
		stopCh:        make(chan struct{}),
	}
}

func (s *MaintenanceScheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()

	s.logger.WithField("interval", s.interval.String()).Info("Maintenance scheduler started")
}

func (s *MaintenanceScheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

func (s *MaintenanceScheduler) runOnce(ctx context.Context) {
	s.rollUsageWindows(ctx)
	s.sweepLocks(ctx)
	s.sweepOrphanedClaims(ctx)
}

func (s *MaintenanceScheduler) rollUsageWindows(ctx context.Context) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list accounts for window roll")
		return
	}

	rolled := 0
	for _, acct := range accounts {
		reset, err := s.limiter.RollWindow(ctx, acct.ID)
		if err != nil {
			s.logger.WithError(err).WithField(LogFieldAccountID, acct.ID).Error("Window roll failed")
			continue
		}
		if reset {
			rolled++
		}
	}

	if rolled > 0 {
		s.logger.WithField(LogFieldCount, rolled).Info("Rolled daily usage windows")
	}
}

func (s *MaintenanceScheduler) sweepLocks(ctx context.Context) {
	reclaimed, err := s.store.SweepStaleLocks(ctx, s.lockStaleness)
	if err != nil {
		s.logger.WithError(err).Error("Stale lock sweep failed")
		return
	}
	if reclaimed > 0 {
		s.logger.WithField(LogFieldCount, reclaimed).Warn("Reclaimed stale account locks")
	}
}

// sweepOrphanedClaims returns queued messages whose claiming worker died
// before MarkSending. The staleness threshold keeps the sweep well clear
// of healthy claims, which leave queued within milliseconds.
func (s *MaintenanceScheduler) sweepOrphanedClaims(ctx context.Context) {
	requeued, err := s.store.RequeueOrphanedClaims(ctx, s.lockStaleness)
	if err != nil {
		s.logger.WithError(err).Error("Orphaned claim sweep failed")
		return
	}
	if requeued > 0 {
		s.logger.WithField(LogFieldCount, requeued).Warn("Requeued orphaned message claims")
	}
}
