package service

import (
	"context"
	"sync"
	"time"

	"sendfleet/internal/constants"
	"sendfleet/internal/metrics"

	"github.com/sirupsen/logrus"
)

// StaleSendStore counts messages stuck in sending past a threshold.
type StaleSendStore interface {
	CountStaleSending(ctx context.Context, threshold time.Duration) (int, error)
}

// DeliveryMonitor periodically surfaces messages whose send outcome is
// still unknown. These are never retried automatically; the monitor only
// makes them visible so an operator can resolve them.
type DeliveryMonitor struct {
	store         StaleSendStore
	logger        *logrus.Logger
	sweepInterval time.Duration
	warnThreshold time.Duration

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func NewDeliveryMonitor(store StaleSendStore, sweepInterval, warnThreshold time.Duration, logger *logrus.Logger) *DeliveryMonitor {
	if sweepInterval <= 0 {
		sweepInterval = constants.DefaultStaleSendSweepSec * time.Second
	}
	if warnThreshold <= 0 {
		warnThreshold = constants.DefaultStaleSendWarnSec * time.Second
	}
	return &DeliveryMonitor{
		store:         store,
		logger:        logger,
		sweepInterval: sweepInterval,
		warnThreshold: warnThreshold,
		stopCh:        make(chan struct{}),
	}
}

// Start begins periodic sweeps. Runs until Stop or context cancellation.
func (m *DeliveryMonitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()

	m.logger.WithField("interval", m.sweepInterval.String()).Info("Delivery monitor started")
}

func (m *DeliveryMonitor) Stop() {
	m.stopped.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}

func (m *DeliveryMonitor) sweep(ctx context.Context) {
	count, err := m.store.CountStaleSending(ctx, m.warnThreshold)
	if err != nil {
		m.logger.WithError(err).Error("Stale send sweep failed")
		return
	}

	metrics.SetGauge("messages_stale_sending", float64(count), nil, "Sends with unknown outcome past threshold")
	if count > 0 {
		m.logger.WithFields(logrus.Fields{
			LogFieldCount: count,
			"threshold":   m.warnThreshold.String(),
		}).Warn("Messages stuck in sending require operator review")
	}
}
