package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sendfleet/internal/models"

	"github.com/stretchr/testify/mock"
)

func TestMaintenanceRunOnce(t *testing.T) {
	store := &mockMaintenanceStore{}
	store.On("ListAccounts", mock.Anything).Return([]*models.Account{
		{ID: "acct-1"},
		{ID: "acct-2"},
	}, nil)
	store.On("SweepStaleLocks", mock.Anything, time.Minute).Return(int64(1), nil)
	store.On("RequeueOrphanedClaims", mock.Anything, time.Minute).Return(int64(2), nil)

	rateStore := &mockRateLimitStore{}
	rateStore.On("ResetUsageWindow", mock.Anything, "acct-1", mock.Anything).Return(true, nil)
	rateStore.On("ResetUsageWindow", mock.Anything, "acct-2", mock.Anything).Return(false, nil)

	logger := newTestLogger()
	s := NewMaintenanceScheduler(store, NewRateLimiter(rateStore, logger), time.Hour, time.Minute, logger)
	s.runOnce(context.Background())

	store.AssertExpectations(t)
	rateStore.AssertExpectations(t)
}

func TestMaintenanceRunOnceToleratesErrors(t *testing.T) {
	store := &mockMaintenanceStore{}
	store.On("ListAccounts", mock.Anything).Return(nil, fmt.Errorf("db locked"))
	store.On("SweepStaleLocks", mock.Anything, mock.Anything).Return(int64(0), fmt.Errorf("db locked"))
	store.On("RequeueOrphanedClaims", mock.Anything, mock.Anything).Return(int64(0), fmt.Errorf("db locked"))

	logger := newTestLogger()
	rateStore := &mockRateLimitStore{}
	s := NewMaintenanceScheduler(store, NewRateLimiter(rateStore, logger), time.Hour, time.Minute, logger)

	// A failed sweep must not panic or skip the remaining housekeeping.
	s.runOnce(context.Background())
	store.AssertExpectations(t)
}

func TestMaintenanceSchedulerStartStop(t *testing.T) {
	store := &mockMaintenanceStore{}
	logger := newTestLogger()
	s := NewMaintenanceScheduler(store, NewRateLimiter(&mockRateLimitStore{}, logger), time.Hour, time.Minute, logger)

	s.Start(context.Background())
	s.Stop()
	// Stop is idempotent.
	s.Stop()
}

func TestDeliveryMonitorSweep(t *testing.T) {
	store := &mockStaleSendStore{}
	store.On("CountStaleSending", mock.Anything, 5*time.Minute).Return(3, nil)

	m := NewDeliveryMonitor(store, time.Hour, 5*time.Minute, newTestLogger())
	m.sweep(context.Background())
	store.AssertExpectations(t)
}

func TestDeliveryMonitorSweepError(t *testing.T) {
	store := &mockStaleSendStore{}
	store.On("CountStaleSending", mock.Anything, mock.Anything).Return(0, fmt.Errorf("db locked"))

	m := NewDeliveryMonitor(store, time.Hour, 5*time.Minute, newTestLogger())
	m.sweep(context.Background())
	store.AssertExpectations(t)
}

func TestDeliveryMonitorStartStop(t *testing.T) {
	store := &mockStaleSendStore{}
	m := NewDeliveryMonitor(store, time.Hour, time.Minute, newTestLogger())

	m.Start(context.Background())
	m.Stop()
	m.Stop()
}
