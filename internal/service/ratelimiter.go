package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitStore is the storage capability the rate limiter needs: an
// atomic reserve with the ceiling enforced in the store, and its release
// counterpart for failed sends.
type RateLimitStore interface {
	ReserveDailySlot(ctx context.Context, accountID string, now time.Time) (allowed bool, remaining int, err error)
	ReleaseDailySlot(ctx context.Context, accountID string) error
	ResetUsageWindow(ctx context.Context, accountID string, now time.Time) (bool, error)
}

// Reservation is the result of a rate-limit check.
type Reservation struct {
	Allowed   bool
	Remaining int
}

// RateLimiter gates sends against each account's daily limit. The window
// boundary is UTC midnight. Exhaustion is backpressure, not an error: the
// account becomes ineligible until the window resets, and pending work
// waits or moves to another account.
type RateLimiter struct {
	store  RateLimitStore
	logger *logrus.Logger
	clock  func() time.Time
}

func NewRateLimiter(store RateLimitStore, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		store:  store,
		logger: logger,
		clock:  time.Now,
	}
}

// TryReserve atomically claims one send slot for the account. The caller
// must Release the slot if the send does not reach a success ack, so the
// counter tracks only sends that consumed network budget.
func (rl *RateLimiter) TryReserve(ctx context.Context, accountID string) (Reservation, error) {
	allowed, remaining, err := rl.store.ReserveDailySlot(ctx, accountID, rl.clock())
	if err != nil {
		return Reservation{}, err
	}

	if !allowed {
		rl.logger.WithFields(logrus.Fields{
			LogFieldAccountID: accountID,
			LogFieldRemaining: remaining,
		}).Debug("Daily limit reached, account ineligible until window reset")
	}

	return Reservation{Allowed: allowed, Remaining: remaining}, nil
}

// Release returns a reserved slot after a send that did not succeed.
func (rl *RateLimiter) Release(ctx context.Context, accountID string) error {
	return rl.store.ReleaseDailySlot(ctx, accountID)
}

// RollWindow advances an account's usage window if UTC midnight passed.
// Called by the maintenance sweep; reservation also rolls lazily.
func (rl *RateLimiter) RollWindow(ctx context.Context, accountID string) (bool, error) {
	reset, err := rl.store.ResetUsageWindow(ctx, accountID, rl.clock())
	if err != nil {
		return false, err
	}
	if reset {
		rl.logger.WithField(LogFieldAccountID, accountID).Info("Daily usage window reset")
	}
	return reset, nil
}
