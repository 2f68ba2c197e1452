package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sendfleet/internal/models"
)

// AcquireAccountLock claims the persisted exclusivity marker for an
// account. At most one holder may bind a transport adapter to an account
// at a time, across all process instances. A lock whose renewal lapsed
// beyond staleness is taken over rather than blocking reconnect forever.
func (d *Database) AcquireAccountLock(ctx context.Context, accountID, holderID string, staleness time.Duration) (bool, error) {
	now := time.Now().UTC()

	_, err := d.db.ExecContext(ctx, InsertAccountLockQuery, accountID, holderID, now, now)
	if err == nil {
		return true, nil
	}
	if !isUniqueConstraintError(err) {
		return false, fmt.Errorf("failed to acquire account lock: %w", err)
	}

	// Lock row exists. Take it over only if the holder went stale.
	cutoff := now.Add(-staleness)
	res, err := d.db.ExecContext(ctx, TakeOverStaleLockQuery, holderID, now, now, accountID, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to take over stale lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// RenewAccountLock refreshes the holder's claim. Returns false when the
// lock was lost (taken over or released).
func (d *Database) RenewAccountLock(ctx context.Context, accountID, holderID string) (bool, error) {
	res, err := d.db.ExecContext(ctx, RenewAccountLockQuery, time.Now().UTC(), accountID, holderID)
	if err != nil {
		return false, fmt.Errorf("failed to renew account lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseAccountLock drops the holder's claim on graceful shutdown or
// disconnect.
func (d *Database) ReleaseAccountLock(ctx context.Context, accountID, holderID string) error {
	if _, err := d.db.ExecContext(ctx, DeleteAccountLockQuery, accountID, holderID); err != nil {
		return fmt.Errorf("failed to release account lock: %w", err)
	}
	return nil
}

// SweepStaleLocks clears orphaned exclusivity markers left by crashed
// holders. Run at startup before adapters bind, and periodically after.
func (d *Database) SweepStaleLocks(ctx context.Context, staleness time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleness)
	res, err := d.db.ExecContext(ctx, DeleteStaleLocksQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale locks: %w", err)
	}
	return res.RowsAffected()
}

// GetAccountLock returns the current lock row for an account, or nil.
func (d *Database) GetAccountLock(ctx context.Context, accountID string) (*models.AccountLock, error) {
	lock := &models.AccountLock{}
	err := d.db.QueryRowContext(ctx, SelectAccountLockQuery, accountID).Scan(
		&lock.AccountID, &lock.HolderID, &lock.AcquiredAt, &lock.RenewedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account lock: %w", err)
	}
	return lock, nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
