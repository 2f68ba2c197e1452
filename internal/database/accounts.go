package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"sendfleet/internal/models"
)

// CreateAccount persists a new account in the provisioning state.
func (d *Database) CreateAccount(ctx context.Context, acct *models.Account) error {
	windowStart := utcMidnight(time.Now())
	if !acct.UsageWindowStart.IsZero() {
		windowStart = acct.UsageWindowStart
	}

	err := retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, InsertAccountQuery,
			acct.ID, acct.Label, acct.Status, acct.DailyLimit, windowStart)
		return execErr
	}, "create account")
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount fetches one account by id. Returns nil when absent.
func (d *Database) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := d.db.QueryRowContext(ctx, SelectAccountQuery, id)
	acct, err := scanAccount(row, d.encryptor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// ListAccounts returns all accounts ordered by creation time.
func (d *Database) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := d.db.QueryContext(ctx, SelectAccountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		acct, scanErr := scanAccount(rows, d.encryptor)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan account: %w", scanErr)
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// TransitionAccountStatus moves an account from one status to another,
// guarded so concurrent transitions cannot race: the update applies only
// when the account is still in the expected state.
func (d *Database) TransitionAccountStatus(ctx context.Context, id string, from, to models.AccountStatus, reason string) (bool, error) {
	res, err := d.db.ExecContext(ctx, UpdateAccountStatusQuery, to, reason, id, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition account status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SetAccountIdentity records the phone number and display name captured
// from the transport ready event.
func (d *Database) SetAccountIdentity(ctx context.Context, id, phoneNumber, displayName string, connectedAt time.Time) error {
	_, err := d.db.ExecContext(ctx, UpdateAccountIdentityQuery, phoneNumber, displayName, connectedAt, id)
	if err != nil {
		return fmt.Errorf("failed to set account identity: %w", err)
	}
	return nil
}

// SetAccountDisconnected force-moves an account to the given status and
// stamps the disconnect reason and time. Used for demotions that must not
// depend on the prior state.
func (d *Database) SetAccountDisconnected(ctx context.Context, id string, status models.AccountStatus, reason string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, UpdateAccountDisconnectedQuery, status, reason, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark account disconnected: %w", err)
	}
	return nil
}

// SaveSessionBlob persists opaque session material, encrypted at rest when
// an encryption secret is configured.
func (d *Database) SaveSessionBlob(ctx context.Context, id string, blob []byte) error {
	sealed, err := d.encryptor.EncryptBlob(blob)
	if err != nil {
		return fmt.Errorf("failed to encrypt session blob: %w", err)
	}
	if _, err := d.db.ExecContext(ctx, UpdateSessionBlobQuery, sealed, id); err != nil {
		return fmt.Errorf("failed to save session blob: %w", err)
	}
	return nil
}

// UpdateHealthScore persists a recomputed health score.
func (d *Database) UpdateHealthScore(ctx context.Context, id string, score int) error {
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	if _, err := d.db.ExecContext(ctx, UpdateHealthScoreQuery, score, id); err != nil {
		return fmt.Errorf("failed to update health score: %w", err)
	}
	return nil
}

// RecoverTransitionalAccounts demotes every account stuck mid-handshake to
// disconnected. Run once at process start, before any adapter binds: an
// account found connecting or awaiting_scan with no live adapter cannot be
// trusted to resume.
func (d *Database) RecoverTransitionalAccounts(ctx context.Context, reason string) (int64, error) {
	res, err := d.db.ExecContext(ctx, RecoverTransitionalAccountsQuery,
		models.AccountStatusDisconnected, reason,
		models.AccountStatusConnecting, models.AccountStatusAwaitingScan)
	if err != nil {
		return 0, fmt.Errorf("failed to recover transitional accounts: %w", err)
	}
	return res.RowsAffected()
}

// ReserveDailySlot atomically reserves one send against the account's daily
// limit. The single UPDATE with the ceiling in its WHERE clause is the
// authoritative counter; concurrent reservations cannot exceed the limit.
func (d *Database) ReserveDailySlot(ctx context.Context, id string, now time.Time) (allowed bool, remaining int, err error) {
	midnight := utcMidnight(now)

	// Lazily roll the window over before reserving.
	if _, err := d.db.ExecContext(ctx, ResetUsageWindowQuery, midnight, id, midnight); err != nil {
		return false, 0, fmt.Errorf("failed to reset usage window: %w", err)
	}

	res, err := d.db.ExecContext(ctx, ReserveDailySlotQuery, id)
	if err != nil {
		return false, 0, fmt.Errorf("failed to reserve daily slot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	var sent, limit int
	var windowStart time.Time
	if err := d.db.QueryRowContext(ctx, SelectUsageQuery, id).Scan(&sent, &limit, &windowStart); err != nil {
		return false, 0, fmt.Errorf("failed to read usage: %w", err)
	}

	return n == 1, limit - sent, nil
}

// ReleaseDailySlot returns a previously reserved slot after a failed send.
func (d *Database) ReleaseDailySlot(ctx context.Context, id string) error {
	if _, err := d.db.ExecContext(ctx, ReleaseDailySlotQuery, id); err != nil {
		return fmt.Errorf("failed to release daily slot: %w", err)
	}
	return nil
}

// ResetUsageWindow rolls an account's usage window forward if it lags the
// current UTC midnight. Returns true when a reset happened.
func (d *Database) ResetUsageWindow(ctx context.Context, id string, now time.Time) (bool, error) {
	midnight := utcMidnight(now)
	res, err := d.db.ExecContext(ctx, ResetUsageWindowQuery, midnight, id, midnight)
	if err != nil {
		return false, fmt.Errorf("failed to reset usage window: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// utcMidnight truncates t to the start of its UTC day. The usage window
// boundary is UTC midnight for determinism across processes.
func utcMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner, enc *encryptor) (*models.Account, error) {
	acct := &models.Account{}
	var sealedBlob string
	err := row.Scan(
		&acct.ID, &acct.Label, &acct.PhoneNumber, &acct.DisplayName,
		&acct.Status, &acct.DisconnectReason,
		&acct.DailySentCount, &acct.DailyLimit, &acct.UsageWindowStart,
		&acct.HealthScore, &sealedBlob,
		&acct.ConnectedAt, &acct.DisconnectedAt,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	blob, err := enc.DecryptBlob(sealedBlob)
	if err != nil {
		return nil, err
	}
	acct.SessionBlob = blob
	return acct, nil
}
