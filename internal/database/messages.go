package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"sendfleet/internal/constants"
	"sendfleet/internal/models"
)

// EnqueueMessage persists a new outbound message in the pending state.
func (d *Database) EnqueueMessage(ctx context.Context, msg *models.OutboundMessage) error {
	err := retryableDBOperation(ctx, func() error {
		_, execErr := d.db.ExecContext(ctx, InsertMessageQuery,
			msg.ID, msg.CampaignID, msg.Recipient, msg.Payload, msg.ChannelType, models.MessageStatusPending)
		return execErr
	}, "enqueue message")
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}
	return nil
}

// GetMessage fetches one message by id. Returns nil when absent.
func (d *Database) GetMessage(ctx context.Context, id string) (*models.OutboundMessage, error) {
	row := d.db.QueryRowContext(ctx, SelectMessageQuery, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

// GetMessageByExternalID resolves the correlation id stamped by the
// transport back to a message.
func (d *Database) GetMessageByExternalID(ctx context.Context, externalID string) (*models.OutboundMessage, error) {
	row := d.db.QueryRowContext(ctx, SelectMessageByExternalIDQuery, externalID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message by external id: %w", err)
	}
	return msg, nil
}

// ListMessages returns messages matching the filter, newest first.
func (d *Database) ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.OutboundMessage, error) {
	query := `
		SELECT id, campaign_id, recipient, payload, channel_type, status,
			   assigned_account_id, external_id, attempt_count, last_error, retryable,
			   created_at, sent_at, delivered_at, read_at, updated_at
		FROM outbound_messages`

	var conds []string
	var args []interface{}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.CampaignID != "" {
		conds = append(conds, "campaign_id = ?")
		args = append(args, filter.CampaignID)
	}
	if filter.AccountID != "" {
		conds = append(conds, "assigned_account_id = ?")
		args = append(args, filter.AccountID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.OutboundMessage
	for rows.Next() {
		msg, scanErr := scanMessage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan message: %w", scanErr)
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

// ClaimPendingMessage atomically assigns the oldest pending, unassigned
// message to the given account and moves it to queued. The single UPDATE
// is the compare-and-swap that guarantees at-most-one assignment under
// concurrent dispatcher workers. Returns nil when nothing was claimable.
func (d *Database) ClaimPendingMessage(ctx context.Context, accountID string) (*models.OutboundMessage, error) {
	res, err := d.db.ExecContext(ctx, ClaimPendingMessageQuery,
		models.MessageStatusQueued, accountID,
		models.MessageStatusPending, models.MessageStatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	// Sends are serialized per account, so the claimed row is the only
	// queued message assigned to this account.
	row := d.db.QueryRowContext(ctx, SelectClaimedMessageQuery, models.MessageStatusQueued, accountID)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("failed to load claimed message: %w", err)
	}
	return msg, nil
}

// MarkSending moves a claimed message into sending and counts the attempt.
func (d *Database) MarkSending(ctx context.Context, id string) (bool, error) {
	return d.guardedUpdate(ctx, MarkSendingQuery,
		models.MessageStatusSending, id, models.MessageStatusQueued)
}

// MarkSent records a successful send acknowledgment with the transport's
// correlation id. Guarded on the sending state so a late duplicate ack
// cannot double-apply.
func (d *Database) MarkSent(ctx context.Context, id, externalID string, at time.Time) (bool, error) {
	return d.guardedUpdate(ctx, MarkSentQuery,
		models.MessageStatusSent, externalID, at, id, models.MessageStatusSending)
}

// MarkFailed terminally fails a message, recording whether the failure
// class permits operator retry.
func (d *Database) MarkFailed(ctx context.Context, id, lastError string, retryable bool) (bool, error) {
	return d.guardedUpdate(ctx, MarkFailedQuery,
		models.MessageStatusFailed, lastError, retryable, id, models.MessageStatusSending)
}

// RecordSendError stores diagnostic detail without changing status. Used
// for timed-out sends whose outcome is unknown: the message stays in
// sending for operator review instead of being blindly retried.
func (d *Database) RecordSendError(ctx context.Context, id, lastError string) error {
	if _, err := d.db.ExecContext(ctx, RecordSendErrorQuery, lastError, id); err != nil {
		return fmt.Errorf("failed to record send error: %w", err)
	}
	return nil
}

// RequeueMessage releases a claim after a transient failure, returning the
// message to pending for reassignment, possibly to a different account.
func (d *Database) RequeueMessage(ctx context.Context, id, lastError string) (bool, error) {
	return d.guardedUpdate(ctx, RequeueMessageQuery,
		models.MessageStatusPending, lastError, id,
		models.MessageStatusQueued, models.MessageStatusSending)
}

// RequeueOrphanedClaims returns queued messages older than the threshold
// to pending. A claim parks a message in queued only for the instant
// between assignment and MarkSending; any queued row older than that lost
// its worker, typically to a process crash, and would otherwise never be
// claimable again. Returns the number of messages released.
func (d *Database) RequeueOrphanedClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := d.db.ExecContext(ctx, RequeueOrphanedClaimsQuery,
		models.MessageStatusPending, "claim released by recovery sweep",
		models.MessageStatusQueued, int(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphaned claims: %w", err)
	}
	return res.RowsAffected()
}

// OperatorRetry resets a terminally failed or stuck-unconfirmed message to
// pending with a fresh attempt budget. Callers log the manual intervention.
func (d *Database) OperatorRetry(ctx context.Context, id string) (bool, error) {
	return d.guardedUpdate(ctx, OperatorRetryQuery,
		models.MessageStatusPending, id,
		models.MessageStatusFailed, models.MessageStatusSending)
}

// AdvanceDelivery applies a delivered or read receipt by correlation id.
// The allowed-from states enforce forward-only progression: a terminal or
// later state is never rolled back by a late receipt.
func (d *Database) AdvanceDelivery(ctx context.Context, externalID string, status models.MessageStatus, at time.Time) (bool, error) {
	var deliveredAt, readAt interface{}

	switch status {
	case models.MessageStatusDelivered:
		deliveredAt = at
	case models.MessageStatusRead:
		readAt = at
	default:
		return false, fmt.Errorf("unsupported delivery status: %s", status)
	}

	// A correlation id exists from sent onward, so sent and delivered are
	// the only candidate source states; the forward-only rule decides
	// which of them may still move to the receipt's status.
	allowedFrom := make([]models.MessageStatus, 0, 2)
	for _, from := range []models.MessageStatus{models.MessageStatusSent, models.MessageStatusDelivered} {
		if from.Advances(status) {
			allowedFrom = append(allowedFrom, from)
		}
	}
	if len(allowedFrom) == 1 {
		allowedFrom = append(allowedFrom, allowedFrom[0])
	}

	return d.guardedUpdate(ctx, AdvanceDeliveryQuery,
		status, deliveredAt, readAt, externalID, allowedFrom[0], allowedFrom[1])
}

// CountStaleSending counts sends stuck in sending longer than the
// threshold, meaning unconfirmed outcomes awaiting operator review.
func (d *Database) CountStaleSending(ctx context.Context, threshold time.Duration) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, CountStaleSendingQuery,
		models.MessageStatusSending, int(threshold.Seconds())).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stale sending messages: %w", err)
	}
	return count, nil
}

func (d *Database) guardedUpdate(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("guarded update failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func scanMessage(row rowScanner) (*models.OutboundMessage, error) {
	msg := &models.OutboundMessage{}
	err := row.Scan(
		&msg.ID, &msg.CampaignID, &msg.Recipient, &msg.Payload, &msg.ChannelType,
		&msg.Status, &msg.AssignedAccountID, &msg.ExternalID,
		&msg.AttemptCount, &msg.LastError, &msg.Retryable,
		&msg.CreatedAt, &msg.SentAt, &msg.DeliveredAt, &msg.ReadAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}
