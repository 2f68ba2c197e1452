package database

// Account queries
const (
	InsertAccountQuery = `
		INSERT INTO accounts (
			id, label, status, daily_limit, usage_window_start
		) VALUES (?, ?, ?, ?, ?)
	`

	SelectAccountQuery = `
		SELECT id, label, phone_number, display_name, status, disconnect_reason,
			   daily_sent_count, daily_limit, usage_window_start, health_score,
			   session_blob, connected_at, disconnected_at, created_at, updated_at
		FROM accounts
		WHERE id = ?
	`

	SelectAccountsQuery = `
		SELECT id, label, phone_number, display_name, status, disconnect_reason,
			   daily_sent_count, daily_limit, usage_window_start, health_score,
			   session_blob, connected_at, disconnected_at, created_at, updated_at
		FROM accounts
		ORDER BY created_at
	`

	UpdateAccountStatusQuery = `
		UPDATE accounts
		SET status = ?, disconnect_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	UpdateAccountIdentityQuery = `
		UPDATE accounts
		SET phone_number = ?, display_name = ?, connected_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateAccountDisconnectedQuery = `
		UPDATE accounts
		SET status = ?, disconnect_reason = ?, disconnected_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateSessionBlobQuery = `
		UPDATE accounts
		SET session_blob = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	UpdateHealthScoreQuery = `
		UPDATE accounts
		SET health_score = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	RecoverTransitionalAccountsQuery = `
		UPDATE accounts
		SET status = ?, disconnect_reason = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status IN (?, ?)
	`

	ReserveDailySlotQuery = `
		UPDATE accounts
		SET daily_sent_count = daily_sent_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND daily_sent_count < daily_limit
	`

	ReleaseDailySlotQuery = `
		UPDATE accounts
		SET daily_sent_count = daily_sent_count - 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND daily_sent_count > 0
	`

	ResetUsageWindowQuery = `
		UPDATE accounts
		SET daily_sent_count = 0, usage_window_start = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND usage_window_start < ?
	`

	SelectUsageQuery = `
		SELECT daily_sent_count, daily_limit, usage_window_start
		FROM accounts
		WHERE id = ?
	`
)

// Account lock queries
const (
	InsertAccountLockQuery = `
		INSERT INTO account_locks (account_id, holder_id, acquired_at, renewed_at)
		VALUES (?, ?, ?, ?)
	`

	TakeOverStaleLockQuery = `
		UPDATE account_locks
		SET holder_id = ?, acquired_at = ?, renewed_at = ?
		WHERE account_id = ? AND renewed_at < ?
	`

	RenewAccountLockQuery = `
		UPDATE account_locks
		SET renewed_at = ?
		WHERE account_id = ? AND holder_id = ?
	`

	DeleteAccountLockQuery = `
		DELETE FROM account_locks
		WHERE account_id = ? AND holder_id = ?
	`

	DeleteStaleLocksQuery = `
		DELETE FROM account_locks
		WHERE renewed_at < ?
	`

	SelectAccountLockQuery = `
		SELECT account_id, holder_id, acquired_at, renewed_at
		FROM account_locks
		WHERE account_id = ?
	`
)

// Outbound message queries
const (
	InsertMessageQuery = `
		INSERT INTO outbound_messages (
			id, campaign_id, recipient, payload, channel_type, status
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	SelectMessageQuery = `
		SELECT id, campaign_id, recipient, payload, channel_type, status,
			   assigned_account_id, external_id, attempt_count, last_error, retryable,
			   created_at, sent_at, delivered_at, read_at, updated_at
		FROM outbound_messages
		WHERE id = ?
	`

	SelectMessageByExternalIDQuery = `
		SELECT id, campaign_id, recipient, payload, channel_type, status,
			   assigned_account_id, external_id, attempt_count, last_error, retryable,
			   created_at, sent_at, delivered_at, read_at, updated_at
		FROM outbound_messages
		WHERE external_id = ?
	`

	ClaimPendingMessageQuery = `
		UPDATE outbound_messages
		SET status = ?, assigned_account_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = (
			SELECT id FROM outbound_messages
			WHERE status = ? AND assigned_account_id IS NULL
			ORDER BY created_at
			LIMIT 1
		) AND status = ?
	`

	SelectClaimedMessageQuery = `
		SELECT id, campaign_id, recipient, payload, channel_type, status,
			   assigned_account_id, external_id, attempt_count, last_error, retryable,
			   created_at, sent_at, delivered_at, read_at, updated_at
		FROM outbound_messages
		WHERE status = ? AND assigned_account_id = ?
		ORDER BY updated_at
		LIMIT 1
	`

	MarkSendingQuery = `
		UPDATE outbound_messages
		SET status = ?, attempt_count = attempt_count + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	MarkSentQuery = `
		UPDATE outbound_messages
		SET status = ?, external_id = ?, sent_at = ?, last_error = '', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	MarkFailedQuery = `
		UPDATE outbound_messages
		SET status = ?, last_error = ?, retryable = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = ?
	`

	RecordSendErrorQuery = `
		UPDATE outbound_messages
		SET last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	RequeueMessageQuery = `
		UPDATE outbound_messages
		SET status = ?, assigned_account_id = NULL, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)
	`

	OperatorRetryQuery = `
		UPDATE outbound_messages
		SET status = ?, assigned_account_id = NULL, attempt_count = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?, ?)
	`

	RequeueOrphanedClaimsQuery = `
		UPDATE outbound_messages
		SET status = ?, assigned_account_id = NULL, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE status = ? AND updated_at <= datetime('now', '-' || ? || ' seconds')
	`

	AdvanceDeliveryQuery = `
		UPDATE outbound_messages
		SET status = ?, delivered_at = COALESCE(delivered_at, ?), read_at = COALESCE(read_at, ?), updated_at = CURRENT_TIMESTAMP
		WHERE external_id = ? AND status IN (?, ?)
	`

	CountStaleSendingQuery = `
		SELECT COUNT(*)
		FROM outbound_messages
		WHERE status = ? AND updated_at < datetime('now', '-' || ? || ' seconds')
	`
)
