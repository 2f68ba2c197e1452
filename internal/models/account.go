package models

import (
	"time"
)

// AccountStatus represents the lifecycle state of a messaging account.
type AccountStatus string

const (
	AccountStatusProvisioning AccountStatus = "provisioning"
	AccountStatusAwaitingScan AccountStatus = "awaiting_scan"
	AccountStatusConnecting   AccountStatus = "connecting"
	AccountStatusActive       AccountStatus = "active"
	AccountStatusDisconnected AccountStatus = "disconnected"
	AccountStatusSuspended    AccountStatus = "suspended"
)

// IsTransitional reports whether the status is an intermediate handshake
// state that cannot be trusted to resume after a process restart.
func (s AccountStatus) IsTransitional() bool {
	return s == AccountStatusAwaitingScan || s == AccountStatusConnecting
}

// Account represents one physical connection slot to the messaging network.
type Account struct {
	ID               string        `db:"id"`
	Label            string        `db:"label"`
	PhoneNumber      string        `db:"phone_number"`
	DisplayName      string        `db:"display_name"`
	Status           AccountStatus `db:"status"`
	DisconnectReason string        `db:"disconnect_reason"`
	DailySentCount   int           `db:"daily_sent_count"`
	DailyLimit       int           `db:"daily_limit"`
	UsageWindowStart time.Time     `db:"usage_window_start"`
	HealthScore      int           `db:"health_score"`
	SessionBlob      []byte        `db:"session_blob"`
	ConnectedAt      *time.Time    `db:"connected_at"`
	DisconnectedAt   *time.Time    `db:"disconnected_at"`
	CreatedAt        time.Time     `db:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at"`
}

// HasSession reports whether the account retained session material that a
// reconnect may reuse to skip the QR handshake.
func (a *Account) HasSession() bool {
	return len(a.SessionBlob) > 0
}

// AccountStatusView is the poll contract returned to status consumers.
// Polling it has no side effects; consumers may poll at any cadence.
type AccountStatusView struct {
	ID               string        `json:"id"`
	Label            string        `json:"label"`
	Status           AccountStatus `json:"status"`
	Connected        bool          `json:"connected"`
	PhoneNumber      string        `json:"phoneNumber,omitempty"`
	DisplayName      string        `json:"displayName,omitempty"`
	QRPayload        string        `json:"qrPayload,omitempty"`
	QRExpiresInSec   int           `json:"qrExpiresInSec,omitempty"`
	HealthScore      int           `json:"healthScore"`
	DailySentCount   int           `json:"dailySentCount"`
	DailyLimit       int           `json:"dailyLimit"`
	DisconnectReason string        `json:"disconnectReason,omitempty"`
}

// AccountLock is the persisted exclusivity marker that a process must hold
// before binding a transport adapter to an account. A lock whose RenewedAt
// is older than the staleness cutoff may be taken over.
type AccountLock struct {
	AccountID  string    `db:"account_id"`
	HolderID   string    `db:"holder_id"`
	AcquiredAt time.Time `db:"acquired_at"`
	RenewedAt  time.Time `db:"renewed_at"`
}
