package models

import (
	"time"
)

// MessageStatus represents the delivery state of an outbound message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusQueued    MessageStatus = "queued"
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// IsTerminal reports whether the status may never be rolled back to an
// earlier state by any subsequent event.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case MessageStatusSent, MessageStatusDelivered, MessageStatusRead, MessageStatusFailed:
		return true
	}
	return false
}

// rank orders delivery progression so that late or duplicate receipts can
// never move a message backwards.
func (s MessageStatus) rank() int {
	switch s {
	case MessageStatusPending:
		return 0
	case MessageStatusQueued:
		return 1
	case MessageStatusSending:
		return 2
	case MessageStatusSent:
		return 3
	case MessageStatusDelivered:
		return 4
	case MessageStatusRead:
		return 5
	case MessageStatusFailed:
		return 6
	}
	return -1
}

// Advances reports whether moving from s to next is a forward transition.
func (s MessageStatus) Advances(next MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	return next.rank() > s.rank()
}

// ChannelType identifies the payload kind carried by a message.
type ChannelType string

const (
	ChannelTypeText  ChannelType = "text"
	ChannelTypeMedia ChannelType = "media"
	ChannelTypeLink  ChannelType = "link"
)

// OutboundMessage represents one unit of send work. Messages are never
// deleted; terminal states are retained for audit and operator retry.
type OutboundMessage struct {
	ID                string        `db:"id"`
	CampaignID        *string       `db:"campaign_id"`
	Recipient         string        `db:"recipient"`
	Payload           string        `db:"payload"`
	ChannelType       ChannelType   `db:"channel_type"`
	Status            MessageStatus `db:"status"`
	AssignedAccountID *string       `db:"assigned_account_id"`
	ExternalID        string        `db:"external_id"`
	AttemptCount      int           `db:"attempt_count"`
	LastError         string        `db:"last_error"`
	Retryable         bool          `db:"retryable"`
	CreatedAt         time.Time     `db:"created_at"`
	SentAt            *time.Time    `db:"sent_at"`
	DeliveredAt       *time.Time    `db:"delivered_at"`
	ReadAt            *time.Time    `db:"read_at"`
	UpdatedAt         time.Time     `db:"updated_at"`
}

// EnqueueRequest is the caller-facing shape for submitting send work.
// Enqueue is fire-and-track: outcome surfaces via polled status, never as
// a synchronous error.
type EnqueueRequest struct {
	CampaignID  *string     `json:"campaignId,omitempty"`
	Recipient   string      `json:"recipient"`
	Payload     string      `json:"payload"`
	ChannelType ChannelType `json:"channelType"`
}

// MessageFilter narrows message listings for operator consumers.
type MessageFilter struct {
	Status     MessageStatus
	CampaignID string
	AccountID  string
	Limit      int
}
