package types

import (
	"time"
)

// EventType identifies a lifecycle or delivery event emitted by the
// gateway for one account connection.
type EventType string

const (
	EventQR              EventType = "qr"
	EventAuthenticated   EventType = "authenticated"
	EventReady           EventType = "ready"
	EventMessageAck      EventType = "message_ack"
	EventDeliveryReceipt EventType = "delivery_receipt"
	EventDisconnected    EventType = "disconnected"
)

// ReceiptStatus is the delivery progression reported by a receipt event.
type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
)

// Event is one entry in the ordered per-adapter event stream. Lifecycle
// events (qr, authenticated, ready, disconnected) drive the account state
// machine; message_ack and delivery_receipt drive message status.
type Event struct {
	Type        EventType     `json:"type"`
	QRPayload   string        `json:"qrPayload,omitempty"`
	PhoneNumber string        `json:"phoneNumber,omitempty"`
	DisplayName string        `json:"displayName,omitempty"`
	ExternalID  string        `json:"externalId,omitempty"`
	Receipt     ReceiptStatus `json:"receipt,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// SendRequest carries one outbound message to the gateway. IdempotencyKey
// is the core's correlation id; the gateway deduplicates on it where the
// underlying network supports that.
type SendRequest struct {
	Recipient      string `json:"recipient"`
	Payload        string `json:"payload"`
	ChannelType    string `json:"channelType"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// SendAck is the gateway's explicit success acknowledgment for a send.
type SendAck struct {
	ExternalID string `json:"externalId"`
}

// GatewayError is a structured error returned by the gateway. Code feeds
// the retryable/terminal classification.
type GatewayError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *GatewayError) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// TransportCode returns the gateway error code for classification.
func (e *GatewayError) TransportCode() string {
	return e.Code
}

// AdapterConfig configures one gateway-backed adapter instance.
type AdapterConfig struct {
	GatewayBaseURL string        `json:"gateway_base_url"`
	APIKey         string        `json:"api_key"`
	AccountID      string        `json:"account_id"`
	Timeout        time.Duration `json:"timeout"`
	SendTimeout    time.Duration `json:"send_timeout"`
	EventBuffer    int           `json:"event_buffer"`
}
