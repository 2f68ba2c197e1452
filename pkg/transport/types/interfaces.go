package types

import (
	"context"
)

// Adapter is the capability contract for one authenticated connection to
// the external messaging network. The core consumes it and never
// implements the wire protocol itself. One adapter instance serves one
// account; sends through it are one at a time.
type Adapter interface {
	// Initialize begins or resumes a connection. A non-empty sessionBlob
	// resumes prior authentication and may skip the QR handshake. The
	// returned stream is ordered and closes when the connection ends.
	Initialize(ctx context.Context, sessionBlob []byte) (<-chan Event, error)

	// Send transmits one message and blocks for the gateway's explicit
	// acknowledgment. Context expiry means unknown outcome, not failure.
	Send(ctx context.Context, req SendRequest) (*SendAck, error)

	// PersistSession exports opaque session material for the session
	// store so a later Initialize can resume without a fresh scan.
	PersistSession(ctx context.Context) ([]byte, error)

	// Close tears down the connection and the event stream.
	Close() error
}

// Factory builds adapters on demand, one per account bind.
type Factory interface {
	NewAdapter(accountID string) Adapter
}
