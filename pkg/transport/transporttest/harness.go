// Package transporttest provides a scripted in-memory adapter for tests.
// It implements the same capability contract as the gateway adapter, with
// event emission and send outcomes under test control.
package transporttest

import (
	"context"
	"sync"
	"time"

	"sendfleet/pkg/transport/types"
)

// SendFunc decides the outcome of one scripted send.
type SendFunc func(req types.SendRequest) (*types.SendAck, error)

// FakeAdapter is a scriptable types.Adapter. Tests drive the handshake by
// emitting events and control send outcomes via SendFn.
type FakeAdapter struct {
	mu          sync.Mutex
	events      chan types.Event
	initialized bool
	closed      bool

	// SendFn decides send results; nil acks every send with "ext-<key>".
	SendFn SendFunc
	// SessionBlob is returned by PersistSession.
	SessionBlob []byte
	// InitErr, when set, fails Initialize.
	InitErr error

	sendCalls []types.SendRequest
	initBlobs [][]byte
}

// NewFakeAdapter returns an adapter whose event stream is test-driven.
func NewFakeAdapter() *FakeAdapter {
	return &FakeAdapter{
		events: make(chan types.Event, 64),
	}
}

func (f *FakeAdapter) Initialize(ctx context.Context, sessionBlob []byte) (<-chan types.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.InitErr != nil {
		return nil, f.InitErr
	}
	f.initialized = true
	f.initBlobs = append(f.initBlobs, sessionBlob)
	return f.events, nil
}

func (f *FakeAdapter) Send(ctx context.Context, req types.SendRequest) (*types.SendAck, error) {
	f.mu.Lock()
	f.sendCalls = append(f.sendCalls, req)
	fn := f.SendFn
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fn != nil {
		return fn(req)
	}
	return &types.SendAck{ExternalID: "ext-" + req.IdempotencyKey}, nil
}

func (f *FakeAdapter) PersistSession(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.SessionBlob, nil
}

func (f *FakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Emit pushes one event into the stream, stamping the time if unset.
func (f *FakeAdapter) Emit(evt types.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	f.events <- evt
}

// EmitQR is shorthand for a QR issuance event.
func (f *FakeAdapter) EmitQR(payload string) {
	f.Emit(types.Event{Type: types.EventQR, QRPayload: payload})
}

// EmitReady is shorthand for the handshake completing.
func (f *FakeAdapter) EmitReady(phoneNumber, displayName string) {
	f.Emit(types.Event{Type: types.EventReady, PhoneNumber: phoneNumber, DisplayName: displayName})
}

// EmitReceipt is shorthand for a delivery or read receipt.
func (f *FakeAdapter) EmitReceipt(externalID string, status types.ReceiptStatus) {
	f.Emit(types.Event{Type: types.EventDeliveryReceipt, ExternalID: externalID, Receipt: status})
}

// SendCalls returns a copy of the recorded send requests.
func (f *FakeAdapter) SendCalls() []types.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.SendRequest, len(f.sendCalls))
	copy(out, f.sendCalls)
	return out
}

// Initialized reports whether Initialize was called.
func (f *FakeAdapter) Initialized() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initialized
}

// LastInitBlob returns the session blob passed to the latest Initialize.
func (f *FakeAdapter) LastInitBlob() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.initBlobs) == 0 {
		return nil
	}
	return f.initBlobs[len(f.initBlobs)-1]
}

// Closed reports whether Close was called.
func (f *FakeAdapter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeFactory hands out pre-registered fakes per account, creating fresh
// ones on demand.
type FakeFactory struct {
	mu       sync.Mutex
	adapters map[string]*FakeAdapter
}

func NewFakeFactory() *FakeFactory {
	return &FakeFactory{adapters: make(map[string]*FakeAdapter)}
}

// Register pins a specific fake for an account id.
func (f *FakeFactory) Register(accountID string, adapter *FakeAdapter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.adapters[accountID] = adapter
}

func (f *FakeFactory) NewAdapter(accountID string) types.Adapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.adapters[accountID]; ok {
		return a
	}
	a := NewFakeAdapter()
	f.adapters[accountID] = a
	return a
}

// Adapter returns the fake bound to an account id, if any.
func (f *FakeFactory) Adapter(accountID string) *FakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.adapters[accountID]
}
