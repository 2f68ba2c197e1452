package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"sendfleet/pkg/transport/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// GatewayAdapter talks to the external messaging gateway: sends and
// session export over HTTP, lifecycle and delivery events over a
// websocket stream per account.
type GatewayAdapter struct {
	cfg    types.AdapterConfig
	client *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

// NewAdapter creates an adapter bound to one account slot on the gateway.
func NewAdapter(cfg types.AdapterConfig) *GatewayAdapter {
	return &GatewayAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Factory builds gateway adapters that share one base configuration.
type Factory struct {
	cfg types.AdapterConfig
}

func NewFactory(cfg types.AdapterConfig) *Factory {
	return &Factory{cfg: cfg}
}

func (f *Factory) NewAdapter(accountID string) types.Adapter {
	cfg := f.cfg
	cfg.AccountID = accountID
	return NewAdapter(cfg)
}

// Initialize starts or resumes the gateway connection for this account
// and subscribes to its event stream.
func (a *GatewayAdapter) Initialize(ctx context.Context, sessionBlob []byte) (<-chan types.Event, error) {
	body := map[string]string{}
	if len(sessionBlob) > 0 {
		body["session"] = base64.StdEncoding.EncodeToString(sessionBlob)
	}

	if err := a.post(ctx, fmt.Sprintf("/api/accounts/%s/connect", a.cfg.AccountID), body, nil); err != nil {
		return nil, fmt.Errorf("failed to initialize gateway connection: %w", err)
	}

	wsURL := strings.Replace(a.cfg.GatewayBaseURL, "http", "ws", 1) +
		fmt.Sprintf("/api/accounts/%s/events", a.cfg.AccountID)

	opts := &websocket.DialOptions{}
	if a.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"X-Api-Key": []string{a.cfg.APIKey}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to event stream: %w", err)
	}

	streamCtx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.conn = conn
	a.cancel = cancel
	a.closed = false
	a.mu.Unlock()

	buffer := a.cfg.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	events := make(chan types.Event, buffer)

	go a.readEvents(streamCtx, conn, events)

	return events, nil
}

func (a *GatewayAdapter) readEvents(ctx context.Context, conn *websocket.Conn, events chan<- types.Event) {
	defer close(events)

	for {
		var evt types.Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			// Stream ended: either Close was called or the gateway
			// dropped the connection. A dropped connection surfaces as
			// a synthetic disconnected event so consumers see exactly
			// one terminal entry.
			a.mu.Lock()
			wasClosed := a.closed
			a.mu.Unlock()
			if !wasClosed {
				select {
				case events <- types.Event{Type: types.EventDisconnected, Reason: "event stream lost"}:
				case <-ctx.Done():
				}
			}
			return
		}

		select {
		case events <- evt:
		case <-ctx.Done():
			return
		}
	}
}

// Send transmits one message and waits for the gateway acknowledgment.
func (a *GatewayAdapter) Send(ctx context.Context, req types.SendRequest) (*types.SendAck, error) {
	if a.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.SendTimeout)
		defer cancel()
	}

	var ack types.SendAck
	if err := a.post(ctx, fmt.Sprintf("/api/accounts/%s/send", a.cfg.AccountID), req, &ack); err != nil {
		return nil, err
	}
	if ack.ExternalID == "" {
		return nil, &types.GatewayError{Code: "PAYLOAD_REJECTED", Message: "gateway returned no external id"}
	}
	return &ack, nil
}

// PersistSession exports the opaque session material for storage.
func (a *GatewayAdapter) PersistSession(ctx context.Context) ([]byte, error) {
	var resp struct {
		Session string `json:"session"`
	}
	if err := a.get(ctx, fmt.Sprintf("/api/accounts/%s/session", a.cfg.AccountID), &resp); err != nil {
		return nil, fmt.Errorf("failed to export session: %w", err)
	}
	if resp.Session == "" {
		return nil, nil
	}

	blob, err := base64.StdEncoding.DecodeString(resp.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session blob: %w", err)
	}
	return blob, nil
}

// Close tears down the websocket and ends the event stream.
func (a *GatewayAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	if a.cancel != nil {
		a.cancel()
	}
	if a.conn != nil {
		return a.conn.Close(websocket.StatusNormalClosure, "adapter closed")
	}
	return nil
}

func (a *GatewayAdapter) post(ctx context.Context, endpoint string, payload interface{}, out interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayBaseURL+endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", a.cfg.APIKey)
	}

	return a.do(req, out)
}

func (a *GatewayAdapter) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.GatewayBaseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if a.cfg.APIKey != "" {
		req.Header.Set("X-Api-Key", a.cfg.APIKey)
	}

	return a.do(req, out)
}

func (a *GatewayAdapter) do(req *http.Request, out interface{}) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		gwErr := &types.GatewayError{HTTPStatus: resp.StatusCode}
		if decodeErr := json.NewDecoder(resp.Body).Decode(gwErr); decodeErr != nil || gwErr.Code == "" {
			gwErr.Code = fmt.Sprintf("HTTP_%d", resp.StatusCode)
		}
		return gwErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
