package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"sendfleet/internal/database"
	"sendfleet/internal/errors"
	"sendfleet/internal/models"
	"sendfleet/internal/service"
	"sendfleet/pkg/transport/transporttest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverFixture struct {
	server  *Server
	db      *database.Database
	factory *transporttest.FakeFactory
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := database.New(filepath.Join(t.TempDir(), "sendfleet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	limiter := service.NewRateLimiter(db, logger)
	projector := service.NewStatusProjector(db, logger)
	relay := &senderRelay{}

	dispatcher := service.NewDispatcher(db, limiter, relay, projector,
		errors.NewClassifier(nil, nil), service.DispatchOptions{}, logger)
	t.Cleanup(dispatcher.Stop)

	factory := transporttest.NewFakeFactory()
	manager := service.NewAccountManager(db, factory, projector, dispatcher,
		service.LifecycleOptions{HolderID: "test-holder"}, logger)
	relay.target = manager
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	cfg := &models.Config{}
	cfg.Server.Port = 0

	return &serverFixture{
		server:  NewServer(cfg, manager, dispatcher, db, logger),
		db:      db,
		factory: factory,
	}
}

func (f *serverFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestCreateAccount(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/accounts", createAccountRequest{
		ID:         "acct-1",
		Label:      "spring launch",
		DailyLimit: 200,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "acct-1", body["ID"])

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decodeBody(t, rec)
	assert.Equal(t, string(models.AccountStatusProvisioning), status["status"])
	assert.Equal(t, float64(200), status["dailyLimit"])
}

func TestCreateAccountGeneratesID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/accounts", createAccountRequest{Label: "auto id"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["ID"])
}

func TestCreateAccountValidation(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name string
		req  createAccountRequest
	}{
		{name: "empty label", req: createAccountRequest{}},
		{name: "label with control characters", req: createAccountRequest{Label: "bad\x00label"}},
		{name: "negative daily limit", req: createAccountRequest{Label: "ok", DailyLimit: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/accounts", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestListAccounts(t *testing.T) {
	f := newServerFixture(t)

	for _, id := range []string{"acct-1", "acct-2"} {
		rec := f.do(t, http.MethodPost, "/api/v1/accounts", createAccountRequest{ID: id, Label: "x"})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/accounts", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["accounts"], 2)
}

func TestAccountStatusNotFound(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/accounts/no-such", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(errors.ErrCodeNotFound), decodeBody(t, rec)["code"])
}

func TestConnectAccountFlow(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/accounts", createAccountRequest{ID: "acct-1", Label: "x"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts/acct-1/connect", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/acct-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(models.AccountStatusAwaitingScan), decodeBody(t, rec)["status"])

	// QR payload shows up on the poll once the gateway issues one.
	f.factory.Adapter("acct-1").EmitQR("qr-1")
	require.Eventually(t, func() bool {
		rec := f.do(t, http.MethodGet, "/api/v1/accounts/acct-1", nil)
		return decodeBody(t, rec)["qrPayload"] == "qr-1"
	}, 2*time.Second, 10*time.Millisecond)

	// Connecting again while the handshake is live conflicts.
	rec = f.do(t, http.MethodPost, "/api/v1/accounts/acct-1/connect", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSuspendAccount(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/accounts", createAccountRequest{ID: "acct-1", Label: "x"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts/acct-1/suspend", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/acct-1", nil)
	assert.Equal(t, string(models.AccountStatusSuspended), decodeBody(t, rec)["status"])
}

func TestEnqueueAndGetMessage(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages", models.EnqueueRequest{
		Recipient: "+15551234567",
		Payload:   "hello there",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	id, ok := body["id"].(string)
	require.True(t, ok)
	assert.Equal(t, string(models.MessageStatusPending), body["status"])

	rec = f.do(t, http.MethodGet, "/api/v1/messages/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	msg := decodeBody(t, rec)
	assert.Equal(t, "+15551234567", msg["Recipient"])
}

func TestEnqueueMessageValidation(t *testing.T) {
	f := newServerFixture(t)

	tests := []struct {
		name string
		req  models.EnqueueRequest
	}{
		{name: "empty recipient", req: models.EnqueueRequest{Payload: "hi"}},
		{name: "non numeric recipient", req: models.EnqueueRequest{Recipient: "not-a-number", Payload: "hi"}},
		{name: "empty payload", req: models.EnqueueRequest{Recipient: "+15551234567"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/messages", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetMessageNotFound(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/messages/no-such", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMessagesWithFilter(t *testing.T) {
	f := newServerFixture(t)

	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/messages", models.EnqueueRequest{
			Recipient: "+15551234567",
			Payload:   "hello",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/messages?status=pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["messages"], 3)

	rec = f.do(t, http.MethodGet, "/api/v1/messages?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["messages"], 2)

	rec = f.do(t, http.MethodGet, "/api/v1/messages?status=failed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody(t, rec)["messages"])

	rec = f.do(t, http.MethodGet, "/api/v1/messages?limit=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryMessageRequiresRetryableState(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages", models.EnqueueRequest{
		Recipient: "+15551234567",
		Payload:   "hello",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decodeBody(t, rec)["id"].(string)

	// Pending is not an operator-retryable state.
	rec = f.do(t, http.MethodPost, "/api/v1/messages/"+id+"/retry", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(errors.ErrCodeInvalidState), decodeBody(t, rec)["code"])
}

func TestRetryMessageRejectsBadID(t *testing.T) {
	f := newServerFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/messages/bad%20id%21/retry", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRequestBodySizeLimit(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", bytes.NewReader(make([]byte, maxRequestBodyBytes+1)))
	rec := httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	t.Setenv("SENDFLEET_API_KEY", "operator-key")

	f := newServerFixture(t)

	// Health is outside the guarded API prefix.
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec = httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/accounts", nil)
	req.Header.Set("X-API-Key", "operator-key")
	rec = httptest.NewRecorder()
	f.server.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIKeyAuthProductionRequiresKey(t *testing.T) {
	t.Setenv("SENDFLEET_ENV", "production")
	t.Setenv("SENDFLEET_API_KEY", "")

	f := newServerFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/accounts", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
