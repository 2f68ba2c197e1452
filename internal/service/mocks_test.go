package service

import (
	"context"
	"io"
	"sync"
	"time"

	"sendfleet/internal/models"
	"sendfleet/pkg/transport/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type mockDispatchStore struct {
	mock.Mock
}

func (m *mockDispatchStore) EnqueueMessage(ctx context.Context, msg *models.OutboundMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockDispatchStore) GetMessage(ctx context.Context, id string) (*models.OutboundMessage, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OutboundMessage), args.Error(1)
}

func (m *mockDispatchStore) ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.OutboundMessage, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.OutboundMessage), args.Error(1)
}

func (m *mockDispatchStore) ClaimPendingMessage(ctx context.Context, accountID string) (*models.OutboundMessage, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OutboundMessage), args.Error(1)
}

func (m *mockDispatchStore) MarkSending(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockDispatchStore) MarkSent(ctx context.Context, id, externalID string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, externalID, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockDispatchStore) MarkFailed(ctx context.Context, id, lastError string, retryable bool) (bool, error) {
	args := m.Called(ctx, id, lastError, retryable)
	return args.Bool(0), args.Error(1)
}

func (m *mockDispatchStore) RequeueMessage(ctx context.Context, id, lastError string) (bool, error) {
	args := m.Called(ctx, id, lastError)
	return args.Bool(0), args.Error(1)
}

func (m *mockDispatchStore) RecordSendError(ctx context.Context, id, lastError string) error {
	args := m.Called(ctx, id, lastError)
	return args.Error(0)
}

func (m *mockDispatchStore) OperatorRetry(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockDispatchStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Account), args.Error(1)
}

type mockRateLimitStore struct {
	mock.Mock
}

func (m *mockRateLimitStore) ReserveDailySlot(ctx context.Context, accountID string, now time.Time) (bool, int, error) {
	args := m.Called(ctx, accountID, now)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *mockRateLimitStore) ReleaseDailySlot(ctx context.Context, accountID string) error {
	args := m.Called(ctx, accountID)
	return args.Error(0)
}

func (m *mockRateLimitStore) ResetUsageWindow(ctx context.Context, accountID string, now time.Time) (bool, error) {
	args := m.Called(ctx, accountID, now)
	return args.Bool(0), args.Error(1)
}

type mockProjectionStore struct {
	mock.Mock
}

func (m *mockProjectionStore) GetMessageByExternalID(ctx context.Context, externalID string) (*models.OutboundMessage, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OutboundMessage), args.Error(1)
}

func (m *mockProjectionStore) MarkSent(ctx context.Context, id, externalID string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, externalID, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockProjectionStore) AdvanceDelivery(ctx context.Context, externalID string, status models.MessageStatus, at time.Time) (bool, error) {
	args := m.Called(ctx, externalID, status, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockProjectionStore) UpdateHealthScore(ctx context.Context, id string, score int) error {
	args := m.Called(ctx, id, score)
	return args.Error(0)
}

type mockMaintenanceStore struct {
	mock.Mock
}

func (m *mockMaintenanceStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Account), args.Error(1)
}

func (m *mockMaintenanceStore) SweepStaleLocks(ctx context.Context, staleness time.Duration) (int64, error) {
	args := m.Called(ctx, staleness)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockMaintenanceStore) RequeueOrphanedClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

type mockStaleSendStore struct {
	mock.Mock
}

func (m *mockStaleSendStore) CountStaleSending(ctx context.Context, threshold time.Duration) (int, error) {
	args := m.Called(ctx, threshold)
	return args.Int(0), args.Error(1)
}

// fakeSink records per-message events and disconnects without asserting
// call order, which matters because runners deliver them asynchronously.
type fakeSink struct {
	mu          sync.Mutex
	acks        []types.Event
	receipts    []types.Event
	disconnects []string
}

func (s *fakeSink) HandleMessageAck(ctx context.Context, accountID string, evt types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, evt)
}

func (s *fakeSink) HandleDeliveryReceipt(ctx context.Context, accountID string, evt types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, evt)
}

func (s *fakeSink) RecordDisconnect(ctx context.Context, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnects = append(s.disconnects, accountID)
}

func (s *fakeSink) disconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.disconnects)
}

func (s *fakeSink) receiptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}

// fakePool records pool membership changes.
type fakePool struct {
	mu          sync.Mutex
	activated   []string
	deactivated []string
}

func (p *fakePool) AccountActivated(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activated = append(p.activated, accountID)
}

func (p *fakePool) AccountDeactivated(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deactivated = append(p.deactivated, accountID)
}

func (p *fakePool) activatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.activated)
}

func (p *fakePool) deactivatedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deactivated)
}

// fakeOutcomes records dispatch outcomes fed to the health projection.
type fakeOutcomes struct {
	mu      sync.Mutex
	results []bool
}

func (o *fakeOutcomes) RecordSendResult(ctx context.Context, accountID string, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, success)
}

func (o *fakeOutcomes) recorded() []bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]bool, len(o.results))
	copy(out, o.results)
	return out
}

// fakeSenderRegistry resolves adapters from a fixed map.
type fakeSenderRegistry struct {
	mu       sync.Mutex
	adapters map[string]types.Adapter
}

func newFakeSenderRegistry() *fakeSenderRegistry {
	return &fakeSenderRegistry{adapters: make(map[string]types.Adapter)}
}

func (r *fakeSenderRegistry) bind(accountID string, adapter types.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[accountID] = adapter
}

func (r *fakeSenderRegistry) Sender(accountID string) (types.Adapter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.adapters[accountID]
	return a, ok
}

// fakeLifecycleStore is an in-memory LifecycleStore. Runners mutate it
// from their own goroutines, so every method takes the lock.
type fakeLifecycleStore struct {
	mu            sync.Mutex
	accounts      map[string]*models.Account
	locks         map[string]string
	orphanSweeps  int
	orphanedCount int64
}

func newFakeLifecycleStore() *fakeLifecycleStore {
	return &fakeLifecycleStore{
		accounts: make(map[string]*models.Account),
		locks:    make(map[string]string),
	}
}

func (s *fakeLifecycleStore) CreateAccount(ctx context.Context, acct *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.ID] = &cp
	return nil
}

func (s *fakeLifecycleStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (s *fakeLifecycleStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		cp := *acct
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeLifecycleStore) TransitionAccountStatus(ctx context.Context, id string, from, to models.AccountStatus, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok || acct.Status != from {
		return false, nil
	}
	acct.Status = to
	acct.DisconnectReason = reason
	return true, nil
}

func (s *fakeLifecycleStore) SetAccountIdentity(ctx context.Context, id, phoneNumber, displayName string, connectedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[id]; ok {
		acct.PhoneNumber = phoneNumber
		acct.DisplayName = displayName
		acct.ConnectedAt = &connectedAt
	}
	return nil
}

func (s *fakeLifecycleStore) SetAccountDisconnected(ctx context.Context, id string, status models.AccountStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[id]; ok {
		acct.Status = status
		acct.DisconnectReason = reason
		acct.DisconnectedAt = &at
	}
	return nil
}

func (s *fakeLifecycleStore) SaveSessionBlob(ctx context.Context, id string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[id]; ok {
		acct.SessionBlob = blob
	}
	return nil
}

func (s *fakeLifecycleStore) RecoverTransitionalAccounts(ctx context.Context, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var demoted int64
	for _, acct := range s.accounts {
		if acct.Status.IsTransitional() {
			acct.Status = models.AccountStatusDisconnected
			acct.DisconnectReason = reason
			demoted++
		}
	}
	return demoted, nil
}

func (s *fakeLifecycleStore) AcquireAccountLock(ctx context.Context, accountID, holderID string, staleness time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if holder, held := s.locks[accountID]; held && holder != holderID {
		return false, nil
	}
	s.locks[accountID] = holderID
	return true, nil
}

func (s *fakeLifecycleStore) RenewAccountLock(ctx context.Context, accountID, holderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[accountID] == holderID, nil
}

func (s *fakeLifecycleStore) ReleaseAccountLock(ctx context.Context, accountID, holderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[accountID] == holderID {
		delete(s.locks, accountID)
	}
	return nil
}

func (s *fakeLifecycleStore) SweepStaleLocks(ctx context.Context, staleness time.Duration) (int64, error) {
	return 0, nil
}

func (s *fakeLifecycleStore) RequeueOrphanedClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orphanSweeps++
	return s.orphanedCount, nil
}

func (s *fakeLifecycleStore) orphanSweepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orphanSweeps
}

func (s *fakeLifecycleStore) status(id string) models.AccountStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[id]; ok {
		return acct.Status
	}
	return ""
}

func (s *fakeLifecycleStore) lockHolder(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks[id]
}

func (s *fakeLifecycleStore) seedAccount(acct *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.ID] = acct
}
