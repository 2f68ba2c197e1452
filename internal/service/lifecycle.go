package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sendfleet/internal/constants"
	"sendfleet/internal/errors"
	"sendfleet/internal/models"
	"sendfleet/pkg/transport/types"

	"github.com/sirupsen/logrus"
)

// LifecycleStore is the storage capability the lifecycle manager needs.
type LifecycleStore interface {
	CreateAccount(ctx context.Context, acct *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	TransitionAccountStatus(ctx context.Context, id string, from, to models.AccountStatus, reason string) (bool, error)
	SetAccountIdentity(ctx context.Context, id, phoneNumber, displayName string, connectedAt time.Time) error
	SetAccountDisconnected(ctx context.Context, id string, status models.AccountStatus, reason string, at time.Time) error
	SaveSessionBlob(ctx context.Context, id string, blob []byte) error
	RecoverTransitionalAccounts(ctx context.Context, reason string) (int64, error)
	RequeueOrphanedClaims(ctx context.Context, olderThan time.Duration) (int64, error)
	AcquireAccountLock(ctx context.Context, accountID, holderID string, staleness time.Duration) (bool, error)
	RenewAccountLock(ctx context.Context, accountID, holderID string) (bool, error)
	ReleaseAccountLock(ctx context.Context, accountID, holderID string) error
	SweepStaleLocks(ctx context.Context, staleness time.Duration) (int64, error)
}

// EventSink receives per-message transport events from account runners.
// Connection-level events are handled by the lifecycle manager itself.
type EventSink interface {
	HandleMessageAck(ctx context.Context, accountID string, evt types.Event)
	HandleDeliveryReceipt(ctx context.Context, accountID string, evt types.Event)
	RecordDisconnect(ctx context.Context, accountID string)
}

// PoolListener is notified as accounts enter and leave the connected pool
// the dispatcher draws from.
type PoolListener interface {
	AccountActivated(accountID string)
	AccountDeactivated(accountID string)
}

// LifecycleOptions tunes the account state machine.
type LifecycleOptions struct {
	HolderID          string
	QRExpiry          time.Duration
	QRMaxIssuances    int
	LockStaleness     time.Duration
	LockRenew         time.Duration
	DefaultDailyLimit int
}

func (o *LifecycleOptions) applyDefaults() {
	if o.DefaultDailyLimit <= 0 {
		o.DefaultDailyLimit = constants.DefaultDailyLimit
	}
	if o.QRExpiry <= 0 {
		o.QRExpiry = time.Duration(constants.DefaultQRExpirySec) * time.Second
	}
	if o.QRMaxIssuances <= 0 {
		o.QRMaxIssuances = constants.DefaultQRMaxIssuances
	}
	if o.LockStaleness <= 0 {
		o.LockStaleness = time.Duration(constants.DefaultLockStalenessSec) * time.Second
	}
	if o.LockRenew <= 0 {
		o.LockRenew = time.Duration(constants.DefaultLockRenewSec) * time.Second
	}
}

// AccountManager owns the per-account state machine: provisioning, the QR
// handshake, promotion to active, demotion on disconnect, and recovery of
// sessions left mid-handshake by a prior process.
type AccountManager struct {
	store   LifecycleStore
	factory types.Factory
	sink    EventSink
	pool    PoolListener
	logger  *logrus.Logger
	opts    LifecycleOptions
	clock   func() time.Time

	mu      sync.Mutex
	runners map[string]*accountRunner
}

func NewAccountManager(store LifecycleStore, factory types.Factory, sink EventSink, pool PoolListener, opts LifecycleOptions, logger *logrus.Logger) *AccountManager {
	opts.applyDefaults()
	return &AccountManager{
		store:   store,
		factory: factory,
		sink:    sink,
		pool:    pool,
		logger:  logger,
		opts:    opts,
		clock:   time.Now,
		runners: make(map[string]*accountRunner),
	}
}

// StartupRecovery clears orphaned lock artifacts and demotes accounts
// stuck mid-handshake to disconnected. A connecting or awaiting_scan
// account with no live adapter cannot be trusted to resume silently; the
// sweep is idempotent across repeated restarts.
func (m *AccountManager) StartupRecovery(ctx context.Context) error {
	swept, err := m.store.SweepStaleLocks(ctx, m.opts.LockStaleness)
	if err != nil {
		return fmt.Errorf("failed to sweep stale locks: %w", err)
	}

	demoted, err := m.store.RecoverTransitionalAccounts(ctx, "process restart during handshake")
	if err != nil {
		return fmt.Errorf("failed to recover transitional accounts: %w", err)
	}

	// No dispatch workers exist yet, so every claimed-but-unsent message
	// belongs to a dead worker and must return to pending.
	requeued, err := m.store.RequeueOrphanedClaims(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to requeue orphaned claims: %w", err)
	}

	if swept > 0 || demoted > 0 || requeued > 0 {
		m.logger.WithFields(logrus.Fields{
			"stale_locks_cleared": swept,
			"accounts_demoted":    demoted,
			"messages_requeued":   requeued,
		}).Info("Startup recovery completed")
	}
	return nil
}

// CreateAccount provisions a new connection slot. Accounts are created by
// operator action only and destroyed only by explicit deletion.
func (m *AccountManager) CreateAccount(ctx context.Context, id, label string, dailyLimit int) (*models.Account, error) {
	if dailyLimit <= 0 {
		dailyLimit = m.opts.DefaultDailyLimit
	}

	acct := &models.Account{
		ID:          id,
		Label:       label,
		Status:      models.AccountStatusProvisioning,
		DailyLimit:  dailyLimit,
		HealthScore: 100,
	}
	if err := m.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		LogFieldAccountID: id,
		"label":           label,
		"daily_limit":     dailyLimit,
	}).Info("Account provisioned")
	return acct, nil
}

// Connect binds a transport adapter to the account and starts the
// handshake. Valid from provisioning, disconnected, and suspended (the
// latter is the explicit operator reactivation path). Retained session
// material skips the QR scan: the account goes straight to connecting.
func (m *AccountManager) Connect(ctx context.Context, accountID string) error {
	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return errors.New(errors.ErrCodeNotFound, "account not found").WithContext("account_id", accountID)
	}

	switch acct.Status {
	case models.AccountStatusProvisioning, models.AccountStatusDisconnected, models.AccountStatusSuspended:
	default:
		return errors.New(errors.ErrCodeInvalidState,
			fmt.Sprintf("cannot connect account in state %s", acct.Status))
	}

	m.mu.Lock()
	if _, exists := m.runners[accountID]; exists {
		m.mu.Unlock()
		return errors.New(errors.ErrCodeInvalidState, "account already has a live adapter")
	}
	m.mu.Unlock()

	acquired, err := m.store.AcquireAccountLock(ctx, accountID, m.opts.HolderID, m.opts.LockStaleness)
	if err != nil {
		return err
	}
	if !acquired {
		return errors.New(errors.ErrCodeLockHeld, "account is locked by another process").
			WithContext("account_id", accountID)
	}

	adapter := m.factory.NewAdapter(accountID)
	events, err := adapter.Initialize(ctx, acct.SessionBlob)
	if err != nil {
		if relErr := m.store.ReleaseAccountLock(ctx, accountID, m.opts.HolderID); relErr != nil {
			m.logger.WithError(relErr).WithField(LogFieldAccountID, accountID).Warn("Failed to release lock after init failure")
		}
		return errors.Wrap(err, errors.ErrCodeTransportAuth, "transport initialization failed")
	}

	target := models.AccountStatusAwaitingScan
	if acct.HasSession() {
		target = models.AccountStatusConnecting
	}
	if ok, err := m.store.TransitionAccountStatus(ctx, accountID, acct.Status, target, ""); err != nil || !ok {
		_ = adapter.Close()
		if relErr := m.store.ReleaseAccountLock(ctx, accountID, m.opts.HolderID); relErr != nil {
			m.logger.WithError(relErr).WithField(LogFieldAccountID, accountID).Warn("Failed to release lock after transition failure")
		}
		if err != nil {
			return err
		}
		return errors.New(errors.ErrCodeInvalidState, "account state changed during connect")
	}

	runner := newAccountRunner(m, accountID, adapter, events)

	m.mu.Lock()
	m.runners[accountID] = runner
	m.mu.Unlock()

	go runner.run()

	m.logger.WithFields(logrus.Fields{
		LogFieldAccountID:  accountID,
		LogFieldFromStatus: acct.Status,
		LogFieldToStatus:   target,
		"resumed_session":  acct.HasSession(),
	}).Info("Connect requested")
	return nil
}

// Suspend removes the account from the dispatch pool until an operator
// reactivates it via Connect. Any live adapter is torn down gracefully.
func (m *AccountManager) Suspend(ctx context.Context, accountID string) error {
	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		return errors.New(errors.ErrCodeNotFound, "account not found").WithContext("account_id", accountID)
	}
	if acct.Status == models.AccountStatusSuspended {
		return nil
	}

	m.stopRunner(accountID, true)

	if err := m.store.SetAccountDisconnected(ctx, accountID, models.AccountStatusSuspended, "operator suspend", m.clock()); err != nil {
		return err
	}

	m.pool.AccountDeactivated(accountID)
	m.logger.WithFields(logrus.Fields{
		LogFieldAccountID:  accountID,
		LogFieldFromStatus: acct.Status,
		LogFieldToStatus:   models.AccountStatusSuspended,
	}).Warn("Account suspended by operator")
	return nil
}

// AccountStatus builds the poll-contract view for one account. Reads are
// cheap and side-effect free; QR expiry countdown comes from the fixed
// issuance deadline, so it is monotonically non-increasing between
// issuances.
func (m *AccountManager) AccountStatus(ctx context.Context, accountID string) (*models.AccountStatusView, error) {
	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acct == nil {
		return nil, errors.New(errors.ErrCodeNotFound, "account not found").WithContext("account_id", accountID)
	}

	view := &models.AccountStatusView{
		ID:               acct.ID,
		Label:            acct.Label,
		Status:           acct.Status,
		Connected:        acct.Status == models.AccountStatusActive,
		PhoneNumber:      acct.PhoneNumber,
		DisplayName:      acct.DisplayName,
		HealthScore:      acct.HealthScore,
		DailySentCount:   acct.DailySentCount,
		DailyLimit:       acct.DailyLimit,
		DisconnectReason: acct.DisconnectReason,
	}

	if acct.Status == models.AccountStatusAwaitingScan {
		m.mu.Lock()
		runner := m.runners[accountID]
		m.mu.Unlock()
		if runner != nil {
			payload, expiresAt := runner.currentQR()
			if payload != "" {
				remaining := int(expiresAt.Sub(m.clock()).Seconds())
				if remaining < 0 {
					remaining = 0
				}
				view.QRPayload = payload
				view.QRExpiresInSec = remaining
			}
		}
	}

	return view, nil
}

// ListAccounts returns all accounts.
func (m *AccountManager) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return m.store.ListAccounts(ctx)
}

// Sender returns the live adapter bound to an account. The dispatcher
// resolves adapters through this on every cycle so a torn-down account
// never receives a send.
func (m *AccountManager) Sender(accountID string) (types.Adapter, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	runner, ok := m.runners[accountID]
	if !ok {
		return nil, false
	}
	return runner.adapter, true
}

// Shutdown tears down all live adapters, persisting session material and
// releasing exclusivity locks.
func (m *AccountManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runners))
	for id := range m.runners {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.stopRunner(id, true)
	}
	m.logger.WithField(LogFieldCount, len(ids)).Info("Lifecycle manager shut down")
}

// stopRunner stops a live runner if present. With persist set, session
// material is exported before the adapter closes.
func (m *AccountManager) stopRunner(accountID string, persist bool) {
	m.mu.Lock()
	runner := m.runners[accountID]
	delete(m.runners, accountID)
	m.mu.Unlock()

	if runner != nil {
		runner.stop(persist)
	}
}

// removeRunner detaches a runner that exited on its own.
func (m *AccountManager) removeRunner(accountID string, r *accountRunner) {
	m.mu.Lock()
	if m.runners[accountID] == r {
		delete(m.runners, accountID)
	}
	m.mu.Unlock()
}
