package service

import (
	"context"
	"sync"
	"time"

	"sendfleet/internal/models"
	"sendfleet/pkg/transport/types"

	"github.com/sirupsen/logrus"
)

// accountRunner consumes one adapter's ordered event stream and drives
// the account state machine. One runner per bound adapter; it exits when
// the stream ends or the manager stops it.
type accountRunner struct {
	manager   *AccountManager
	accountID string
	adapter   types.Adapter
	events    <-chan types.Event
	logger    *logrus.Entry

	mu          sync.Mutex
	qrPayload   string
	qrExpiresAt time.Time
	qrIssuances int

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newAccountRunner(m *AccountManager, accountID string, adapter types.Adapter, events <-chan types.Event) *accountRunner {
	return &accountRunner{
		manager:   m,
		accountID: accountID,
		adapter:   adapter,
		events:    events,
		logger:    m.logger.WithField(LogFieldAccountID, accountID),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *accountRunner) run() {
	defer close(r.done)

	m := r.manager
	ctx := context.Background()

	qrTimer := time.NewTimer(m.opts.QRExpiry)
	if !qrTimer.Stop() {
		<-qrTimer.C
	}
	defer qrTimer.Stop()

	renewTicker := time.NewTicker(m.opts.LockRenew)
	defer renewTicker.Stop()

	for {
		select {
		case <-r.stopCh:
			return

		case <-renewTicker.C:
			held, err := m.store.RenewAccountLock(ctx, r.accountID, m.opts.HolderID)
			if err != nil {
				r.logger.WithError(err).Error("Failed to renew account lock")
				continue
			}
			if !held {
				// Another process took the lock over; this adapter must
				// not keep a connection bound to the account.
				r.logger.Warn("Account lock lost, tearing down adapter")
				r.demote(ctx, "exclusive lock lost", false)
				return
			}

		case <-qrTimer.C:
			if r.handleQRExpiry(ctx, qrTimer) {
				return
			}

		case evt, ok := <-r.events:
			if !ok {
				// Stream closed without a disconnected event; treat the
				// same as a transport disconnect.
				r.demote(ctx, "event stream closed", true)
				return
			}
			if r.handleEvent(ctx, evt, qrTimer) {
				return
			}
		}
	}
}

// handleEvent processes one stream entry. Returns true when the runner
// must exit.
func (r *accountRunner) handleEvent(ctx context.Context, evt types.Event, qrTimer *time.Timer) bool {
	m := r.manager

	switch evt.Type {
	case types.EventQR:
		r.mu.Lock()
		r.qrIssuances++
		issuances := r.qrIssuances
		r.mu.Unlock()

		if issuances > m.opts.QRMaxIssuances {
			r.logger.WithField(LogFieldCount, issuances).Warn("QR issuance budget exhausted")
			r.demote(ctx, "qr expired without scan", false)
			return true
		}

		// Each issuance resets the expiry clock.
		r.mu.Lock()
		r.qrPayload = evt.QRPayload
		r.qrExpiresAt = m.clock().Add(m.opts.QRExpiry)
		r.mu.Unlock()

		if !qrTimer.Stop() {
			select {
			case <-qrTimer.C:
			default:
			}
		}
		qrTimer.Reset(m.opts.QRExpiry)

		r.logger.WithField(LogFieldCount, issuances).Info("QR code issued")

	case types.EventAuthenticated:
		r.clearQR(qrTimer)
		if ok, err := m.store.TransitionAccountStatus(ctx, r.accountID,
			models.AccountStatusAwaitingScan, models.AccountStatusConnecting, ""); err != nil {
			r.logger.WithError(err).Error("Failed to record authentication")
		} else if ok {
			r.logger.Info("Scan acknowledged, completing handshake")
		}

	case types.EventReady:
		r.clearQR(qrTimer)
		r.promote(ctx, evt)

	case types.EventMessageAck:
		m.sink.HandleMessageAck(ctx, r.accountID, evt)

	case types.EventDeliveryReceipt:
		m.sink.HandleDeliveryReceipt(ctx, r.accountID, evt)

	case types.EventDisconnected:
		r.logger.WithField(LogFieldReason, evt.Reason).Warn("Transport disconnected")
		reason := evt.Reason
		if reason == "" {
			reason = "transport disconnect"
		}
		r.demote(ctx, reason, true)
		return true

	default:
		r.logger.WithField(LogFieldEvent, string(evt.Type)).Debug("Ignoring unknown transport event")
	}

	return false
}

// handleQRExpiry runs when the expiry clock fires before a scan. A silent
// expiry window consumes an issuance slot, so a gateway that stops
// reissuing codes still drains the budget and the account lands in
// disconnected instead of hanging in awaiting_scan. Returns true when the
// runner must exit.
func (r *accountRunner) handleQRExpiry(ctx context.Context, qrTimer *time.Timer) bool {
	r.mu.Lock()
	r.qrPayload = ""
	r.qrIssuances++
	issuances := r.qrIssuances
	r.mu.Unlock()

	if issuances >= r.manager.opts.QRMaxIssuances {
		r.logger.WithField(LogFieldCount, issuances).Warn("QR expired with retry budget exhausted")
		r.demote(ctx, "qr expired without scan", false)
		return true
	}

	// The timer already fired, so a direct Reset is safe.
	qrTimer.Reset(r.manager.opts.QRExpiry)
	r.logger.WithField(LogFieldCount, issuances).Info("QR expired, awaiting fresh issuance")
	return false
}

// promote moves the account to active, capturing the identity reported by
// the ready event and persisting session material for later resume.
func (r *accountRunner) promote(ctx context.Context, evt types.Event) {
	m := r.manager

	moved, err := m.store.TransitionAccountStatus(ctx, r.accountID,
		models.AccountStatusConnecting, models.AccountStatusActive, "")
	if err != nil {
		r.logger.WithError(err).Error("Failed to activate account")
		return
	}
	if !moved {
		// Ready without a preceding authenticated event: the gateway
		// resumed a stored session while we showed awaiting_scan.
		moved, err = m.store.TransitionAccountStatus(ctx, r.accountID,
			models.AccountStatusAwaitingScan, models.AccountStatusActive, "")
		if err != nil || !moved {
			r.logger.WithError(err).Warn("Ready event in unexpected state")
			return
		}
	}

	if err := m.store.SetAccountIdentity(ctx, r.accountID, evt.PhoneNumber, evt.DisplayName, m.clock()); err != nil {
		r.logger.WithError(err).Error("Failed to record account identity")
	}

	r.persistSession(ctx)

	m.pool.AccountActivated(r.accountID)
	r.logger.WithFields(logrus.Fields{
		LogFieldToStatus: models.AccountStatusActive,
		"phone_number":   maskForLog(evt.PhoneNumber),
	}).Info("Account active")
}

// demote moves the account to disconnected, optionally persisting session
// material, then releases the lock and tears the adapter down.
func (r *accountRunner) demote(ctx context.Context, reason string, persist bool) {
	m := r.manager

	if persist {
		r.persistSession(ctx)
	}

	if err := m.store.SetAccountDisconnected(ctx, r.accountID, models.AccountStatusDisconnected, reason, m.clock()); err != nil {
		r.logger.WithError(err).Error("Failed to record disconnect")
	}

	m.sink.RecordDisconnect(ctx, r.accountID)
	m.pool.AccountDeactivated(r.accountID)

	if err := m.store.ReleaseAccountLock(ctx, r.accountID, m.opts.HolderID); err != nil {
		r.logger.WithError(err).Warn("Failed to release account lock")
	}
	if err := r.adapter.Close(); err != nil {
		r.logger.WithError(err).Debug("Adapter close reported error")
	}

	m.removeRunner(r.accountID, r)
	r.logger.WithField(LogFieldReason, reason).Warn("Account demoted to disconnected")
}

func (r *accountRunner) persistSession(ctx context.Context) {
	blob, err := r.adapter.PersistSession(ctx)
	if err != nil {
		r.logger.WithError(err).Warn("Failed to export session material")
		return
	}
	if len(blob) == 0 {
		return
	}
	if err := r.manager.store.SaveSessionBlob(ctx, r.accountID, blob); err != nil {
		r.logger.WithError(err).Error("Failed to persist session material")
	}
}

func (r *accountRunner) clearQR(qrTimer *time.Timer) {
	r.mu.Lock()
	r.qrPayload = ""
	r.qrIssuances = 0
	r.mu.Unlock()

	if !qrTimer.Stop() {
		select {
		case <-qrTimer.C:
		default:
		}
	}
}

func (r *accountRunner) currentQR() (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.qrPayload, r.qrExpiresAt
}

// stop ends the runner from the manager side, releasing the lock and
// optionally persisting session material first.
func (r *accountRunner) stop(persist bool) {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done

	ctx := context.Background()
	if persist {
		r.persistSession(ctx)
	}
	if err := r.manager.store.ReleaseAccountLock(ctx, r.accountID, r.manager.opts.HolderID); err != nil {
		r.logger.WithError(err).Warn("Failed to release account lock on stop")
	}
	if err := r.adapter.Close(); err != nil {
		r.logger.WithError(err).Debug("Adapter close reported error")
	}
}
