package service

import (
	"context"
	"sync"
	"time"

	"sendfleet/internal/constants"
	"sendfleet/internal/metrics"
	"sendfleet/internal/models"
	"sendfleet/pkg/transport/types"

	"github.com/sirupsen/logrus"
)

// ProjectionStore is the storage surface the status projector writes
// through. AdvanceDelivery is forward-only at the SQL level, so replayed
// or out-of-order receipts are no-ops rather than regressions.
type ProjectionStore interface {
	GetMessageByExternalID(ctx context.Context, externalID string) (*models.OutboundMessage, error)
	MarkSent(ctx context.Context, id, externalID string, at time.Time) (bool, error)
	AdvanceDelivery(ctx context.Context, externalID string, status models.MessageStatus, at time.Time) (bool, error)
	UpdateHealthScore(ctx context.Context, id string, score int) error
}

// StatusProjector folds asynchronous transport events into message rows
// and maintains the per-account health score. It is the single writer for
// delivery progression, so ordering rules live in one place.
type StatusProjector struct {
	store  ProjectionStore
	logger *logrus.Logger
	clock  func() time.Time

	mu       sync.Mutex
	outcomes map[string]*outcomeWindow
}

// outcomeWindow keeps the most recent send outcomes for one account.
// Disconnects are weighted because a drop usually costs more deliveries
// than a single failed send.
type outcomeWindow struct {
	results []bool
}

func (w *outcomeWindow) record(success bool) {
	w.results = append(w.results, success)
	if len(w.results) > constants.DefaultHealthScoreWindow {
		w.results = w.results[len(w.results)-constants.DefaultHealthScoreWindow:]
	}
}

func (w *outcomeWindow) recordDisconnect() {
	for i := 0; i < constants.DefaultDisconnectPenalty; i++ {
		w.record(false)
	}
}

func (w *outcomeWindow) score() int {
	if len(w.results) == 0 {
		return constants.DefaultHealthScore
	}
	ok := 0
	for _, r := range w.results {
		if r {
			ok++
		}
	}
	return ok * 100 / len(w.results)
}

func NewStatusProjector(store ProjectionStore, logger *logrus.Logger) *StatusProjector {
	return &StatusProjector{
		store:    store,
		logger:   logger,
		clock:    time.Now,
		outcomes: make(map[string]*outcomeWindow),
	}
}

// HandleMessageAck confirms a send from the gateway's side of the stream.
// Most acks race the synchronous send response and lose, which is fine:
// MarkSent is guarded and only moves a message out of sending once.
func (p *StatusProjector) HandleMessageAck(ctx context.Context, accountID string, evt types.Event) {
	if evt.ExternalID == "" {
		return
	}

	msg, err := p.store.GetMessageByExternalID(ctx, evt.ExternalID)
	if err != nil {
		p.logger.WithError(err).WithField(LogFieldExternalID, evt.ExternalID).Error("Ack lookup failed")
		return
	}
	if msg == nil {
		p.logger.WithFields(logrus.Fields{
			LogFieldAccountID:  accountID,
			LogFieldExternalID: evt.ExternalID,
		}).Debug("Ack for unknown message, ignoring")
		return
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = p.clock()
	}
	if moved, err := p.store.MarkSent(ctx, msg.ID, evt.ExternalID, at); err != nil {
		p.logger.WithError(err).WithField(LogFieldMessageID, msg.ID).Error("Failed to apply ack")
	} else if moved {
		p.logger.WithFields(logrus.Fields{
			LogFieldMessageID:  msg.ID,
			LogFieldExternalID: evt.ExternalID,
		}).Debug("Send confirmed by stream ack")
	}
}

// HandleDeliveryReceipt advances a message to delivered or read. Receipts
// arrive keyed by the gateway's external id and may repeat or arrive out
// of order; the guarded update drops anything that would move backward.
func (p *StatusProjector) HandleDeliveryReceipt(ctx context.Context, accountID string, evt types.Event) {
	if evt.ExternalID == "" {
		return
	}

	var status models.MessageStatus
	switch evt.Receipt {
	case types.ReceiptDelivered:
		status = models.MessageStatusDelivered
	case types.ReceiptRead:
		status = models.MessageStatusRead
	default:
		p.logger.WithFields(logrus.Fields{
			LogFieldAccountID:  accountID,
			LogFieldExternalID: evt.ExternalID,
		}).Warn("Receipt with unknown progression, ignoring")
		return
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = p.clock()
	}
	moved, err := p.store.AdvanceDelivery(ctx, evt.ExternalID, status, at)
	if err != nil {
		p.logger.WithError(err).WithField(LogFieldExternalID, evt.ExternalID).Error("Failed to apply delivery receipt")
		return
	}
	if !moved {
		// Duplicate, out of order, or for an unknown external id.
		p.logger.WithFields(logrus.Fields{
			LogFieldExternalID: evt.ExternalID,
			LogFieldToStatus:   string(status),
		}).Debug("Receipt did not advance message")
		return
	}

	metrics.IncrementCounter("delivery_receipts", map[string]string{"status": string(status)}, "Applied delivery receipts")
}

// RecordSendResult feeds one dispatch outcome into the account's rolling
// health window and persists the recomputed score.
func (p *StatusProjector) RecordSendResult(ctx context.Context, accountID string, success bool) {
	p.mu.Lock()
	w := p.window(accountID)
	w.record(success)
	score := w.score()
	p.mu.Unlock()

	p.persistScore(ctx, accountID, score)
}

// RecordDisconnect applies the disconnect penalty to the health window.
func (p *StatusProjector) RecordDisconnect(ctx context.Context, accountID string) {
	p.mu.Lock()
	w := p.window(accountID)
	w.recordDisconnect()
	score := w.score()
	p.mu.Unlock()

	metrics.IncrementCounter("account_disconnects", nil, "Account disconnect events")
	p.persistScore(ctx, accountID, score)
}

// HealthScore returns the current in-memory score for an account.
func (p *StatusProjector) HealthScore(accountID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.window(accountID).score()
}

func (p *StatusProjector) window(accountID string) *outcomeWindow {
	w, ok := p.outcomes[accountID]
	if !ok {
		w = &outcomeWindow{}
		p.outcomes[accountID] = w
	}
	return w
}

func (p *StatusProjector) persistScore(ctx context.Context, accountID string, score int) {
	if err := p.store.UpdateHealthScore(ctx, accountID, score); err != nil {
		p.logger.WithError(err).WithField(LogFieldAccountID, accountID).Error("Failed to persist health score")
	}
	metrics.SetGauge("account_health_score", float64(score), map[string]string{"account": accountID}, "Rolling send health per account")
}
