package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sendfleet/internal/constants"
	"sendfleet/internal/errors"
	"sendfleet/internal/metrics"
	"sendfleet/internal/models"
	"sendfleet/pkg/circuitbreaker"
	"sendfleet/pkg/transport/types"

	"github.com/sirupsen/logrus"
)

// DispatchStore is the storage capability the dispatch queue needs. The
// claim operation is the compare-and-swap that guarantees at-most-one
// assignment per message.
type DispatchStore interface {
	EnqueueMessage(ctx context.Context, msg *models.OutboundMessage) error
	GetMessage(ctx context.Context, id string) (*models.OutboundMessage, error)
	ListMessages(ctx context.Context, filter models.MessageFilter) ([]*models.OutboundMessage, error)
	ClaimPendingMessage(ctx context.Context, accountID string) (*models.OutboundMessage, error)
	MarkSending(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id, externalID string, at time.Time) (bool, error)
	MarkFailed(ctx context.Context, id, lastError string, retryable bool) (bool, error)
	RequeueMessage(ctx context.Context, id, lastError string) (bool, error)
	RecordSendError(ctx context.Context, id, lastError string) error
	OperatorRetry(ctx context.Context, id string) (bool, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

// SenderRegistry resolves the live adapter bound to an account, if any.
type SenderRegistry interface {
	Sender(accountID string) (types.Adapter, bool)
}

// OutcomeRecorder feeds send results into the health score projection.
type OutcomeRecorder interface {
	RecordSendResult(ctx context.Context, accountID string, success bool)
}

// DispatchOptions tunes the dispatch queue.
type DispatchOptions struct {
	MaxAttempts     int
	PollInterval    time.Duration
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

func (o *DispatchOptions) applyDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = constants.DefaultDispatchAttempts
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Duration(constants.DefaultDispatchPollMs) * time.Millisecond
	}
	if o.BreakerFailures == 0 {
		o.BreakerFailures = constants.DefaultBreakerFailures
	}
	if o.BreakerOpen <= 0 {
		o.BreakerOpen = time.Duration(constants.DefaultBreakerOpenSec) * time.Second
	}
}

// Dispatcher matches pending outbound messages to eligible connected
// accounts and drives send attempts. One worker per active account: each
// worker claims atomically, sends serially, then polls again, so no
// message is ever assigned to two accounts and no account carries more
// than one in-flight send.
type Dispatcher struct {
	store      DispatchStore
	limiter    *RateLimiter
	senders    SenderRegistry
	outcomes   OutcomeRecorder
	classifier *errors.Classifier
	logger     *logrus.Logger
	opts       DispatchOptions
	clock      func() time.Time

	mu      sync.Mutex
	workers map[string]*accountWorker
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewDispatcher(store DispatchStore, limiter *RateLimiter, senders SenderRegistry, outcomes OutcomeRecorder, classifier *errors.Classifier, opts DispatchOptions, logger *logrus.Logger) *Dispatcher {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:      store,
		limiter:    limiter,
		senders:    senders,
		outcomes:   outcomes,
		classifier: classifier,
		logger:     logger,
		opts:       opts,
		clock:      time.Now,
		workers:    make(map[string]*accountWorker),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Enqueue accepts one unit of send work. Fire-and-track: the call never
// waits on dispatch, and failures surface via polled message status.
func (d *Dispatcher) Enqueue(ctx context.Context, msg *models.OutboundMessage) error {
	msg.Status = models.MessageStatusPending
	if msg.ChannelType == "" {
		msg.ChannelType = models.ChannelTypeText
	}

	if err := d.store.EnqueueMessage(ctx, msg); err != nil {
		return err
	}

	metrics.IncrementCounter("messages_enqueued", map[string]string{"channel": string(msg.ChannelType)}, "Outbound messages accepted")
	d.logger.WithFields(logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldRecipient: maskForLog(msg.Recipient),
	}).Info("Message enqueued")
	return nil
}

// RetryMessage is the operator-initiated retry of a terminally failed or
// stuck-unconfirmed message: attempt count resets and the message returns
// to pending. Always logged as a manual intervention, distinct from the
// queue's automatic retry.
func (d *Dispatcher) RetryMessage(ctx context.Context, id string) error {
	moved, err := d.store.OperatorRetry(ctx, id)
	if err != nil {
		return err
	}
	if !moved {
		return errors.New(errors.ErrCodeInvalidState, "message is not retryable in its current state").
			WithContext("message_id", id)
	}

	metrics.IncrementCounter("messages_operator_retried", nil, "Manual operator retries")
	d.logger.WithField(LogFieldMessageID, id).Warn("Operator retry: message returned to pending with reset attempts")
	return nil
}

// AccountActivated starts the dispatch worker for an account that joined
// the connected pool.
func (d *Dispatcher) AccountActivated(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.workers[accountID]; exists {
		return
	}

	w := &accountWorker{
		dispatcher: d,
		accountID:  accountID,
		breaker: circuitbreaker.NewWithLogger(
			fmt.Sprintf("transport-%s", accountID),
			d.opts.BreakerFailures, d.opts.BreakerOpen, d.logger),
		logger: d.logger.WithField(LogFieldAccountID, accountID),
		stopCh: make(chan struct{}),
	}
	d.workers[accountID] = w

	// Registered before the goroutine starts so a stop that races the
	// start still waits for the worker to exit.
	w.doneWG.Add(1)
	go w.run(d.ctx)
	d.logger.WithField(LogFieldAccountID, accountID).Info("Dispatch worker started")
}

// AccountDeactivated stops the worker for an account that left the pool.
// The in-flight send, if any, finishes first; its claimed message is
// requeued by the failure path if the adapter went away mid-send.
func (d *Dispatcher) AccountDeactivated(accountID string) {
	d.mu.Lock()
	w := d.workers[accountID]
	delete(d.workers, accountID)
	d.mu.Unlock()

	if w != nil {
		w.stop()
		d.logger.WithField(LogFieldAccountID, accountID).Info("Dispatch worker stopped")
	}
}

// Stop halts all workers.
func (d *Dispatcher) Stop() {
	d.cancel()

	d.mu.Lock()
	workers := make([]*accountWorker, 0, len(d.workers))
	for _, w := range d.workers {
		workers = append(workers, w)
	}
	d.workers = make(map[string]*accountWorker)
	d.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
}

// accountWorker serializes sends for one account.
type accountWorker struct {
	dispatcher *Dispatcher
	accountID  string
	breaker    *circuitbreaker.CircuitBreaker
	logger     *logrus.Entry

	stopOnce sync.Once
	stopCh   chan struct{}
	doneWG   sync.WaitGroup
}

func (w *accountWorker) run(ctx context.Context) {
	defer w.doneWG.Done()

	for {
		interval := w.pollInterval(ctx)
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-time.After(interval):
			w.dispatchOne(ctx)
		}
	}
}

// pollInterval biases assignment toward healthy accounts: the healthier
// the account, the more often its worker polls for claimable work, with
// usage as the secondary factor so load spreads across accounts.
func (w *accountWorker) pollInterval(ctx context.Context) time.Duration {
	base := w.dispatcher.opts.PollInterval

	acct, err := w.dispatcher.store.GetAccount(ctx, w.accountID)
	if err != nil || acct == nil {
		return base
	}

	factor := 1.0 + float64(100-acct.HealthScore)/100.0
	if acct.DailyLimit > 0 {
		factor += float64(acct.DailySentCount) / float64(acct.DailyLimit)
	}
	return time.Duration(float64(base) * factor)
}

// dispatchOne performs one claim-send cycle.
func (w *accountWorker) dispatchOne(ctx context.Context) {
	d := w.dispatcher

	adapter, ok := d.senders.Sender(w.accountID)
	if !ok {
		return
	}

	// Rate check precedes the claim so an exhausted account never takes
	// a message away from an eligible one. The reservation is released
	// on every path that does not end in a success ack.
	reservation, err := d.limiter.TryReserve(ctx, w.accountID)
	if err != nil {
		w.logger.WithError(err).Error("Rate reservation failed")
		return
	}
	if !reservation.Allowed {
		return
	}

	msg, err := d.store.ClaimPendingMessage(ctx, w.accountID)
	if err != nil {
		w.releaseSlot(ctx)
		w.logger.WithError(err).Error("Claim failed")
		return
	}
	if msg == nil {
		w.releaseSlot(ctx)
		return
	}

	if moved, err := d.store.MarkSending(ctx, msg.ID); err != nil || !moved {
		w.releaseSlot(ctx)
		if err != nil {
			w.logger.WithError(err).WithField(LogFieldMessageID, msg.ID).Error("Failed to mark sending")
		}
		return
	}
	msg.AttemptCount++

	w.send(ctx, adapter, msg)
}

func (w *accountWorker) send(ctx context.Context, adapter types.Adapter, msg *models.OutboundMessage) {
	d := w.dispatcher
	start := d.clock()

	var ack *types.SendAck
	err := w.breaker.Execute(ctx, func(ctx context.Context) error {
		var sendErr error
		ack, sendErr = adapter.Send(ctx, types.SendRequest{
			Recipient:      msg.Recipient,
			Payload:        msg.Payload,
			ChannelType:    string(msg.ChannelType),
			IdempotencyKey: msg.ID,
		})
		return sendErr
	})

	metrics.RecordTimer("dispatch_send", d.clock().Sub(start), map[string]string{"account": w.accountID}, "Send round-trip latency")

	if err == nil {
		if _, markErr := d.store.MarkSent(ctx, msg.ID, ack.ExternalID, d.clock()); markErr != nil {
			w.logger.WithError(markErr).WithField(LogFieldMessageID, msg.ID).Error("Failed to mark sent")
		}
		d.outcomes.RecordSendResult(ctx, w.accountID, true)
		metrics.IncrementCounter("messages_sent", nil, "Successful sends")
		w.logger.WithFields(logrus.Fields{
			LogFieldMessageID:  msg.ID,
			LogFieldExternalID: ack.ExternalID,
			LogFieldAttempt:    msg.AttemptCount,
		}).Info("Message sent")
		return
	}

	if circuitbreaker.IsCircuitBreakerError(err) {
		// Breaker open: no network attempt happened, so the claim and
		// the rate slot both roll back cleanly.
		w.releaseSlot(ctx)
		if _, reqErr := d.store.RequeueMessage(ctx, msg.ID, "transport circuit open"); reqErr != nil {
			w.logger.WithError(reqErr).WithField(LogFieldMessageID, msg.ID).Error("Failed to requeue after open breaker")
		}
		return
	}

	w.handleSendFailure(ctx, msg, err)
}

func (w *accountWorker) handleSendFailure(ctx context.Context, msg *models.OutboundMessage, sendErr error) {
	d := w.dispatcher
	classified := d.classifier.ClassifySend(sendErr)
	d.outcomes.RecordSendResult(ctx, w.accountID, false)

	logFields := logrus.Fields{
		LogFieldMessageID: msg.ID,
		LogFieldAttempt:   msg.AttemptCount,
		LogFieldErrorCode: string(errors.GetCode(classified)),
	}

	switch {
	case errors.IsUnconfirmed(classified):
		// Timed-out send: the recipient may already have the message.
		// Keep the rate slot consumed, keep the message in sending, and
		// leave resolution to operator review instead of a blind retry.
		if recErr := d.store.RecordSendError(ctx, msg.ID, classified.Error()); recErr != nil {
			w.logger.WithError(recErr).WithField(LogFieldMessageID, msg.ID).Error("Failed to record unconfirmed send")
		}
		metrics.IncrementCounter("messages_unconfirmed", nil, "Sends with unknown outcome")
		w.logger.WithFields(logFields).Warn("Send outcome unknown, flagged for operator review")

	case errors.IsRetryable(classified) && msg.AttemptCount < d.opts.MaxAttempts:
		w.releaseSlot(ctx)
		if _, reqErr := d.store.RequeueMessage(ctx, msg.ID, classified.Error()); reqErr != nil {
			w.logger.WithError(reqErr).WithField(LogFieldMessageID, msg.ID).Error("Failed to requeue message")
		}
		metrics.IncrementCounter("messages_requeued", nil, "Transient failures returned to pending")
		w.logger.WithFields(logFields).Warn("Transient send failure, message returned to pending")

	default:
		w.releaseSlot(ctx)
		retryable := errors.IsRetryable(classified)
		if _, failErr := d.store.MarkFailed(ctx, msg.ID, classified.Error(), retryable); failErr != nil {
			w.logger.WithError(failErr).WithField(LogFieldMessageID, msg.ID).Error("Failed to mark message failed")
		}
		metrics.IncrementCounter("messages_failed", map[string]string{"retryable": fmt.Sprintf("%t", retryable)}, "Terminally failed sends")
		w.logger.WithFields(logFields).Error("Message terminally failed")
	}
}

func (w *accountWorker) releaseSlot(ctx context.Context) {
	if err := w.dispatcher.limiter.Release(ctx, w.accountID); err != nil {
		w.logger.WithError(err).Error("Failed to release rate slot")
	}
}

func (w *accountWorker) stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.doneWG.Wait()
}
