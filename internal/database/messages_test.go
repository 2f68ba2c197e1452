package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"sendfleet/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessage(t *testing.T, db *Database, id string) {
	t.Helper()
	require.NoError(t, db.EnqueueMessage(context.Background(), &models.OutboundMessage{
		ID:          id,
		Recipient:   "+15551234567",
		Payload:     "hello",
		ChannelType: models.ChannelTypeText,
		Status:      models.MessageStatusPending,
	}))
}

func claimAndMarkSending(t *testing.T, db *Database, accountID string) *models.OutboundMessage {
	t.Helper()
	ctx := context.Background()

	msg, err := db.ClaimPendingMessage(ctx, accountID)
	require.NoError(t, err)
	require.NotNil(t, msg)

	moved, err := db.MarkSending(ctx, msg.ID)
	require.NoError(t, err)
	require.True(t, moved)
	return msg
}

func TestEnqueueAndGetMessage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	campaign := "spring-launch"
	require.NoError(t, db.EnqueueMessage(ctx, &models.OutboundMessage{
		ID:          "msg-1",
		CampaignID:  &campaign,
		Recipient:   "+15551234567",
		Payload:     "hello",
		ChannelType: models.ChannelTypeText,
		Status:      models.MessageStatusPending,
	}))

	msg, err := db.GetMessage(ctx, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, models.MessageStatusPending, msg.Status)
	require.NotNil(t, msg.CampaignID)
	assert.Equal(t, "spring-launch", *msg.CampaignID)
	assert.Nil(t, msg.AssignedAccountID)
	assert.Equal(t, 0, msg.AttemptCount)

	missing, err := db.GetMessage(ctx, "no-such")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestClaimPendingMessage(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	seedMessage(t, db, "msg-1")
	seedMessage(t, db, "msg-2")

	first, err := db.ClaimPendingMessage(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, models.MessageStatusQueued, first.Status)
	require.NotNil(t, first.AssignedAccountID)
	assert.Equal(t, "acct-1", *first.AssignedAccountID)

	second, err := db.ClaimPendingMessage(ctx, "acct-2")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	// Queue drained: further claims come back empty.
	third, err := db.ClaimPendingMessage(ctx, "acct-1")
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestClaimIsExclusiveUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	const claimers = 8
	var wg sync.WaitGroup
	claimed := make(chan string, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg, err := db.ClaimPendingMessage(ctx, "acct-"+string(rune('a'+n)))
			if err == nil && msg != nil {
				claimed <- msg.ID
			}
		}(i)
	}
	wg.Wait()
	close(claimed)

	var winners []string
	for id := range claimed {
		winners = append(winners, id)
	}
	assert.Len(t, winners, 1)
}

func TestMessageSendLifecycle(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")

	loaded, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSending, loaded.Status)
	assert.Equal(t, 1, loaded.AttemptCount)

	moved, err := db.MarkSent(ctx, msg.ID, "ext-1", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, moved)

	// A duplicate ack is a no-op.
	moved, err = db.MarkSent(ctx, msg.ID, "ext-1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, moved)

	loaded, err = db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, loaded.Status)
	assert.Equal(t, "ext-1", loaded.ExternalID)
	require.NotNil(t, loaded.SentAt)
}

func TestMarkSendingRequiresClaim(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	// Still pending: the sending transition is guarded on queued.
	moved, err := db.MarkSending(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestRequeueMessageReleasesClaim(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")

	moved, err := db.RequeueMessage(ctx, msg.ID, "transient transport failure")
	require.NoError(t, err)
	assert.True(t, moved)

	loaded, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, loaded.Status)
	assert.Nil(t, loaded.AssignedAccountID)
	assert.Equal(t, "transient transport failure", loaded.LastError)
	// Attempts survive the requeue so the retry budget still applies.
	assert.Equal(t, 1, loaded.AttemptCount)

	// The released message is claimable by a different account.
	reclaimed, err := db.ClaimPendingMessage(ctx, "acct-2")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, msg.ID, reclaimed.ID)
}

func TestRequeueOrphanedClaimsAfterRestart(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	// A crash between the claim and MarkSending leaves the message parked
	// in queued with no worker. Account recovery alone does not touch it.
	claimed, err := db.ClaimPendingMessage(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	_, err = db.RecoverTransitionalAccounts(ctx, "process restart during handshake")
	require.NoError(t, err)
	_, err = db.SweepStaleLocks(ctx, 0)
	require.NoError(t, err)

	blocked, err := db.ClaimPendingMessage(ctx, "acct-2")
	require.NoError(t, err)
	require.Nil(t, blocked)

	requeued, err := db.RequeueOrphanedClaims(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	loaded, err := db.GetMessage(ctx, claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, loaded.Status)
	assert.Nil(t, loaded.AssignedAccountID)
	assert.Equal(t, "claim released by recovery sweep", loaded.LastError)

	reclaimed, err := db.ClaimPendingMessage(ctx, "acct-2")
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, claimed.ID, reclaimed.ID)
}

func TestRequeueOrphanedClaimsSparesFreshAndSendingRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-queued")
	seedMessage(t, db, "msg-sending")

	queued, err := db.ClaimPendingMessage(ctx, "acct-1")
	require.NoError(t, err)
	require.NotNil(t, queued)

	sending := claimAndMarkSending(t, db, "acct-2")

	// A staleness threshold keeps the periodic sweep away from claims
	// that are in the normal claim-to-sending window right now.
	requeued, err := db.RequeueOrphanedClaims(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(0), requeued)

	loaded, err := db.GetMessage(ctx, queued.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusQueued, loaded.Status)

	// In-flight sends are never requeued by the sweep regardless of age.
	requeued, err = db.RequeueOrphanedClaims(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	loaded, err = db.GetMessage(ctx, sending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSending, loaded.Status)
}

func TestMarkFailed(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")

	moved, err := db.MarkFailed(ctx, msg.ID, "transport rejected message", false)
	require.NoError(t, err)
	assert.True(t, moved)

	loaded, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, loaded.Status)
	assert.False(t, loaded.Retryable)
	assert.Equal(t, "transport rejected message", loaded.LastError)

	// Terminal rows are retained, never claimable.
	next, err := db.ClaimPendingMessage(ctx, "acct-2")
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRecordSendErrorKeepsSending(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")
	require.NoError(t, db.RecordSendError(ctx, msg.ID, "send timed out with unknown outcome"))

	loaded, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSending, loaded.Status)
	assert.Equal(t, "send timed out with unknown outcome", loaded.LastError)
}

func TestOperatorRetryResetsAttempts(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")
	moved, err := db.MarkFailed(ctx, msg.ID, "boom", true)
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = db.OperatorRetry(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, moved)

	loaded, err := db.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusPending, loaded.Status)
	assert.Equal(t, 0, loaded.AttemptCount)
	assert.Nil(t, loaded.AssignedAccountID)
}

func TestOperatorRetryRejectsHealthyStates(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	// Pending is not retryable; only failed and stuck sending are.
	moved, err := db.OperatorRetry(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestOperatorRetryUnconfirmedSend(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")
	require.NoError(t, db.RecordSendError(ctx, msg.ID, "send timed out"))

	moved, err := db.OperatorRetry(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, moved)
}

func TestAdvanceDeliveryForwardOnly(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")
	moved, err := db.MarkSent(ctx, msg.ID, "ext-1", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, moved)

	moved, err = db.AdvanceDelivery(ctx, "ext-1", models.MessageStatusDelivered, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, moved)

	// A replayed delivered receipt does not re-apply.
	moved, err = db.AdvanceDelivery(ctx, "ext-1", models.MessageStatusDelivered, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, moved)

	moved, err = db.AdvanceDelivery(ctx, "ext-1", models.MessageStatusRead, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, moved)

	loaded, err := db.GetMessageByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, loaded.Status)
	require.NotNil(t, loaded.DeliveredAt)
	require.NotNil(t, loaded.ReadAt)
}

func TestAdvanceDeliveryReadSkipsDelivered(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	msg := claimAndMarkSending(t, db, "acct-1")
	moved, err := db.MarkSent(ctx, msg.ID, "ext-1", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, moved)

	// Read receipt before the delivered one: applied directly.
	moved, err = db.AdvanceDelivery(ctx, "ext-1", models.MessageStatusRead, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, moved)

	// The late delivered receipt never rolls the message back.
	moved, err = db.AdvanceDelivery(ctx, "ext-1", models.MessageStatusDelivered, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestAdvanceDeliveryUnknownExternalID(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	moved, err := db.AdvanceDelivery(ctx, "ext-unknown", models.MessageStatusDelivered, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestListMessagesFilters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	campaign := "spring-launch"
	require.NoError(t, db.EnqueueMessage(ctx, &models.OutboundMessage{
		ID: "msg-1", CampaignID: &campaign, Recipient: "+15551111111",
		Payload: "a", ChannelType: models.ChannelTypeText, Status: models.MessageStatusPending,
	}))
	seedMessage(t, db, "msg-2")
	seedMessage(t, db, "msg-3")

	claimed := claimAndMarkSending(t, db, "acct-1")

	byStatus, err := db.ListMessages(ctx, models.MessageFilter{Status: models.MessageStatusSending})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, claimed.ID, byStatus[0].ID)

	byCampaign, err := db.ListMessages(ctx, models.MessageFilter{CampaignID: "spring-launch"})
	require.NoError(t, err)
	require.Len(t, byCampaign, 1)
	assert.Equal(t, "msg-1", byCampaign[0].ID)

	byAccount, err := db.ListMessages(ctx, models.MessageFilter{AccountID: "acct-1"})
	require.NoError(t, err)
	require.Len(t, byAccount, 1)

	limited, err := db.ListMessages(ctx, models.MessageFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCountStaleSending(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	seedMessage(t, db, "msg-1")

	claimAndMarkSending(t, db, "acct-1")

	count, err := db.CountStaleSending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	time.Sleep(1100 * time.Millisecond)
	count, err = db.CountStaleSending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
