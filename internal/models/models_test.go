package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status MessageStatus
		want   bool
	}{
		{MessageStatusPending, false},
		{MessageStatusQueued, false},
		{MessageStatusSending, false},
		{MessageStatusSent, true},
		{MessageStatusDelivered, true},
		{MessageStatusRead, true},
		{MessageStatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestMessageStatusAdvances(t *testing.T) {
	tests := []struct {
		name string
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{"sent to delivered", MessageStatusSent, MessageStatusDelivered, true},
		{"sent to read", MessageStatusSent, MessageStatusRead, true},
		{"delivered to read", MessageStatusDelivered, MessageStatusRead, true},
		{"delivered replay", MessageStatusDelivered, MessageStatusDelivered, false},
		{"read back to delivered", MessageStatusRead, MessageStatusDelivered, false},
		{"pending to sending", MessageStatusPending, MessageStatusSending, true},
		{"failed never advances", MessageStatusFailed, MessageStatusRead, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.Advances(tt.to))
		})
	}
}

func TestAccountStatusIsTransitional(t *testing.T) {
	assert.True(t, AccountStatusAwaitingScan.IsTransitional())
	assert.True(t, AccountStatusConnecting.IsTransitional())
	assert.False(t, AccountStatusProvisioning.IsTransitional())
	assert.False(t, AccountStatusActive.IsTransitional())
	assert.False(t, AccountStatusDisconnected.IsTransitional())
	assert.False(t, AccountStatusSuspended.IsTransitional())
}

func TestAccountHasSession(t *testing.T) {
	acct := &Account{ID: "acct-1"}
	assert.False(t, acct.HasSession())

	acct.SessionBlob = []byte("opaque-session")
	assert.True(t, acct.HasSession())
}
