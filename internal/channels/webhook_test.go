package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhook(t *testing.T) {
	tests := []struct {
		name        string
		event       WebhookEvent
		wantApplied bool
		wantStatus  Status
		wantPhone   string
		wantAvatar  string
	}{
		{
			name:        "open connects",
			event:       WebhookEvent{Event: "connection.update", Instance: "hook-01", Data: map[string]any{"state": "open", "wuid": "5511977776666@s.whatsapp.net", "profilePictureUrl": "https://img/p"}},
			wantApplied: true,
			wantStatus:  StatusConnected,
			wantPhone:   "5511977776666",
			wantAvatar:  "https://img/p",
		},
		{
			name:        "close disconnects",
			event:       WebhookEvent{Event: "connection.update", Instance: "hook-01", Data: map[string]any{"status": "close", "phoneNumber": "5511000000001"}},
			wantApplied: true,
			wantStatus:  StatusDisconnected,
			wantPhone:   "5511000000001",
		},
		{
			name:        "pairing",
			event:       WebhookEvent{Event: "connection.update", Instance: "hook-01", Data: map[string]any{"state": "pairing_code", "profilePicUrl": "https://img/q"}},
			wantApplied: true,
			wantStatus:  StatusQRPending,
			wantAvatar:  "https://img/q",
		},
		{
			name:        "missing state",
			event:       WebhookEvent{Event: "connection.update", Instance: "hook-01"},
			wantApplied: true,
			wantStatus:  StatusDisconnected,
		},
		{
			name:       "unknown status rejected",
			event:      WebhookEvent{Event: "connection.update", Instance: "hook-01", Data: map[string]any{"state": "connecting"}},
			wantStatus: StatusError,
		},
		{
			name:       "other event ignored",
			event:      WebhookEvent{Event: "messages.upsert", Instance: "hook-01", Data: map[string]any{"state": "open"}},
			wantStatus: StatusError,
		},
		{
			name:       "unknown instance",
			event:      WebhookEvent{Event: "connection.update", Instance: "nobody", Data: map[string]any{"state": "open"}},
			wantStatus: StatusError,
		},
		{
			name:       "no instance",
			event:      WebhookEvent{Event: "connection.update", Data: map[string]any{"state": "open"}},
			wantStatus: StatusError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemoryStore()
			ch, err := s.Create(context.Background(), Channel{InstanceName: "hook-01", ClientID: clientA, Status: StatusError})
			require.NoError(t, err)

			h := NewWebhookHandler(s, nil)
			assert.Equal(t, tt.wantApplied, h.Handle(context.Background(), tt.event))

			got, err := s.GetByID(context.Background(), ch.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantPhone, got.PhoneNumber)
			assert.Equal(t, tt.wantAvatar, got.AvatarURL)
		})
	}
}
