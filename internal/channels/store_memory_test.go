package channels

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SoftDeleteOwnershipIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateOwnership(ctx, clientA, "idem-01", TypeWhatsApp, nil)
	require.NoError(t, err)

	ok, err := s.SoftDeleteOwnership(ctx, "idem-01", clientA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SoftDeleteOwnership(ctx, "idem-01", clientA)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_VerifyOwnershipIgnoresInactiveRows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.CreateOwnership(ctx, clientA, "verify-01", TypeWhatsApp, nil)
	require.NoError(t, err)

	ok, err := s.VerifyOwnership(ctx, "verify-01", clientA)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = s.VerifyOwnership(ctx, "verify-01", clientB)
	assert.False(t, ok)

	_, err = s.SoftDeleteOwnership(ctx, "verify-01", clientA)
	require.NoError(t, err)
	ok, err = s.VerifyOwnership(ctx, "verify-01", clientA)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_ActiveInstanceNameIsUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	first, err := s.CreateOwnership(ctx, clientA, "uniq-01", TypeWhatsApp, nil)
	require.NoError(t, err)

	_, err = s.CreateOwnership(ctx, clientB, "uniq-01", TypeWhatsApp, nil)
	assert.ErrorIs(t, err, ErrConflict)

	ok, err := s.SoftDelete(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	second, err := s.CreateOwnership(ctx, clientB, "uniq-01", TypeWhatsApp, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, s.Rows(), 2)
}

func TestMemoryStore_CreateValidation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.CreateOwnership(ctx, "", "noclient-01", TypeWhatsApp, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Create(ctx, Channel{InstanceName: "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Create(ctx, Channel{InstanceName: "fax-01", Type: "fax"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.Create(ctx, Channel{InstanceName: "bad-int-01", ExternalAgentID: agentID, IntegrationStatus: IntegrationNone})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c, err := s.Create(ctx, Channel{InstanceName: "defaults-01"})
	require.NoError(t, err)
	assert.Equal(t, TypeWhatsApp, c.Type)
	assert.Equal(t, StatusDisconnected, c.Status)
	assert.Equal(t, IntegrationNone, c.IntegrationStatus)
	assert.Equal(t, "defaults-01", c.DisplayName)
	assert.NotNil(t, c.Config)
}

func TestMemoryStore_ListScoping(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.SetClock(func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) })

	for _, r := range []struct{ client, name string }{
		{clientA, "list-b"}, {clientB, "list-x"}, {clientA, "list-a"}, {clientA, "list-gone"},
	} {
		_, err := s.CreateOwnership(ctx, r.client, r.name, TypeWhatsApp, nil)
		require.NoError(t, err)
	}
	_, err := s.SoftDeleteOwnership(ctx, "list-gone", clientA)
	require.NoError(t, err)

	mine, err := s.ListForClient(ctx, clientA)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "list-b", mine[0].InstanceName)
	assert.Equal(t, "list-a", mine[1].InstanceName)

	none, err := s.ListForClient(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, none)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryStore_UpdateStatusFromWebhook(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	_, err := s.Create(ctx, Channel{InstanceName: "hook-01", ClientID: clientA, PhoneNumber: "5511000000000"})
	require.NoError(t, err)

	_, err = s.UpdateStatusFromWebhook(ctx, "unknown-01", StatusConnected, "", "")
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = s.UpdateStatusFromWebhook(ctx, "hook-01", Status("weird"), "", "")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c, err := s.UpdateStatusFromWebhook(ctx, "hook-01", StatusQRPending, "", "https://img/1")
	require.NoError(t, err)
	assert.Equal(t, StatusQRPending, c.Status)
	assert.Equal(t, "5511000000000", c.PhoneNumber)
	assert.Equal(t, "https://img/1", c.AvatarURL)
	assert.Nil(t, c.LastConnectedAt)

	c, err = s.UpdateStatusFromWebhook(ctx, "hook-01", StatusConnected, "5511999999999", "")
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", c.PhoneNumber)
	assert.Equal(t, "https://img/1", c.AvatarURL)
	require.NotNil(t, c.LastConnectedAt)
	assert.Equal(t, now, *c.LastConnectedAt)
}

func TestMemoryStore_UpdateIntegration(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, err := s.Create(ctx, Channel{InstanceName: "int-01", ClientID: clientA})
	require.NoError(t, err)

	_, err = s.UpdateIntegration(ctx, c.ID, IntegrationUpdate{ExternalAgentID: agentID, Status: IntegrationNone})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.UpdateIntegration(ctx, c.ID, IntegrationUpdate{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = s.UpdateIntegration(ctx, "missing", Cleared())
	assert.ErrorIs(t, err, ErrChannelNotFound)

	got, err := s.UpdateIntegration(ctx, c.ID, IntegrationUpdate{ExternalAgentID: agentID, Config: &EvoAIConfig{BotID: "b"}, Status: IntegrationConfigured})
	require.NoError(t, err)
	assert.Equal(t, agentID, got.ExternalAgentID)

	got, err = s.UpdateIntegration(ctx, c.ID, Cleared())
	require.NoError(t, err)
	assert.Empty(t, got.ExternalAgentID)
	assert.Nil(t, got.EvoAIConfig)
	assert.Equal(t, IntegrationNone, got.IntegrationStatus)
}

func TestMemoryStore_FailWritesLeavesRowsUntouched(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c, err := s.Create(ctx, Channel{InstanceName: "fail-01", ClientID: clientA})
	require.NoError(t, err)

	s.FailWrites = errBoom
	_, err = s.SoftDeleteOwnership(ctx, "fail-01", clientA)
	assert.ErrorIs(t, err, errBoom)
	_, err = s.UpdateStatusFromWebhook(ctx, "fail-01", StatusConnected, "", "")
	assert.ErrorIs(t, err, errBoom)

	s.FailWrites = nil
	got, err := s.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Equal(t, StatusDisconnected, got.Status)
}
