//go:build integration

package channels

import (
	"context"
	"database/sql"
	_ "embed"
	"os"
	"testing"

	"channel-platform/pkg/utils"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:embed schema.sql
var schemaSQL string

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	db, err := utils.OpenPostgres(context.Background(), "pgx", dsn, utils.PostgresPoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schemaSQL)
	require.NoError(t, err)
	return db
}

func TestPostgresStore_OwnershipLifecycle(t *testing.T) {
	db := openTestDB(t)
	s := NewPostgresStore(db)
	ctx := context.Background()
	client := uuid.NewString()
	name := "it-" + uuid.NewString()[:8]

	c, err := s.CreateOwnership(ctx, client, name, TypeWhatsApp, JSONMap{"integration": "WHATSAPP-BAILEYS"})
	require.NoError(t, err)
	assert.Equal(t, client, c.ClientID)
	assert.Equal(t, "WHATSAPP-BAILEYS", c.Config["integration"])

	_, err = s.CreateOwnership(ctx, uuid.NewString(), name, TypeWhatsApp, nil)
	assert.ErrorIs(t, err, ErrConflict)

	ok, err := s.VerifyOwnership(ctx, name, client)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.UpdateStatusFromWebhook(ctx, name, StatusConnected, "5511900000000", "")
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, got.Status)
	assert.NotNil(t, got.LastConnectedAt)

	agent := uuid.NewString()
	got, err = s.UpdateIntegration(ctx, c.ID, IntegrationUpdate{ExternalAgentID: agent, Config: &EvoAIConfig{BotID: "bot-1"}, Status: IntegrationConfigured})
	require.NoError(t, err)
	assert.Equal(t, agent, got.ExternalAgentID)
	require.NotNil(t, got.EvoAIConfig)
	assert.Equal(t, "bot-1", got.EvoAIConfig.BotID)

	got, err = s.UpdateIntegration(ctx, c.ID, Cleared())
	require.NoError(t, err)
	assert.Nil(t, got.EvoAIConfig)
	assert.Empty(t, got.ExternalAgentID)

	ok, err = s.SoftDeleteOwnership(ctx, name, client)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SoftDeleteOwnership(ctx, name, client)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.VerifyOwnership(ctx, name, client)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetByInstanceName(ctx, name)
	assert.ErrorIs(t, err, ErrChannelNotFound)
}
