package agents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// PostgresDirectory reads agents and their api key from the shared agent
// runtime tables. It never writes.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Get(ctx context.Context, id string) (Agent, error) {
	if d.db == nil {
		return Agent{}, errors.New("agents: db is nil")
	}
	if _, err := uuid.Parse(id); err != nil {
		return Agent{}, ErrNotFound
	}
	const q = `
SELECT a.id::text,
       COALESCE(a.client_id::text, ''),
       COALESCE(a.name, ''),
       COALESCE(a.type, ''),
       COALESCE(a.model, ''),
       COALESCE(a.agent_card_url, ''),
       COALESCE(k.encrypted_key, '')
FROM agents a
LEFT JOIN api_keys k ON k.id = a.api_key_id
WHERE a.id = $1`
	var a Agent
	err := d.db.QueryRowContext(ctx, q, id).Scan(
		&a.ID,
		&a.ClientID,
		&a.Name,
		&a.Type,
		&a.Model,
		&a.CardURL,
		&a.EncryptedAPIKey,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	if err != nil {
		return Agent{}, fmt.Errorf("agents: get %s: %w", id, err)
	}
	return a, nil
}
