package audit

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresRepo appends events to audit_logs. It only ever INSERTs.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	if r.db == nil {
		return errors.New("audit: db is nil")
	}
	const q = `
INSERT INTO audit_logs (id, client_id, user_id, actor_role, action, resource_type, resource_id, details, ip_address, user_agent, created_at)
VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), COALESCE(NULLIF($8, ''), '{}')::jsonb, NULLIF($9, ''), NULLIF($10, ''), $11)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.ClientID,
		e.ActorUserID,
		e.ActorRole,
		string(e.Type),
		e.ResourceType,
		e.ResourceID,
		e.Metadata,
		e.IPAddress,
		e.UserAgent,
		e.CreatedAt,
	)
	return err
}
