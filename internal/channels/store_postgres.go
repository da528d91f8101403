package channels

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"channel-platform/pkg/utils"

	"github.com/google/uuid"
)

// activeInstanceIndex is the partial unique index on instance_name among
// active rows (schema.sql).
const activeInstanceIndex = "channels_active_instance_name_uq"

// PostgresStore implements Store on the channels table (see schema.sql).
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const channelColumns = `
id::text,
instance_name,
COALESCE(display_name, ''),
COALESCE(client_id::text, ''),
channel_type,
status,
COALESCE(phone_number, ''),
COALESCE(avatar_url, ''),
config,
COALESCE(external_agent_id::text, ''),
evoai_config,
integration_status,
is_active,
last_connected_at,
created_at,
updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(r rowScanner) (Channel, error) {
	var (
		c         Channel
		cfg       JSONMap
		evoai     []byte
		connected sql.NullTime
	)
	err := r.Scan(
		&c.ID,
		&c.InstanceName,
		&c.DisplayName,
		&c.ClientID,
		&c.Type,
		&c.Status,
		&c.PhoneNumber,
		&c.AvatarURL,
		&cfg,
		&c.ExternalAgentID,
		&evoai,
		&c.IntegrationStatus,
		&c.IsActive,
		&connected,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Channel{}, err
	}
	c.Config = cfg
	if len(evoai) > 0 && string(evoai) != "null" {
		var ec EvoAIConfig
		if err := ec.Scan(evoai); err != nil {
			return Channel{}, fmt.Errorf("decode evoai_config: %w", err)
		}
		c.EvoAIConfig = &ec
	}
	if connected.Valid {
		t := connected.Time
		c.LastConnectedAt = &t
	}
	return c, nil
}

func (s *PostgresStore) ListForClient(ctx context.Context, clientID string) ([]Channel, error) {
	q := `SELECT ` + channelColumns + `
FROM channels
WHERE client_id = $1 AND is_active = true
ORDER BY created_at ASC, instance_name ASC`
	return s.list(ctx, q, clientID)
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]Channel, error) {
	q := `SELECT ` + channelColumns + `
FROM channels
WHERE is_active = true
ORDER BY created_at ASC, instance_name ASC`
	return s.list(ctx, q)
}

func (s *PostgresStore) list(ctx context.Context, q string, args ...any) ([]Channel, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Channel{}
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetByInstanceName(ctx context.Context, instanceName string) (Channel, error) {
	q := `SELECT ` + channelColumns + `
FROM channels
WHERE instance_name = $1 AND is_active = true`
	return s.getOne(ctx, s.db.QueryRowContext(ctx, q, instanceName))
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Channel, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Channel{}, ErrChannelNotFound
	}
	q := `SELECT ` + channelColumns + `
FROM channels
WHERE id = $1 AND is_active = true`
	return s.getOne(ctx, s.db.QueryRowContext(ctx, q, id))
}

func (s *PostgresStore) getOne(_ context.Context, row *sql.Row) (Channel, error) {
	c, err := scanChannel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	return c, err
}

func (s *PostgresStore) CreateOwnership(ctx context.Context, clientID, instanceName string, t ChannelType, config JSONMap) (Channel, error) {
	if clientID == "" {
		return Channel{}, fmt.Errorf("%w: client_id is required", ErrInvalidArgument)
	}
	return s.Create(ctx, Channel{ClientID: clientID, InstanceName: instanceName, Type: t, Config: config})
}

func (s *PostgresStore) Create(ctx context.Context, c Channel) (Channel, error) {
	c = withDefaults(c)
	if err := validateNew(c); err != nil {
		return Channel{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	var out Channel
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `
INSERT INTO channels (
  id, client_id, instance_name, display_name, channel_type, status,
  phone_number, avatar_url, config, external_agent_id, evoai_config,
  integration_status, is_active, last_connected_at, created_at, updated_at
) VALUES (
  $1, NULLIF($2, '')::uuid, $3, $4, $5, $6,
  NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, '')::uuid, $11,
  $12, true, $13, $14, $14
)
RETURNING ` + channelColumns

		now := s.now().UTC()
		row := tx.QueryRowContext(ctx, q,
			c.ID,
			c.ClientID,
			c.InstanceName,
			c.DisplayName,
			string(c.Type),
			string(c.Status),
			c.PhoneNumber,
			c.AvatarURL,
			c.Config,
			c.ExternalAgentID,
			c.EvoAIConfig,
			string(c.IntegrationStatus),
			c.LastConnectedAt,
			now,
		)
		var err error
		out, err = scanChannel(row)
		return err
	})
	if utils.IsUniqueViolation(err, activeInstanceIndex) {
		return Channel{}, fmt.Errorf("%w: instance %q already has an active channel", ErrConflict, c.InstanceName)
	}
	if err != nil {
		return Channel{}, err
	}
	return out, nil
}

func (s *PostgresStore) VerifyOwnership(ctx context.Context, instanceName, clientID string) (bool, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return false, nil
	}
	const q = `
SELECT EXISTS (
  SELECT 1 FROM channels
  WHERE instance_name = $1 AND client_id = $2 AND is_active = true
)`
	var ok bool
	if err := s.db.QueryRowContext(ctx, q, instanceName, clientID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (s *PostgresStore) SoftDeleteOwnership(ctx context.Context, instanceName, clientID string) (bool, error) {
	if _, err := uuid.Parse(clientID); err != nil {
		return false, nil
	}
	const q = `
UPDATE channels
SET is_active = false, updated_at = $3
WHERE instance_name = $1 AND client_id = $2 AND is_active = true`
	return s.execAffected(ctx, q, instanceName, clientID, s.now().UTC())
}

func (s *PostgresStore) SoftDelete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	const q = `
UPDATE channels
SET is_active = false, updated_at = $2
WHERE id = $1 AND is_active = true`
	return s.execAffected(ctx, q, id, s.now().UTC())
}

func (s *PostgresStore) execAffected(ctx context.Context, q string, args ...any) (bool, error) {
	var n int64
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) UpdateStatusFromWebhook(ctx context.Context, instanceName string, status Status, phone, avatar string) (Channel, error) {
	if !status.Valid() {
		return Channel{}, fmt.Errorf("%w: status %q", ErrInvalidArgument, status)
	}

	var out Channel
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `
UPDATE channels
SET status = $2,
    phone_number = COALESCE(NULLIF($3, ''), phone_number),
    avatar_url = COALESCE(NULLIF($4, ''), avatar_url),
    last_connected_at = CASE WHEN $2 = 'connected' THEN $5 ELSE last_connected_at END,
    updated_at = $5
WHERE instance_name = $1 AND is_active = true
RETURNING ` + channelColumns
		row := tx.QueryRowContext(ctx, q, instanceName, string(status), phone, avatar, s.now().UTC())
		var err error
		out, err = scanChannel(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	return out, nil
}

func (s *PostgresStore) UpdateIntegration(ctx context.Context, id string, u IntegrationUpdate) (Channel, error) {
	if err := u.validate(); err != nil {
		return Channel{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return Channel{}, ErrChannelNotFound
	}

	var out Channel
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `
UPDATE channels
SET external_agent_id = NULLIF($2, '')::uuid,
    evoai_config = $3,
    integration_status = $4,
    updated_at = $5
WHERE id = $1 AND is_active = true
RETURNING ` + channelColumns
		row := tx.QueryRowContext(ctx, q, id, u.ExternalAgentID, u.Config, string(u.Status), s.now().UTC())
		var err error
		out, err = scanChannel(row)
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return Channel{}, ErrChannelNotFound
	}
	if err != nil {
		return Channel{}, err
	}
	return out, nil
}

