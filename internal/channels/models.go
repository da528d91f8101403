package channels

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"

	"channel-platform/internal/connstate"
	"channel-platform/internal/evolution"
)

// Channel is the local ownership record of one gateway instance.
//
// Invariants:
// - InstanceName is unique among active rows; it is the join key to the gateway.
// - ClientID is empty only for unowned, admin-created rows.
// - IntegrationNone implies EvoAIConfig == nil and ExternalAgentID == "".
// - Rows are never hard-deleted; IsActive=false is a soft delete.
type Channel struct {
	ID           string      `json:"id"`
	InstanceName string      `json:"instance_name"`
	DisplayName  string      `json:"display_name,omitempty"`
	ClientID     string      `json:"client_id,omitempty"`
	Type         ChannelType `json:"channel_type"`
	Status       Status      `json:"status"`
	PhoneNumber  string      `json:"phone_number,omitempty"`
	AvatarURL    string      `json:"avatar_url,omitempty"`
	Config       JSONMap     `json:"config,omitempty"`

	ExternalAgentID   string            `json:"external_agent_id,omitempty"`
	EvoAIConfig       *EvoAIConfig      `json:"evoai_config,omitempty"`
	IntegrationStatus IntegrationStatus `json:"integration_status"`

	IsActive        bool       `json:"is_active"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

type ChannelType string

const (
	TypeWhatsApp  ChannelType = "whatsapp"
	TypeInstagram ChannelType = "instagram"
	TypeEmail     ChannelType = "email"
	TypeSMS       ChannelType = "sms"
)

func (t ChannelType) Valid() bool {
	switch t {
	case TypeWhatsApp, TypeInstagram, TypeEmail, TypeSMS:
		return true
	}
	return false
}

// Status is the locally cached connection state of the instance.
type Status string

const (
	StatusConnected    Status = connstate.Connected
	StatusDisconnected Status = connstate.Disconnected
	StatusQRPending    Status = connstate.QRPending
	StatusError        Status = connstate.Error
)

func (s Status) Valid() bool {
	switch s {
	case StatusConnected, StatusDisconnected, StatusQRPending, StatusError:
		return true
	}
	return false
}

// IntegrationStatus is the lifecycle of the channel to agent link.
type IntegrationStatus string

const (
	IntegrationNone       IntegrationStatus = "none"
	IntegrationConfigured IntegrationStatus = "configured"
	IntegrationActive     IntegrationStatus = "active"
	IntegrationError      IntegrationStatus = "error"
	IntegrationPending    IntegrationStatus = "pending"
)

func (s IntegrationStatus) Valid() bool {
	switch s {
	case IntegrationNone, IntegrationConfigured, IntegrationActive, IntegrationError, IntegrationPending:
		return true
	}
	return false
}

// EvoAIConfig is the evoai_config JSONB blob describing the remote bot.
type EvoAIConfig struct {
	BotID        string                `json:"bot_id,omitempty"`
	ConfiguredAt *time.Time            `json:"configured_at,omitempty"`
	AgentURL     string                `json:"agent_url,omitempty"`
	Status       IntegrationStatus     `json:"status,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
	Options      *evolution.BotOptions `json:"options,omitempty"`
}

func (c EvoAIConfig) Value() (driver.Value, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (c *EvoAIConfig) Scan(value any) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	*c = EvoAIConfig{}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, c)
}

// JSONMap is a free-form JSONB object column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *JSONMap) Scan(value any) error {
	b, err := jsonBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	return json.Unmarshal(b, m)
}

func jsonBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("channels: unsupported json column type")
	}
}

// Caller is the authenticated principal an operation runs for.
type Caller struct {
	UserID   string
	ClientID string
	Role     string
	Admin    bool
}

// Owns reports whether a non-admin caller owns ch. Admins own everything.
func (c Caller) Owns(ch Channel) bool {
	if c.Admin {
		return true
	}
	return c.ClientID != "" && ch.ClientID == c.ClientID
}

var instanceNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)

// ValidInstanceName reports whether name is 3-50 chars of [a-zA-Z0-9_-].
func ValidInstanceName(name string) bool {
	return instanceNamePattern.MatchString(name)
}

// NormalizeIntegration upper-cases and dash-normalises a gateway integration
// identifier, defaulting unknown values to Baileys.
func NormalizeIntegration(raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), "_", "-"))
	switch s {
	case evolution.IntegrationBaileys, evolution.IntegrationBusiness, evolution.IntegrationEvolution:
		return s
	default:
		return evolution.IntegrationBaileys
	}
}

var integrationTypes = map[string]ChannelType{
	"whatsappbaileys":  TypeWhatsApp,
	"whatsappbusiness": TypeWhatsApp,
	"whatsapploud":     TypeWhatsApp,
	"whatsappcloudapi": TypeWhatsApp,
	"whatsappcloud":    TypeWhatsApp,
	"evolution":        TypeWhatsApp,
	"instagram":        TypeInstagram,
	"email":            TypeEmail,
	"sms":              TypeSMS,
}

// ChannelTypeFor maps a gateway integration identifier to a channel type.
// ok is false when the identifier is unknown and whatsapp was assumed.
func ChannelTypeFor(integration string) (t ChannelType, ok bool) {
	key := strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(integration)))
	if t, ok := integrationTypes[key]; ok {
		return t, true
	}
	return TypeWhatsApp, false
}
