package audit

import "time"

// Event is an immutable, append-only audit log record.
//
// Invariants:
// - Events are never updated or deleted.
// - client_id is the tenant the action touched; empty for tenant-less admin actions.
// - audit is best-effort; never block critical flows on audit failures.
type Event struct {
	ID       string    `json:"id" db:"id"`
	ClientID string    `json:"client_id,omitempty" db:"client_id"`
	Type     EventType `json:"type" db:"action"`

	// ActorUserID is the authenticated user causing the event.
	ActorUserID string `json:"actor_user_id" db:"user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`

	// ResourceType/ResourceID identify the target, e.g. ("channel", instance name).
	ResourceType string `json:"resource_type,omitempty" db:"resource_type"`
	ResourceID   string `json:"resource_id,omitempty" db:"resource_id"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventChannelList    EventType = "channel.list"
	EventChannelCreate  EventType = "channel.create"
	EventChannelDelete  EventType = "channel.delete"
	EventChannelConnect EventType = "channel.connect"
	EventChannelState   EventType = "channel.state"
	EventChannelLogout  EventType = "channel.logout"
	EventChannelQR      EventType = "channel.qr"
	EventChannelClaim   EventType = "channel.claim"
	EventChannelLink    EventType = "channel.link"
	EventChannelUnlink  EventType = "channel.unlink"
)

const ResourceChannel = "channel"
