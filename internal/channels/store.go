package channels

import (
	"context"
	"fmt"
)

// Store is the channel ownership store. Every read filters on is_active;
// every mutation runs in one local transaction and is rolled back on error.
type Store interface {
	ListForClient(ctx context.Context, clientID string) ([]Channel, error)
	// ListAll returns every active channel (admin view).
	ListAll(ctx context.Context) ([]Channel, error)

	// GetByInstanceName and GetByID return ErrChannelNotFound when no active
	// row matches.
	GetByInstanceName(ctx context.Context, instanceName string) (Channel, error)
	GetByID(ctx context.Context, id string) (Channel, error)

	// CreateOwnership records that clientID owns an existing remote instance.
	CreateOwnership(ctx context.Context, clientID, instanceName string, t ChannelType, config JSONMap) (Channel, error)
	// Create inserts a complete row once. An active row with the same
	// instance name yields ErrConflict.
	Create(ctx context.Context, c Channel) (Channel, error)

	VerifyOwnership(ctx context.Context, instanceName, clientID string) (bool, error)
	// SoftDeleteOwnership deactivates the active row owned by clientID and
	// reports whether one existed.
	SoftDeleteOwnership(ctx context.Context, instanceName, clientID string) (bool, error)
	// SoftDelete deactivates one row by id regardless of owner (admin path).
	SoftDelete(ctx context.Context, id string) (bool, error)

	// UpdateStatusFromWebhook never creates rows: with no active match it
	// returns ErrChannelNotFound. Status connected stamps last_connected_at;
	// empty phone/avatar leave the cached values untouched.
	UpdateStatusFromWebhook(ctx context.Context, instanceName string, status Status, phone, avatar string) (Channel, error)

	UpdateIntegration(ctx context.Context, id string, u IntegrationUpdate) (Channel, error)
}

// IntegrationUpdate is the full set of integration fields written together.
type IntegrationUpdate struct {
	ExternalAgentID string
	Config          *EvoAIConfig
	Status          IntegrationStatus
}

// Cleared is the update that unlinks a channel.
func Cleared() IntegrationUpdate {
	return IntegrationUpdate{Status: IntegrationNone}
}

func (u IntegrationUpdate) validate() error {
	if !u.Status.Valid() {
		return fmt.Errorf("%w: integration status %q", ErrInvalidArgument, u.Status)
	}
	if u.Status == IntegrationNone && (u.Config != nil || u.ExternalAgentID != "") {
		return fmt.Errorf("%w: integration none must not carry agent or config", ErrInvalidArgument)
	}
	return nil
}

func (u IntegrationUpdate) apply(c *Channel) {
	c.ExternalAgentID = u.ExternalAgentID
	c.EvoAIConfig = u.Config
	c.IntegrationStatus = u.Status
}

// validateNew checks a row after withDefaults.
func validateNew(c Channel) error {
	if !ValidInstanceName(c.InstanceName) {
		return fmt.Errorf("%w: instance name %q", ErrInvalidArgument, c.InstanceName)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("%w: channel type %q", ErrInvalidArgument, c.Type)
	}
	if c.Status != "" && !c.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidArgument, c.Status)
	}
	if c.IntegrationStatus != "" {
		return IntegrationUpdate{ExternalAgentID: c.ExternalAgentID, Config: c.EvoAIConfig, Status: c.IntegrationStatus}.validate()
	}
	return nil
}

// withDefaults fills the server-side defaults of a new row.
func withDefaults(c Channel) Channel {
	if c.Type == "" {
		c.Type = TypeWhatsApp
	}
	if c.Status == "" {
		c.Status = StatusDisconnected
	}
	if c.IntegrationStatus == "" {
		c.IntegrationStatus = IntegrationNone
	}
	if c.DisplayName == "" {
		c.DisplayName = c.InstanceName
	}
	if c.Config == nil {
		c.Config = JSONMap{}
	}
	c.IsActive = true
	return c
}
