package agents

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("agent not found")

// Agent is the external AI responder a channel can be linked to. Channels
// reference agents by ID and never own them.
type Agent struct {
	ID       string
	ClientID string
	Name     string
	Type     string
	Model    string

	// CardURL is the agent's A2A card/address URL; may be empty.
	CardURL string

	// EncryptedAPIKey is the Fernet token of the agent's API key, empty when
	// the agent has no key.
	EncryptedAPIKey string
}

// Directory resolves agents by id.
type Directory interface {
	Get(ctx context.Context, id string) (Agent, error)
}
