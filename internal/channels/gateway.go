package channels

import (
	"context"

	"channel-platform/internal/audit"
	"channel-platform/internal/evolution"
)

// Gateway is the subset of the messaging gateway client used by channels.
// *evolution.Client implements it.
type Gateway interface {
	ListInstances(ctx context.Context) ([]evolution.Payload, error)
	CreateInstance(ctx context.Context, req evolution.CreateInstanceRequest) (evolution.Payload, error)
	ConnectInstance(ctx context.Context, instance, number string) (evolution.Payload, error)
	ConnectionState(ctx context.Context, instance string) (evolution.Payload, error)
	LogoutInstance(ctx context.Context, instance string) (evolution.Payload, error)
	DeleteInstance(ctx context.Context, instance string) (evolution.Payload, error)

	CreateBot(ctx context.Context, instance, agentURL, apiKey string, opts evolution.BotOptions) (evolution.Payload, error)
	FindBots(ctx context.Context, instance string) ([]evolution.Payload, error)
	UpdateBot(ctx context.Context, botID, instance, agentURL, apiKey string, opts evolution.BotOptions) (evolution.Payload, error)
	DeleteBot(ctx context.Context, botID, instance string) (evolution.Payload, error)

	FetchSessions(ctx context.Context, botID, instance string) ([]evolution.Payload, error)
	ChangeSessionStatus(ctx context.Context, instance, remoteJID, status string) (evolution.Payload, error)
	IgnoreJID(ctx context.Context, instance, remoteJID, action string) (evolution.Payload, error)
}

var _ Gateway = (*evolution.Client)(nil)

// LinkLocker serialises link/unlink work on one instance across processes.
// *utils.RedisLocker implements it.
type LinkLocker interface {
	Acquire(ctx context.Context, key string) (release func(), ok bool, err error)
}

// Auditor records best-effort channel audit events. *audit.Service implements it.
type Auditor interface {
	LogChannelAction(ctx context.Context, clientID, actorUserID, actorRole string, action audit.EventType, instance string, details map[string]any) error
}
