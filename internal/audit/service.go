package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}
	if e.ActorUserID == "" {
		return ErrInvalidEvent
	}

	if meta := requestMetaFrom(ctx); e.IPAddress == "" && e.UserAgent == "" {
		e.IPAddress, e.UserAgent = meta.ip, meta.userAgent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogChannelAction records an action against one channel. details is
// marshalled to JSON; a marshal failure drops the details, not the event.
func (s *Service) LogChannelAction(ctx context.Context, clientID, actorUserID, actorRole string, action EventType, instance string, details map[string]any) error {
	e := Event{
		ClientID:     clientID,
		Type:         action,
		ActorUserID:  actorUserID,
		ActorRole:    actorRole,
		ResourceType: ResourceChannel,
		ResourceID:   instance,
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			e.Metadata = string(b)
		}
	}
	return s.Append(ctx, e)
}
