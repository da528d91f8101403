package channels

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"channel-platform/internal/connstate"
)

// EventConnectionUpdate is the only gateway webhook event acted on.
const EventConnectionUpdate = "connection.update"

// WebhookEvent is the gateway webhook body.
type WebhookEvent struct {
	Event    string         `json:"event"`
	Instance string         `json:"instance"`
	Data     map[string]any `json:"data"`
}

// WebhookHandler applies gateway connection events to cached channel state.
type WebhookHandler struct {
	store  Store
	logger *slog.Logger
}

func NewWebhookHandler(store Store, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{store: store, logger: logger}
}

// Handle applies one event. Problems are logged and reported as applied
// false; none of them are errors for the sender.
func (h *WebhookHandler) Handle(ctx context.Context, ev WebhookEvent) (applied bool) {
	if ev.Event != EventConnectionUpdate {
		return false
	}
	instance := strings.TrimSpace(ev.Instance)
	if instance == "" {
		h.logger.WarnContext(ctx, "webhook without instance", "event", ev.Event)
		return false
	}

	data := ev.Data
	status := connstate.NormalizeWebhookStatus(firstText(data, "state", "status"))
	phone := strings.TrimSuffix(firstText(data, "phone", "phoneNumber", "wuid"), whatsappJIDSuffix)
	avatar := firstText(data, "profilePictureUrl", "profilePicUrl")

	_, err := h.store.UpdateStatusFromWebhook(ctx, instance, Status(status), phone, avatar)
	switch {
	case errors.Is(err, ErrChannelNotFound):
		h.logger.InfoContext(ctx, "webhook for unknown instance ignored", "instance", instance)
		return false
	case err != nil:
		h.logger.WarnContext(ctx, "webhook status not applied", "instance", instance, "status", status, "err", err)
		return false
	}
	h.logger.InfoContext(ctx, "channel status updated from webhook", "instance", instance, "status", status)
	return true
}
