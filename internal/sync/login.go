package sync

import (
	"context"
	"log/slog"

	"sante/internal/event"
	"sante/internal/notify"
)

// LoginHandler emits a telemetry notification for LOGIN events. It never
// touches the identity store and always succeeds; a lost login signal is not
// worth a redelivery.
type LoginHandler struct {
	notifier notify.Notifier
	logger   *slog.Logger
}

func NewLoginHandler(notifier notify.Notifier, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{notifier: notifier, logger: logger}
}

func (h *LoginHandler) Handle(ctx context.Context, e event.Inbound) (Result, error) {
	err := h.notifier.Publish(ctx, notify.TopicLogin, map[string]any{
		"user_id":   e.UserID,
		"realm_id":  e.RealmID,
		"client_id": e.ClientID,
		"at":        e.OccurredAt(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "login notification dropped", "user_id", e.UserID, "error", err)
	}
	return success(e, "", "login recorded"), nil
}
