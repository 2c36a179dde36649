package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"marketplace/internal/featureflags"
	"marketplace/internal/notifications"
)

// PublishEvent fans a committed mutation out to feed subscribers. With redis
// the event goes through pub/sub so every instance sees it; without redis, or
// when publishing fails, it is delivered to this instance's clients only.
func (s *Server) PublishEvent(ctx context.Context, eventType string, payload map[string]interface{}) {
	if !s.featureFlags.EnabledGlobally(featureflags.RealtimeFeed) {
		return
	}

	if s.notifier != nil {
		err := s.notifier.PublishEvent(ctx, eventType, payload)
		if err == nil {
			return
		}
		s.logger.WarnContext(ctx, "feed publish failed, delivering locally",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
	}

	if s.hub == nil {
		return
	}
	message, err := json.Marshal(notifications.Event{Type: eventType, Payload: payload})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to marshal feed event",
			slog.String("event", eventType),
			slog.String("error", err.Error()),
		)
		return
	}
	s.hub.BroadcastAll(string(message))
}
