package service

import (
	"context"
	"time"
)

// Realtime event types published after committed mutations.
const (
	EventPostCreated    = "post_created"
	EventPostUpdated    = "post_updated"
	EventPostDeleted    = "post_deleted"
	EventCommentCreated = "comment_created"
	EventCommentUpdated = "comment_updated"
	EventCommentDeleted = "comment_deleted"
)

// EventPublisher fans committed mutations out to realtime subscribers.
// Implementations must not block on slow consumers.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, payload map[string]interface{})
}

func publish(ctx context.Context, p EventPublisher, eventType string, payload map[string]interface{}) {
	if p == nil {
		return
	}
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	p.PublishEvent(ctx, eventType, payload)
}
