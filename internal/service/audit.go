// Package service implements the listing, comment and reconciliation
// operations on top of the repositories and the image store.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"marketplace/internal/models"
	"marketplace/internal/repository"
)

// Auditor appends one event log row per committed mutation. Append failures
// are logged and never returned to the caller.
type Auditor struct {
	repo   repository.EventLogRepository
	logger *slog.Logger
}

func NewAuditor(repo repository.EventLogRepository, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{repo: repo, logger: logger}
}

var actionVerbs = map[string]string{
	models.ActionPostCreated:    "created Post",
	models.ActionPostUpdated:    "updated Post",
	models.ActionPostDeleted:    "deleted Post",
	models.ActionCommentCreated: "commented on Post",
	models.ActionCommentUpdated: "edited a comment on Post",
	models.ActionCommentDeleted: "deleted a comment on Post",
}

// Record writes an audit row. A nil Auditor is a no-op.
func (a *Auditor) Record(ctx context.Context, action string, actorID, postID uint, commentID *uint) {
	if a == nil || a.repo == nil {
		return
	}
	entry := &models.EventLog{
		Action:    action,
		ActorID:   actorID,
		PostID:    postID,
		CommentID: commentID,
		Message:   fmt.Sprintf("User %d %s %d", actorID, actionVerbs[action], postID),
	}
	if err := a.repo.Append(ctx, entry); err != nil {
		a.logger.ErrorContext(ctx, "failed to append audit event",
			slog.String("action", action),
			slog.Uint64("actor_id", uint64(actorID)),
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
	}
}
