package service

import (
	"context"
	"log/slog"

	"marketplace/internal/authz"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
	"marketplace/internal/validation"
)

// CommentStore owns comment rows. It reads posts only to check existence.
type CommentStore struct {
	comments repository.CommentRepository
	posts    repository.PostRepository
	guard    authz.Guard
	logger   *slog.Logger
	audit    *Auditor
	events   EventPublisher
}

type CreateCommentInput struct {
	PostID   uint
	AuthorID uint
	Content  string
}

type UpdateCommentInput struct {
	CommentID uint
	CallerID  uint
	Content   string
}

type DeleteCommentInput struct {
	CommentID uint
	CallerID  uint
}

func NewCommentStore(
	comments repository.CommentRepository,
	posts repository.PostRepository,
	logger *slog.Logger,
) *CommentStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommentStore{
		comments: comments,
		posts:    posts,
		logger:   logger,
	}
}

func (s *CommentStore) WithAudit(a *Auditor) *CommentStore {
	s.audit = a
	return s
}

func (s *CommentStore) WithEvents(p EventPublisher) *CommentStore {
	s.events = p
	return s
}

// Create adds a comment authored by the resolved caller.
func (s *CommentStore) Create(ctx context.Context, in CreateCommentInput) (comment *models.Comment, err error) {
	span, ctx := observability.NewSpan(ctx, "CommentStore.Create")
	defer span.End()
	defer func() { span.SetError(err) }()

	if in.AuthorID == 0 {
		return nil, models.NewUnauthenticatedError("Caller identity could not be resolved")
	}
	if err := validation.ValidateCommentContent(in.Content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if _, err := s.posts.GetByID(ctx, in.PostID); err != nil {
		return nil, dbError(err)
	}

	comment = &models.Comment{
		PostID:  in.PostID,
		UserID:  in.AuthorID,
		Content: in.Content,
	}
	if err := s.comments.Create(ctx, comment); err != nil {
		return nil, dbError(err)
	}

	s.audit.Record(ctx, models.ActionCommentCreated, in.AuthorID, in.PostID, &comment.ID)
	publish(ctx, s.events, EventCommentCreated, map[string]interface{}{
		"comment_id": comment.ID,
		"post_id":    comment.PostID,
		"author_id":  comment.UserID,
	})
	return comment, nil
}

// List returns the comments of a post, newest first.
func (s *CommentStore) List(ctx context.Context, postID uint) ([]*models.Comment, error) {
	comments, err := s.comments.ListByPost(ctx, postID)
	if err != nil {
		return nil, dbError(err)
	}
	return comments, nil
}

// Update replaces the content of a comment owned by the caller.
func (s *CommentStore) Update(ctx context.Context, in UpdateCommentInput) (comment *models.Comment, err error) {
	span, ctx := observability.NewSpan(ctx, "CommentStore.Update")
	defer span.End()
	defer func() { span.SetError(err) }()

	comment, err = s.comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, dbError(err)
	}
	if err := s.guard.Check("comment", comment.UserID, in.CallerID); err != nil {
		return nil, err
	}
	if err := validation.ValidateCommentContent(in.Content); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	comment.Content = in.Content
	if err := s.comments.Update(ctx, comment); err != nil {
		return nil, dbError(err)
	}

	s.audit.Record(ctx, models.ActionCommentUpdated, in.CallerID, comment.PostID, &comment.ID)
	publish(ctx, s.events, EventCommentUpdated, map[string]interface{}{
		"comment_id": comment.ID,
		"post_id":    comment.PostID,
		"author_id":  comment.UserID,
	})
	return comment, nil
}

// Delete removes a comment owned by the caller.
func (s *CommentStore) Delete(ctx context.Context, in DeleteCommentInput) (err error) {
	span, ctx := observability.NewSpan(ctx, "CommentStore.Delete")
	defer span.End()
	defer func() { span.SetError(err) }()

	comment, err := s.comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return dbError(err)
	}
	if err := s.guard.Check("comment", comment.UserID, in.CallerID); err != nil {
		return err
	}
	if err := s.comments.Delete(ctx, comment.ID); err != nil {
		return dbError(err)
	}

	s.audit.Record(ctx, models.ActionCommentDeleted, in.CallerID, comment.PostID, &comment.ID)
	publish(ctx, s.events, EventCommentDeleted, map[string]interface{}{
		"comment_id": comment.ID,
		"post_id":    comment.PostID,
		"author_id":  comment.UserID,
	})
	return nil
}
