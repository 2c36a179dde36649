package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"marketplace/internal/authz"
	"marketplace/internal/imagestore"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
	"marketplace/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

// ImageLimits bounds uploads. Create and update bounds are independent.
type ImageLimits struct {
	MaxCreate      int
	MaxUpdate      int
	LatestMaxLimit int
	VerifyImages   bool
}

// DefaultImageLimits mirrors the configuration defaults.
func DefaultImageLimits() ImageLimits {
	return ImageLimits{MaxCreate: 5, MaxUpdate: 10, LatestMaxLimit: 100, VerifyImages: true}
}

// PostStore owns post rows and drives the image store through their lifecycle.
type PostStore struct {
	posts  repository.PostRepository
	images *imagestore.Store
	guard  authz.Guard
	limits ImageLimits
	logger *slog.Logger
	audit  *Auditor
	events EventPublisher
}

type CreatePostInput struct {
	OwnerID     uint
	Title       string
	Description string
	Images      []imagestore.File
}

// UpdatePostInput replaces the text fields of a post. A nil or empty Images
// leaves the current photos untouched.
type UpdatePostInput struct {
	PostID      uint
	CallerID    uint
	Title       string
	Description string
	Images      []imagestore.File
}

type DeletePostInput struct {
	PostID   uint
	CallerID uint
}

func NewPostStore(
	posts repository.PostRepository,
	images *imagestore.Store,
	limits ImageLimits,
	logger *slog.Logger,
) *PostStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostStore{
		posts:  posts,
		images: images,
		limits: limits,
		logger: logger,
	}
}

// WithAudit attaches the audit trail.
func (s *PostStore) WithAudit(a *Auditor) *PostStore {
	s.audit = a
	return s
}

// WithEvents attaches the realtime publisher.
func (s *PostStore) WithEvents(p EventPublisher) *PostStore {
	s.events = p
	return s
}

func (s *PostStore) validateFields(title, description string) error {
	if err := validation.ValidateTitle(title); err != nil {
		return models.NewValidationError(err.Error())
	}
	if err := validation.ValidateDescription(description); err != nil {
		return models.NewValidationError(err.Error())
	}
	return nil
}

func (s *PostStore) validateImages(files []imagestore.File, max int) error {
	if err := validation.ValidateImageCount(len(files), max); err != nil {
		return models.NewValidationError(err.Error())
	}
	for i, f := range files {
		if _, err := imagestore.ValidateExtension(f.Name); err != nil {
			return models.NewValidationError("invalid file extension")
		}
		if !s.limits.VerifyImages {
			continue
		}
		if _, err := imagestore.Verify(f.Data); err != nil {
			return models.NewValidationError(fmt.Sprintf("image %d is not a decodable image", i+1))
		}
	}
	return nil
}

// imageError maps image store failures into the error taxonomy.
func imageError(op string, postID uint, err error) error {
	var appErr *models.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, imagestore.ErrNotFound):
		return models.NewNotFoundError("Image for post", postID)
	case errors.Is(err, imagestore.ErrInvalidIndex):
		return models.NewValidationError("invalid image index")
	case errors.Is(err, imagestore.ErrInvalidExtension):
		return models.NewValidationError("invalid file extension")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return models.NewStorageError(op, err)
	}
}

// dbError passes AppErrors through and wraps everything else as internal.
func dbError(err error) error {
	var appErr *models.AppError
	if err == nil || errors.As(err, &appErr) {
		return err
	}
	return models.NewInternalError(err)
}

func (s *PostStore) revert(r *imagestore.Replacement, ownerID, postID uint) {
	if err := r.Revert(); err != nil {
		s.logger.Error("failed to revert image replacement",
			slog.Uint64("owner_id", uint64(ownerID)),
			slog.Uint64("post_id", uint64(postID)),
			slog.String("error", err.Error()),
		)
	}
}

// finish empties the trash of a committed replacement. A failure is logged
// and counted as an orphan, then returned.
func (s *PostStore) finish(r *imagestore.Replacement, ownerID, postID uint) error {
	trashed, err := r.Finish()
	if err != nil {
		s.images.LogOrphan(ownerID, postID, trashed, err)
	}
	return err
}

// finishAndLog is finish for commits whose result does not depend on the
// trash being emptied; the reconciler purges what is left.
func (s *PostStore) finishAndLog(r *imagestore.Replacement, ownerID, postID uint) {
	if trashed, err := r.Finish(); err != nil {
		s.images.LogOrphan(ownerID, postID, trashed, err)
	}
}

// Create inserts the post row and moves its staged photos into place in the
// same transaction. On failure neither a row nor a directory remains.
func (s *PostStore) Create(ctx context.Context, in CreatePostInput) (post *models.Post, err error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.Create")
	defer span.End()
	defer func() { span.SetError(err) }()

	if in.OwnerID == 0 {
		return nil, models.NewUnauthenticatedError("Caller identity could not be resolved")
	}
	if err := s.validateFields(in.Title, in.Description); err != nil {
		return nil, err
	}
	if err := s.validateImages(in.Images, s.limits.MaxCreate); err != nil {
		return nil, err
	}

	staged, err := s.images.Stage(ctx, in.Images)
	if err != nil {
		return nil, imageError("stage images", 0, err)
	}
	defer s.images.Discard(staged)

	post = &models.Post{
		UserID:      in.OwnerID,
		Title:       in.Title,
		Description: in.Description,
		PhotoCount:  staged.Count(),
	}

	var (
		repl    *imagestore.Replacement
		hookErr error
		unlock  func()
	)
	defer func() {
		if unlock != nil {
			unlock()
		}
	}()

	// The hook runs for photo-less posts too, so a directory left under a
	// reused id is trashed with the insert.
	err = s.posts.Create(ctx, post, func() error {
		unlock = s.images.Locks().Lock(post.ID)
		repl, hookErr = s.images.Replace(staged, post.UserID, post.ID)
		return hookErr
	})
	if err != nil {
		if repl != nil {
			s.revert(repl, post.UserID, post.ID)
		}
		if hookErr != nil {
			return nil, imageError("create images", post.ID, hookErr)
		}
		return nil, dbError(err)
	}
	s.finishAndLog(repl, post.UserID, post.ID)

	span.AddAttributes(
		attribute.Int64("post.id", int64(post.ID)),
		attribute.Int("post.photo_count", post.PhotoCount),
	)
	s.audit.Record(ctx, models.ActionPostCreated, post.UserID, post.ID, nil)
	publish(ctx, s.events, EventPostCreated, map[string]interface{}{
		"post_id":     post.ID,
		"owner_id":    post.UserID,
		"title":       post.Title,
		"photo_count": post.PhotoCount,
	})
	return post, nil
}

// GetByID returns a post or NOT_FOUND.
func (s *PostStore) GetByID(ctx context.Context, postID uint) (*models.Post, error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.GetByID")
	defer span.End()

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		span.SetError(err)
		return nil, dbError(err)
	}
	return post, nil
}

// GetLatest returns up to limit summaries, newest first. The limit is capped
// at the configured maximum.
func (s *PostStore) GetLatest(ctx context.Context, limit int) ([]models.PostSummary, error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.GetLatest")
	defer span.End()

	if limit < 0 {
		return nil, models.NewValidationError("limit must not be negative")
	}
	if s.limits.LatestMaxLimit > 0 && limit > s.limits.LatestMaxLimit {
		limit = s.limits.LatestMaxLimit
	}
	summaries := make([]models.PostSummary, 0, limit)
	if limit == 0 {
		return summaries, nil
	}

	posts, err := s.posts.GetLatest(ctx, limit)
	if err != nil {
		span.SetError(err)
		return nil, dbError(err)
	}
	for _, p := range posts {
		summaries = append(summaries, p.Summary())
	}
	return summaries, nil
}

// Update changes the text fields of a post and, when images are supplied,
// replaces its whole photo set. The post lock is held from the ownership
// check until the old set has left the trash.
func (s *PostStore) Update(ctx context.Context, in UpdatePostInput) (post *models.Post, err error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.Update")
	defer span.End()
	defer func() { span.SetError(err) }()
	span.AddAttributes(attribute.Int64("post.id", int64(in.PostID)))

	unlock := s.images.Locks().Lock(in.PostID)
	defer unlock()

	post, err = s.posts.GetForUpdate(ctx, in.PostID)
	if err != nil {
		return nil, dbError(err)
	}
	if err := s.guard.Check("post", post.UserID, in.CallerID); err != nil {
		return nil, err
	}
	if err := s.validateFields(in.Title, in.Description); err != nil {
		return nil, err
	}
	replacing := len(in.Images) > 0
	if replacing {
		if err := s.validateImages(in.Images, s.limits.MaxUpdate); err != nil {
			return nil, err
		}
	}

	var staged *imagestore.Staged
	if replacing {
		staged, err = s.images.Stage(ctx, in.Images)
		if err != nil {
			return nil, imageError("stage images", post.ID, err)
		}
		defer s.images.Discard(staged)
	}

	updated := *post
	updated.Title = in.Title
	updated.Description = in.Description
	if replacing {
		updated.PhotoCount = staged.Count()
	}

	var (
		repl    *imagestore.Replacement
		hookErr error
	)
	err = s.posts.Update(ctx, &updated, func() error {
		if !replacing {
			return nil
		}
		repl, hookErr = s.images.Replace(staged, post.UserID, post.ID)
		return hookErr
	})
	if err != nil {
		if repl != nil {
			s.revert(repl, post.UserID, post.ID)
		}
		if hookErr != nil {
			return nil, imageError("replace images", post.ID, hookErr)
		}
		return nil, dbError(err)
	}
	s.finishAndLog(repl, post.UserID, post.ID)

	s.audit.Record(ctx, models.ActionPostUpdated, in.CallerID, post.ID, nil)
	publish(ctx, s.events, EventPostUpdated, map[string]interface{}{
		"post_id":        post.ID,
		"owner_id":       post.UserID,
		"title":          updated.Title,
		"photo_count":    updated.PhotoCount,
		"images_changed": replacing,
	})
	return &updated, nil
}

// Delete removes the post row, its comments and its photo directory. If the
// directory cannot be removed after commit the row stays deleted and a
// STORAGE_FAILURE is returned with the orphan logged.
func (s *PostStore) Delete(ctx context.Context, in DeletePostInput) (err error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.Delete")
	defer span.End()
	defer func() { span.SetError(err) }()
	span.AddAttributes(attribute.Int64("post.id", int64(in.PostID)))

	unlock := s.images.Locks().Lock(in.PostID)
	defer unlock()

	post, err := s.posts.GetForUpdate(ctx, in.PostID)
	if err != nil {
		return dbError(err)
	}
	if err := s.guard.Check("post", post.UserID, in.CallerID); err != nil {
		return err
	}

	var (
		repl    *imagestore.Replacement
		hookErr error
	)
	err = s.posts.Delete(ctx, post.ID, func() error {
		repl, hookErr = s.images.Replace(nil, post.UserID, post.ID)
		return hookErr
	})
	if err != nil {
		if repl != nil {
			s.revert(repl, post.UserID, post.ID)
		}
		if hookErr != nil {
			return imageError("delete images", post.ID, hookErr)
		}
		return dbError(err)
	}

	s.audit.Record(ctx, models.ActionPostDeleted, in.CallerID, post.ID, nil)
	publish(ctx, s.events, EventPostDeleted, map[string]interface{}{
		"post_id":  post.ID,
		"owner_id": post.UserID,
	})

	if err := s.finish(repl, post.UserID, post.ID); err != nil {
		return models.NewStorageError("delete images", err)
	}
	return nil
}

// ReadThumbnail returns the first jpeg or png photo of a post.
func (s *PostStore) ReadThumbnail(ctx context.Context, postID uint) (img imagestore.Image, err error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.ReadThumbnail")
	defer span.End()
	defer func() { span.SetError(err) }()

	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return imagestore.Image{}, dbError(err)
	}
	img, err = s.images.ReadThumbnail(post.UserID, post.ID)
	if err != nil {
		return imagestore.Image{}, imageError("read thumbnail", postID, err)
	}
	return img, nil
}

// ReadPhoto returns the photo at 1-based index.
func (s *PostStore) ReadPhoto(ctx context.Context, postID uint, index int) (img imagestore.Image, err error) {
	span, ctx := observability.NewSpan(ctx, "PostStore.ReadPhoto")
	defer span.End()
	defer func() { span.SetError(err) }()

	if index < 1 {
		return imagestore.Image{}, models.NewValidationError("invalid image index")
	}
	post, err := s.posts.GetByID(ctx, postID)
	if err != nil {
		return imagestore.Image{}, dbError(err)
	}
	img, err = s.images.ReadByIndex(post.UserID, post.ID, index)
	if err != nil {
		return imagestore.Image{}, imageError("read photo", postID, err)
	}
	return img, nil
}
