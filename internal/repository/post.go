// Package repository provides data access layer implementations for the application.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/models"
	"marketplace/internal/observability"

	"gorm.io/gorm"
)

// TxHook runs inside a repository transaction after the row change and
// before commit. Returning an error rolls the transaction back.
type TxHook func() error

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post, afterInsert TxHook) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	GetForUpdate(ctx context.Context, id uint) (*models.Post, error)
	GetLatest(ctx context.Context, limit int) ([]*models.Post, error)
	Update(ctx context.Context, post *models.Post, beforeCommit TxHook) error
	Delete(ctx context.Context, id uint, beforeCommit TxHook) error
	ListAll(ctx context.Context) ([]*models.Post, error)
	SetPhotoCount(ctx context.Context, id uint, count int) error
}

// postRepository implements PostRepository
type postRepository struct {
	db       *gorm.DB
	cacheTTL time.Duration
	log      *observability.RepoLogger
}

// NewPostRepository creates a new post repository. Reads are served through
// the Redis cache for cacheTTL when Redis is available.
func NewPostRepository(db *gorm.DB, cacheTTL time.Duration) PostRepository {
	return &postRepository{
		db:       db,
		cacheTTL: cacheTTL,
		log:      observability.NewRepoLogger("posts", nil),
	}
}

func runHook(hook TxHook) error {
	if hook == nil {
		return nil
	}
	return hook()
}

func (r *postRepository) Create(ctx context.Context, post *models.Post, afterInsert TxHook) error {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, "Create", "posts")
	defer span.End()
	defer observability.TrackQuery("create", "posts")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(post).Error; err != nil {
			return err
		}
		return runHook(afterInsert)
	})
	if err != nil {
		r.log.LogError(ctx, err, "create")
		return err
	}

	cache.InvalidateLatestPosts(ctx)
	r.log.LogCreate(ctx, map[string]any{"post_id": post.ID, "user_id": post.UserID, "photo_count": post.PhotoCount})
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	err := cache.Aside(ctx, cache.PostKey(id), &post, r.cacheTTL, func() error {
		return r.first(ctx, id, &post)
	})
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GetForUpdate reads the row directly from the database, bypassing the cache.
func (r *postRepository) GetForUpdate(ctx context.Context, id uint) (*models.Post, error) {
	var post models.Post
	if err := r.first(ctx, id, &post); err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) first(ctx context.Context, id uint, post *models.Post) error {
	defer observability.TrackQuery("select", "posts")()
	err := r.db.WithContext(ctx).First(post, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError("Post", id)
	}
	return err
}

func (r *postRepository) GetLatest(ctx context.Context, limit int) ([]*models.Post, error) {
	if limit <= 0 {
		return []*models.Post{}, nil
	}

	var posts []*models.Post
	err := cache.AsideTracked(ctx, cache.LatestPostsKey(limit), cache.LatestPostsKeySet, &posts, r.cacheTTL, func() error {
		defer observability.TrackQuery("select_latest", "posts")()
		return r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&posts).Error
	})
	if err != nil {
		return nil, err
	}
	if posts == nil {
		posts = []*models.Post{}
	}
	return posts, nil
}

func (r *postRepository) Update(ctx context.Context, post *models.Post, beforeCommit TxHook) error {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, "Update", "posts")
	defer span.End()
	defer observability.TrackQuery("update", "posts")()

	post.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", post.ID).Updates(map[string]any{
			"title":       post.Title,
			"description": post.Description,
			"photo_count": post.PhotoCount,
			"updated_at":  post.UpdatedAt,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Post", post.ID)
		}
		return runHook(beforeCommit)
	})
	if err != nil {
		r.log.LogError(ctx, err, "update")
		return err
	}

	cache.InvalidatePost(ctx, post.ID)
	r.log.LogUpdate(ctx, map[string]any{"post_id": post.ID, "photo_count": post.PhotoCount})
	return nil
}

func (r *postRepository) Delete(ctx context.Context, id uint, beforeCommit TxHook) error {
	ctx, span := observability.GetTraceLayer().TraceRepositoryMethod(ctx, "Delete", "posts")
	defer span.End()
	defer observability.TrackQuery("delete", "posts")()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return fmt.Errorf("delete comments: %w", err)
		}
		res := tx.Delete(&models.Post{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewNotFoundError("Post", id)
		}
		return runHook(beforeCommit)
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return err
	}

	cache.InvalidatePost(ctx, id)
	r.log.LogDelete(ctx, map[string]any{"post_id": id})
	return nil
}

func (r *postRepository) ListAll(ctx context.Context) ([]*models.Post, error) {
	defer observability.TrackQuery("select_all", "posts")()
	var posts []*models.Post
	err := r.db.WithContext(ctx).Order("id ASC").Find(&posts).Error
	return posts, err
}

func (r *postRepository) SetPhotoCount(ctx context.Context, id uint, count int) error {
	defer observability.TrackQuery("update_photo_count", "posts")()
	res := r.db.WithContext(ctx).Model(&models.Post{}).Where("id = ?", id).Update("photo_count", count)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", id)
	}
	cache.InvalidatePost(ctx, id)
	return nil
}
