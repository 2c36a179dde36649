// Package bootstrap connects the shared runtime dependencies used by the
// command-line tools.
package bootstrap

import (
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/cache"
	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/imagestore"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Runtime is what the offline tools need to drive the stores directly.
type Runtime struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Images   *imagestore.Store
	Posts    repository.PostRepository
	Comments repository.CommentRepository
	Logger   *slog.Logger
}

// InitRuntime connects to DB and Redis and opens the image tree. Redis is
// optional: a nil client disables the read cache.
func InitRuntime(cfg *config.Config) (*Runtime, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)

	images, err := imagestore.New(cfg.ImageStorageRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("image store: %w", err)
	}

	return &Runtime{
		DB:       db,
		Redis:    cache.GetClient(),
		Images:   images,
		Posts:    repository.NewPostRepository(db, time.Duration(cfg.CacheTTLSeconds)*time.Second),
		Comments: repository.NewCommentRepository(db),
		Logger:   logger,
	}, nil
}

// ImageLimits applies the upload bounds from configuration over the defaults.
func ImageLimits(cfg *config.Config) service.ImageLimits {
	limits := service.DefaultImageLimits()
	if cfg.MaxCreateImages > 0 {
		limits.MaxCreate = cfg.MaxCreateImages
	}
	if cfg.MaxUpdateImages > 0 {
		limits.MaxUpdate = cfg.MaxUpdateImages
	}
	if cfg.LatestPostsMaxLimit > 0 {
		limits.LatestMaxLimit = cfg.LatestPostsMaxLimit
	}
	limits.VerifyImages = cfg.UploadVerifyImages
	return limits
}

// PostStore builds the store the API uses, audited into the event log.
func (r *Runtime) PostStore(cfg *config.Config) *service.PostStore {
	return service.NewPostStore(r.Posts, r.Images, ImageLimits(cfg), r.Logger).WithAudit(r.Auditor())
}

// CommentStore builds the audited comment store.
func (r *Runtime) CommentStore() *service.CommentStore {
	return service.NewCommentStore(r.Comments, r.Posts, r.Logger).WithAudit(r.Auditor())
}

// Reconciler builds a sweep over the runtime's posts and image tree.
func (r *Runtime) Reconciler() *service.Reconciler {
	return service.NewReconciler(r.Posts, r.Images, r.Logger)
}

// Auditor records offline mutations in the same event log the API writes.
func (r *Runtime) Auditor() *service.Auditor {
	return service.NewAuditor(repository.NewEventLogRepository(r.DB), r.Logger)
}

// Close releases the database and redis connections.
func (r *Runtime) Close() {
	if sqlDB, err := r.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}
