// Package seed populates a development database with listings, photos and
// comments. Everything is written through the real stores so seeded rows and
// the image tree agree the same way production data does.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"marketplace/internal/imagestore"
	"marketplace/internal/models"
	"marketplace/internal/service"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options sizes a seeding run.
type Options struct {
	Posts     int
	Comments  int // upper bound per post
	Owners    int
	MaxPhotos int
}

// DefaultOptions matches the cmd/seed flag defaults.
func DefaultOptions() Options {
	return Options{Posts: 50, Comments: 4, Owners: 10, MaxPhotos: 5}
}

// Result counts what a run created.
type Result struct {
	Posts    int `json:"posts"`
	Comments int `json:"comments"`
	Photos   int `json:"photos"`
}

type Seeder struct {
	db       *gorm.DB
	posts    *service.PostStore
	comments *service.CommentStore
	images   *imagestore.Store
	factory  *Factory
	logger   *slog.Logger
}

// NewSeeder binds a seeder to the stores. A zero seed draws a random one.
func NewSeeder(
	db *gorm.DB,
	posts *service.PostStore,
	comments *service.CommentStore,
	images *imagestore.Store,
	seed int64,
	logger *slog.Logger,
) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		db:       db,
		posts:    posts,
		comments: comments,
		images:   images,
		factory:  NewFactory(gofakeit.New(seed)),
		logger:   logger,
	}
}

// Run creates opts.Posts listings spread over opts.Owners owners, each with
// 1..MaxPhotos photos and up to opts.Comments comments from other owners.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Owners <= 0 {
		opts.Owners = 1
	}
	if opts.MaxPhotos <= 0 {
		opts.MaxPhotos = 1
	}

	res := &Result{}
	for i := 0; i < opts.Posts; i++ {
		ownerID := uint(s.factory.faker.Number(1, opts.Owners))
		listing, err := s.factory.Listing(opts.MaxPhotos)
		if err != nil {
			return res, fmt.Errorf("build listing: %w", err)
		}

		post, err := s.posts.Create(ctx, service.CreatePostInput{
			OwnerID:     ownerID,
			Title:       listing.Title,
			Description: listing.Description,
			Images:      listing.Photos,
		})
		if err != nil {
			return res, fmt.Errorf("create post %d: %w", i+1, err)
		}
		res.Posts++
		res.Photos += post.PhotoCount

		if opts.Comments <= 0 {
			continue
		}
		n := s.factory.faker.Number(0, opts.Comments)
		for j := 0; j < n; j++ {
			_, err := s.comments.Create(ctx, service.CreateCommentInput{
				PostID:   post.ID,
				AuthorID: s.commenter(ownerID, opts.Owners),
				Content:  s.factory.CommentText(),
			})
			if err != nil {
				return res, fmt.Errorf("create comment on post %d: %w", post.ID, err)
			}
			res.Comments++
		}
	}

	s.logger.Info("seeding complete",
		slog.Int("posts", res.Posts),
		slog.Int("comments", res.Comments),
		slog.Int("photos", res.Photos),
	)
	return res, nil
}

// commenter picks an author other than the listing owner when there is one.
func (s *Seeder) commenter(ownerID uint, owners int) uint {
	if owners < 2 {
		return ownerID
	}
	for {
		id := uint(s.factory.faker.Number(1, owners))
		if id != ownerID {
			return id
		}
	}
}

// ClearAll removes every comment, post and audit row, then every post
// directory in the image tree.
func (s *Seeder) ClearAll(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&models.Comment{}, &models.EventLog{}, &models.Post{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("clear tables: %w", err)
	}

	dirs, err := s.images.ListPostDirs()
	if err != nil {
		return fmt.Errorf("list image dirs: %w", err)
	}
	for _, d := range dirs {
		if err := s.images.DeleteAll(d.OwnerID, d.PostID); err != nil {
			return fmt.Errorf("remove %s: %w", d.Path, err)
		}
	}

	s.logger.Info("seed data cleared", slog.Int("image_dirs", len(dirs)))
	return nil
}
