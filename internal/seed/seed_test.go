package seed

import (
	"context"
	"testing"

	"marketplace/internal/imagestore"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
	"marketplace/internal/service"
	"marketplace/internal/testutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newSeeder(t *testing.T) (*Seeder, *gorm.DB, *imagestore.Store) {
	t.Helper()
	db := testutil.NewTestDB(t)
	logger := observability.DiscardLogger()
	images, err := imagestore.New(t.TempDir(), logger)
	require.NoError(t, err)

	posts := repository.NewPostRepository(db, 0)
	postStore := service.NewPostStore(posts, images, service.DefaultImageLimits(), logger)
	commentStore := service.NewCommentStore(repository.NewCommentRepository(db), posts, logger)
	return NewSeeder(db, postStore, commentStore, images, 42, logger), db, images
}

func TestRun_PhotoCountsMatchImageTree(t *testing.T) {
	s, db, images := newSeeder(t)
	ctx := context.Background()

	res, err := s.Run(ctx, Options{Posts: 6, Comments: 3, Owners: 3, MaxPhotos: 5})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Posts)

	var posts []models.Post
	require.NoError(t, db.Find(&posts).Error)
	require.Len(t, posts, 6)

	photos := 0
	for _, p := range posts {
		assert.GreaterOrEqual(t, p.PhotoCount, 1)
		assert.LessOrEqual(t, p.PhotoCount, 5)
		assert.GreaterOrEqual(t, p.UserID, uint(1))
		assert.LessOrEqual(t, p.UserID, uint(3))

		n, err := images.Count(p.UserID, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.PhotoCount, n, "post %d", p.ID)
		photos += n
	}
	assert.Equal(t, res.Photos, photos)

	var comments []models.Comment
	require.NoError(t, db.Preload("Post").Find(&comments).Error)
	assert.Len(t, comments, res.Comments)
	for _, c := range comments {
		require.NotNil(t, c.Post)
		assert.NotEqual(t, c.Post.UserID, c.UserID, "comment %d authored by listing owner", c.ID)
	}
}

func TestClearAll_RemovesRowsAndDirs(t *testing.T) {
	s, db, images := newSeeder(t)
	ctx := context.Background()

	_, err := s.Run(ctx, Options{Posts: 3, Comments: 2, Owners: 2, MaxPhotos: 2})
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	var count int64
	require.NoError(t, db.Model(&models.Post{}).Count(&count).Error)
	assert.Zero(t, count)
	require.NoError(t, db.Model(&models.Comment{}).Count(&count).Error)
	assert.Zero(t, count)

	dirs, err := images.ListPostDirs()
	require.NoError(t, err)
	assert.Empty(t, dirs)
}

func TestFactory_PhotosDecode(t *testing.T) {
	f := NewFactory(gofakeit.New(7))

	for _, ext := range []string{".png", ".jpg"} {
		data, err := f.Photo(ext, 8, 6)
		require.NoError(t, err)
		_, err = imagestore.Verify(data)
		assert.NoError(t, err, ext)
	}

	_, err := f.Photo(".gif", 8, 6)
	assert.Error(t, err)
}

func TestFactory_ListingStaysInBounds(t *testing.T) {
	f := NewFactory(gofakeit.New(11))

	for i := 0; i < 20; i++ {
		l, err := f.Listing(3)
		require.NoError(t, err)
		assert.NotEmpty(t, l.Title)
		assert.GreaterOrEqual(t, len(l.Photos), 1)
		assert.LessOrEqual(t, len(l.Photos), 3)
		for _, p := range l.Photos {
			_, err := imagestore.ValidateExtension(p.Name)
			assert.NoError(t, err)
		}
	}
}
