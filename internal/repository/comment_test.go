package repository

import (
	"context"
	"testing"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentRepository_CRUD(t *testing.T) {
	db := testutil.NewTestDB(t)
	posts := NewPostRepository(db, time.Minute)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	p := seedPost(t, posts, 1, "Bike")
	first := &models.Comment{PostID: p.ID, UserID: 2, Content: "is it still available?"}
	second := &models.Comment{PostID: p.ID, UserID: 3, Content: "yes"}
	require.NoError(t, repo.Create(ctx, first))
	require.NoError(t, repo.Create(ctx, second))

	list, err := repo.ListByPost(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "newest first")

	first.Content = "edited"
	require.NoError(t, repo.Update(ctx, first))
	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Content)
	assert.Equal(t, uint(2), got.UserID)

	require.NoError(t, repo.Delete(ctx, first.ID))
	_, err = repo.GetByID(ctx, first.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
	assert.True(t, models.HasCode(repo.Delete(ctx, first.ID), models.CodeNotFound))
	assert.True(t, models.HasCode(repo.Update(ctx, &models.Comment{ID: first.ID, Content: "x"}), models.CodeNotFound))
}

func TestCommentRepository_ListByPost_EmptyIsNotNil(t *testing.T) {
	repo := NewCommentRepository(testutil.NewTestDB(t))

	list, err := repo.ListByPost(context.Background(), 77)
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestEventLogRepository_AppendAndListRecent(t *testing.T) {
	repo := NewEventLogRepository(testutil.NewTestDB(t))
	ctx := context.Background()

	for i, action := range []string{models.ActionPostCreated, models.ActionCommentCreated, models.ActionPostDeleted} {
		require.NoError(t, repo.Append(ctx, &models.EventLog{Action: action, ActorID: 1, PostID: uint(i + 1), Message: action}))
	}

	recent, err := repo.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, models.ActionPostDeleted, recent[0].Action)

	none, err := repo.ListRecent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
