package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketplace/internal/imagestore"
	"marketplace/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconciler_FixesPhotoCount(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, 4, 1)

	// drift the tree behind the store's back
	require.NoError(t, f.images.WriteAll(ctx, 4, post.ID, pngFiles(t, 3)))

	rec := NewReconciler(f.repo, f.images, observability.DiscardLogger())

	report, err := rec.Sweep(ctx, SweepOptions{DryRun: true})
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, CountMismatch{PostID: post.ID, OwnerID: 4, Recorded: 1, Actual: 3}, report.Mismatches[0])
	stored, err := f.repo.GetForUpdate(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PhotoCount)

	report, err = rec.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	require.Len(t, report.Mismatches, 1)
	assert.True(t, report.Mismatches[0].Fixed)
	stored, err = f.repo.GetForUpdate(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.PhotoCount)

	report, err = rec.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.Equal(t, 1, report.PostsChecked)
}

func TestReconciler_Orphans(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	post := f.create(t, 4, 2)

	require.NoError(t, f.images.WriteAll(ctx, 9, 500, pngFiles(t, 1)))
	// a directory for a real post under the wrong owner is an orphan too
	require.NoError(t, f.images.WriteAll(ctx, 9, post.ID, pngFiles(t, 1)))

	rec := NewReconciler(f.repo, f.images, nil)

	report, err := rec.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	require.Len(t, report.Orphans, 2)
	for _, o := range report.Orphans {
		assert.False(t, o.Removed)
		assert.DirExists(t, o.Path)
	}

	report, err = rec.Sweep(ctx, SweepOptions{RemoveOrphans: true})
	require.NoError(t, err)
	require.Len(t, report.Orphans, 2)
	for _, o := range report.Orphans {
		assert.True(t, o.Removed)
		assert.NoDirExists(t, o.Path)
	}

	n, err := f.images.Count(4, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestReconciler_DryRunNeverRemovesOrphans(t *testing.T) {
	f := newPostFixture(t)
	ctx := context.Background()
	require.NoError(t, f.images.WriteAll(ctx, 9, 500, pngFiles(t, 1)))

	report, err := NewReconciler(f.repo, f.images, nil).Sweep(ctx, SweepOptions{DryRun: true, RemoveOrphans: true})
	require.NoError(t, err)
	require.Len(t, report.Orphans, 1)
	assert.False(t, report.Orphans[0].Removed)
	assert.DirExists(t, report.Orphans[0].Path)
}

func TestReconciler_PurgesStaleEntries(t *testing.T) {
	f := newPostFixture(t)
	stale := filepath.Join(f.images.Root(), ".trash", "left-behind")
	require.NoError(t, os.MkdirAll(stale, 0o750))
	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	report, err := NewReconciler(f.repo, f.images, nil).Sweep(context.Background(), SweepOptions{StaleAfter: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []string{stale}, report.StalePurged)
	assert.NoDirExists(t, stale)
}

func TestReconciler_RunPeriodicStopsOnCancel(t *testing.T) {
	images, err := imagestore.New(t.TempDir(), observability.DiscardLogger())
	require.NoError(t, err)
	rec := NewReconciler(nil, images, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.RunPeriodic(ctx, time.Hour, SweepOptions{}, func() bool { return false })
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not return after cancel")
	}
}
