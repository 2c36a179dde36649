package imagestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"marketplace/internal/observability"
	"marketplace/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), observability.DiscardLogger())
	require.NoError(t, err)
	return s
}

func files(names ...string) []File {
	out := make([]File, len(names))
	for i, n := range names {
		out[i] = File{Name: n, Data: []byte("data-" + n)}
	}
	return out
}

func TestValidateExtension(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"photo.jpg", ".jpg", false},
		{"photo.JPEG", ".JPEG", false},
		{"noext", "", false},
		{"archive.tar.gz", ".gz", false},
		{"evil.j/pg", "", false},
		{"evil.a b", "", true},
		{"trailing.", "", true},
		{"long.abcdefghijk", "", true},
		{"dots..", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ValidateExtension(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidExtension)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentTypeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "image/png", ContentTypeFor("1.png"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("2.JPG"))
	assert.Equal(t, "image/jpeg", ContentTypeFor("3.jpeg"))
	assert.Equal(t, "image/webp", ContentTypeFor("4.webp"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("5"))
}

func TestWriteAll_LayoutAndReads(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.WriteAll(context.Background(), 3, 12, files("a.png", "b.jpg", "c")))

	dir, err := s.Dir(3, 12)
	require.NoError(t, err)
	for _, name := range []string{"1.png", "2.jpg", "3"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	n, err := s.Count(3, 12)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	thumb, err := s.ReadThumbnail(3, 12)
	require.NoError(t, err)
	assert.Equal(t, []byte("data-a.png"), thumb.Data)
	assert.Equal(t, "image/png", thumb.ContentType)

	second, err := s.ReadByIndex(3, 12, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("data-b.jpg"), second.Data)
	assert.Equal(t, "image/jpeg", second.ContentType)

	_, err = s.ReadByIndex(3, 12, 4)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ReadByIndex(3, 12, 0)
	assert.ErrorIs(t, err, ErrInvalidIndex)

	assert.Equal(t, 0, s.Locks().Len())
}

func TestWriteAll_ReplacesPreviousSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAll(ctx, 1, 1, files("a.jpg", "b.jpg", "c.jpg")))
	require.NoError(t, s.WriteAll(ctx, 1, 1, []File{{Name: "z.png", Data: []byte("new")}}))

	n, err := s.Count(1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.ReadByIndex(1, 1, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	img, err := s.ReadByIndex(1, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), img.Data)

	entries, err := os.ReadDir(filepath.Join(s.Root(), trashDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReadThumbnail_SkipsUnrecognizedExtensions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.WriteAll(context.Background(), 2, 5, files("a.webp", "b.gif", "c.JPEG")))

	thumb, err := s.ReadThumbnail(2, 5)
	require.NoError(t, err)
	assert.Equal(t, "3.JPEG", thumb.Name)

	require.NoError(t, s.WriteAll(context.Background(), 2, 6, files("a.webp")))
	_, err = s.ReadThumbnail(2, 6)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.ReadThumbnail(2, 7)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadByIndex_TenFilesKeepUploadOrder(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	in := make([]File, 10)
	for i := range in {
		in[i] = File{Name: "p.jpg", Data: []byte(fmt.Sprintf("photo-%d", i+1))}
	}
	require.NoError(t, s.WriteAll(context.Background(), 4, 40, in))

	for i := 1; i <= 10; i++ {
		img, err := s.ReadByIndex(4, 40, i)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("photo-%d", i), string(img.Data))
	}
}

func TestSortByIndex(t *testing.T) {
	t.Parallel()

	names := []string{"10.jpg", "2.png", "readme", "1.jpg", "a.png"}
	sortByIndex(names)
	assert.Equal(t, []string{"1.jpg", "2.png", "10.jpg", "a.png", "readme"}, names)
}

func TestStage_RejectsBadExtensionWithoutWriting(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Stage(context.Background(), files("ok.jpg", "bad.a b"))
	assert.ErrorIs(t, err, ErrInvalidExtension)

	_, statErr := os.Stat(filepath.Join(s.Root(), stagingDir))
	assert.True(t, os.IsNotExist(statErr))
}

func TestStage_CanceledContextCleansUp(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Stage(ctx, files("a.jpg"))
	assert.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(filepath.Join(s.Root(), stagingDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestReplace_RevertRestoresPreviousSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAll(ctx, 9, 90, files("old.jpg", "old2.jpg")))

	st, err := s.Stage(ctx, files("new.png"))
	require.NoError(t, err)

	unlock := s.Locks().Lock(90)
	r, err := s.Replace(st, 9, 90)
	require.NoError(t, err)
	n, err := s.CountLocked(9, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, r.Revert())
	unlock()

	n, err = s.Count(9, 90)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	img, err := s.ReadByIndex(9, 90, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("data-old.jpg"), img.Data)
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.WriteAll(context.Background(), 1, 2, files("a.jpg")))
	require.NoError(t, s.DeleteAll(1, 2))

	_, err := s.ReadThumbnail(1, 2)
	assert.ErrorIs(t, err, ErrNotFound)

	// absent directory is a no-op
	assert.NoError(t, s.DeleteAll(1, 2))
}

func TestDir_RejectsZeroIDs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Dir(0, 1)
	assert.ErrorIs(t, err, ErrInvalidPath)
	_, err = s.Dir(1, 0)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestListPostDirs_SkipsInternalDirs(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAll(ctx, 1, 10, files("a.jpg")))
	require.NoError(t, s.WriteAll(ctx, 2, 20, files("b.jpg")))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), stagingDir, "leftover"), 0o750))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root(), "notes"), 0o750))

	dirs, err := s.ListPostDirs()
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	got := map[uint]uint{}
	for _, d := range dirs {
		got[d.PostID] = d.OwnerID
	}
	assert.Equal(t, map[uint]uint{10: 1, 20: 2}, got)
}

func TestPurgeStale(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	old := filepath.Join(s.Root(), trashDir, "old")
	fresh := filepath.Join(s.Root(), stagingDir, "fresh")
	require.NoError(t, os.MkdirAll(old, 0o750))
	require.NoError(t, os.MkdirAll(fresh, 0o750))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	purged, err := s.PurgeStale(time.Hour, true)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, purged)
	assert.DirExists(t, old)

	purged, err = s.PurgeStale(time.Hour, false)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, purged)
	assert.NoDirExists(t, old)
	assert.DirExists(t, fresh)
}

func TestPurgeStale_KeepsTrashOfPendingReplace(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteAll(ctx, 7, 12, files("a.jpg", "b.jpg")))
	dir, err := s.Dir(7, 12)
	require.NoError(t, err)
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(dir, past, past))

	st, err := s.Stage(ctx, files("c.png"))
	require.NoError(t, err)
	unlock := s.Locks().Lock(12)
	r, err := s.Replace(st, 7, 12)
	require.NoError(t, err)

	purged, err := s.PurgeStale(time.Hour, false)
	require.NoError(t, err)
	assert.Empty(t, purged)

	require.NoError(t, r.Revert())
	unlock()

	n, err := s.Count(7, 12)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	img, err := s.ReadByIndex(7, 12, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte("data-b.jpg"), img.Data)
}

func TestConcurrentWriteAll_LeavesOneCompleteSet(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 1; w <= 8; w++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			set := make([]File, n)
			for i := range set {
				set[i] = File{Name: "x.jpg", Data: []byte(fmt.Sprintf("w%d", n))}
			}
			assert.NoError(t, s.WriteAll(ctx, 5, 50, set))
		}(w)
	}
	wg.Wait()

	n, err := s.Count(5, 50)
	require.NoError(t, err)
	first, err := s.ReadByIndex(5, 50, 1)
	require.NoError(t, err)
	for i := 2; i <= n; i++ {
		img, err := s.ReadByIndex(5, 50, i)
		require.NoError(t, err)
		assert.Equal(t, first.Data, img.Data, "mixed sets in one directory")
	}
	assert.Equal(t, fmt.Sprintf("w%d", n), string(first.Data))
	assert.Equal(t, 0, s.Locks().Len())
}

func TestVerify(t *testing.T) {
	t.Parallel()

	for name, data := range map[string][]byte{
		"png":  testutil.TinyPNG(t, 2, 2),
		"jpeg": testutil.TinyJPEG(t, 2, 2),
		"webp": testutil.TinyWebP(t, 2, 2),
	} {
		format, err := Verify(data)
		require.NoError(t, err, name)
		assert.Equal(t, name, format)
	}

	_, err := Verify([]byte("definitely not an image"))
	assert.ErrorIs(t, err, ErrUndecodable)
	_, err = Verify(nil)
	assert.ErrorIs(t, err, ErrUndecodable)
}
