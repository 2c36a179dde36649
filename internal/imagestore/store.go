// Package imagestore maps (owner, post) pairs onto directories of numbered
// photo files and manages their lifecycle on the local filesystem.
//
// Layout: {root}/{ownerID}/{postID}/{index}{ext}, index starting at 1.
// New sets are written into {root}/.staging/<uuid> and renamed into place;
// replaced or deleted sets are renamed into {root}/.trash/<uuid> before removal.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/observability"

	"github.com/google/uuid"
)

const (
	stagingDir = ".staging"
	trashDir   = ".trash"
)

var (
	// ErrNotFound is returned when a directory, thumbnail or index is absent.
	ErrNotFound = errors.New("image not found")
	// ErrInvalidExtension is returned for upload names whose extension could escape the post directory.
	ErrInvalidExtension = errors.New("invalid file extension")
	// ErrInvalidIndex is returned for indices below 1.
	ErrInvalidIndex = errors.New("invalid image index")
	// ErrInvalidPath is returned when an id pair does not resolve under the root.
	ErrInvalidPath = errors.New("invalid image path")
)

var extPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// File is one uploaded photo.
type File struct {
	Name string
	Data []byte
}

// Image is a photo read back from the store.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store owns the image tree below root.
type Store struct {
	root   string
	locks  *Locker
	logger *slog.Logger
}

// New creates a Store rooted at root. A nil logger falls back to the global one.
func New(root string, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("image storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve image root: %w", err)
	}
	if logger == nil {
		logger = observability.GlobalLogger
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create image root: %w", err)
	}
	return &Store{root: abs, locks: NewLocker(), logger: logger}, nil
}

// Root returns the absolute root directory.
func (s *Store) Root() string { return s.root }

// Locks exposes the per-post lock registry to callers that span a database
// transaction around a directory change.
func (s *Store) Locks() *Locker { return s.locks }

// ValidateExtension returns the verbatim extension of name, or
// ErrInvalidExtension when it is not a short alphanumeric suffix.
func ValidateExtension(name string) (string, error) {
	ext := filepath.Ext(name)
	if ext == "" {
		return "", nil
	}
	if !extPattern.MatchString(ext) {
		return "", ErrInvalidExtension
	}
	return ext, nil
}

// ContentTypeFor maps a stored file name onto the response content type.
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".bmp":
		return "image/bmp"
	case ".tif", ".tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}

// Dir returns the directory holding the photos of a post.
func (s *Store) Dir(ownerID, postID uint) (string, error) {
	if ownerID == 0 || postID == 0 {
		return "", ErrInvalidPath
	}
	dir := filepath.Join(s.root, strconv.FormatUint(uint64(ownerID), 10), strconv.FormatUint(uint64(postID), 10))
	if err := s.checkUnderRoot(dir); err != nil {
		return "", err
	}
	return dir, nil
}

func (s *Store) checkUnderRoot(path string) error {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return ErrInvalidPath
	}
	return nil
}

// Staged is a complete photo set waiting to be renamed into a post directory.
type Staged struct {
	dir   string
	count int
}

// Count returns the number of staged files.
func (st *Staged) Count() int {
	if st == nil {
		return 0
	}
	return st.count
}

// Stage writes files into a fresh staging directory as 1{ext}, 2{ext}, ...
// Nothing under a post directory is touched. On error the staging directory is removed.
func (s *Store) Stage(ctx context.Context, files []File) (st *Staged, err error) {
	defer func() { observability.ObserveImageOp("stage", err) }()

	exts := make([]string, len(files))
	for i, f := range files {
		ext, extErr := ValidateExtension(f.Name)
		if extErr != nil {
			return nil, extErr
		}
		exts[i] = ext
	}

	dir := filepath.Join(s.root, stagingDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	st = &Staged{dir: dir}

	for i, f := range files {
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.Discard(st)
			return nil, ctxErr
		}
		path := filepath.Join(dir, strconv.Itoa(i+1)+exts[i])
		if err := os.WriteFile(path, f.Data, 0o600); err != nil {
			s.Discard(st)
			return nil, fmt.Errorf("write staged image %d: %w", i+1, err)
		}
		observability.ImageBytesWritten.Add(float64(len(f.Data)))
		st.count++
	}
	return st, nil
}

// Discard removes a staging directory that was never renamed into place.
func (s *Store) Discard(st *Staged) {
	if st == nil || st.dir == "" {
		return
	}
	if err := os.RemoveAll(st.dir); err != nil {
		s.logger.Error("failed to clean staging directory",
			slog.String("path", st.dir),
			slog.String("error", err.Error()),
		)
	}
	st.dir = ""
}

// Replacement is an applied directory swap for one post. The previous set,
// if any, sits in the trash until Finish or Revert.
type Replacement struct {
	store   *Store
	final   string
	trashed string
	placed  bool
}

// Replace moves the current directory of a post into the trash and renames
// the staged set into its place. A nil or empty staged set leaves the post
// with no directory. The caller must hold the post's write lock.
func (s *Store) Replace(st *Staged, ownerID, postID uint) (r *Replacement, err error) {
	defer func() { observability.ObserveImageOp("replace", err) }()

	final, err := s.Dir(ownerID, postID)
	if err != nil {
		return nil, err
	}
	r = &Replacement{store: s, final: final}

	if _, statErr := os.Stat(final); statErr == nil {
		trashed := filepath.Join(s.root, trashDir, uuid.NewString())
		if err := os.MkdirAll(filepath.Dir(trashed), 0o750); err != nil {
			return nil, fmt.Errorf("create trash dir: %w", err)
		}
		if err := os.Rename(final, trashed); err != nil {
			return nil, fmt.Errorf("move images to trash: %w", err)
		}
		r.trashed = trashed
		// A rename keeps the upload-time mtime; PurgeStale must see the trash entry as new.
		now := time.Now()
		if err := os.Chtimes(trashed, now, now); err != nil {
			r.restoreTrash()
			return nil, fmt.Errorf("stamp trash dir: %w", err)
		}
	} else if !errors.Is(statErr, os.ErrNotExist) {
		return nil, fmt.Errorf("stat image dir: %w", statErr)
	}

	if st.Count() == 0 {
		s.Discard(st)
		return r, nil
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o750); err != nil {
		r.restoreTrash()
		return nil, fmt.Errorf("create owner dir: %w", err)
	}
	if err := os.Rename(st.dir, final); err != nil {
		r.restoreTrash()
		return nil, fmt.Errorf("move staged images into place: %w", err)
	}
	st.dir = ""
	r.placed = true
	return r, nil
}

func (r *Replacement) restoreTrash() {
	if r.trashed == "" {
		return
	}
	if err := os.Rename(r.trashed, r.final); err != nil {
		r.store.logger.Error("failed to restore images from trash",
			slog.String("path", r.final),
			slog.String("trash", r.trashed),
			slog.String("error", err.Error()),
		)
		return
	}
	r.trashed = ""
}

// Revert undoes Replace: the new set is removed and the previous set is
// renamed back.
func (r *Replacement) Revert() error {
	if r == nil {
		return nil
	}
	if r.placed {
		if err := os.RemoveAll(r.final); err != nil {
			return fmt.Errorf("remove replaced images: %w", err)
		}
		r.placed = false
	}
	if r.trashed != "" {
		if err := os.Rename(r.trashed, r.final); err != nil {
			return fmt.Errorf("restore images from trash: %w", err)
		}
		r.trashed = ""
	}
	return nil
}

// Finish removes the previous set from the trash. It returns the trash path
// on failure so callers can report the orphan.
func (r *Replacement) Finish() (string, error) {
	if r == nil || r.trashed == "" {
		return "", nil
	}
	trashed := r.trashed
	if err := os.RemoveAll(trashed); err != nil {
		return trashed, fmt.Errorf("remove trashed images: %w", err)
	}
	r.trashed = ""
	return "", nil
}

// WriteAll replaces every photo of a post with files, numbered in order. It is
// the standalone form of Stage, Replace and Finish for callers that have no
// row to commit alongside the swap.
func (s *Store) WriteAll(ctx context.Context, ownerID, postID uint, files []File) error {
	st, err := s.Stage(ctx, files)
	if err != nil {
		return err
	}
	defer s.Discard(st)

	unlock := s.locks.Lock(postID)
	defer unlock()

	r, err := s.Replace(st, ownerID, postID)
	if err != nil {
		return err
	}
	if trashed, err := r.Finish(); err != nil {
		s.LogOrphan(ownerID, postID, trashed, err)
	}
	return nil
}

// DeleteAll removes the directory of a post. It is a no-op when absent.
func (s *Store) DeleteAll(ownerID, postID uint) error {
	unlock := s.locks.Lock(postID)
	defer unlock()

	r, err := s.Replace(nil, ownerID, postID)
	if err != nil {
		return err
	}
	if trashed, err := r.Finish(); err != nil {
		s.LogOrphan(ownerID, postID, trashed, err)
		return err
	}
	return nil
}

// LogOrphan records a directory that could not be removed.
func (s *Store) LogOrphan(ownerID, postID uint, path string, err error) {
	observability.OrphanedDirs.Inc()
	s.logger.Error("orphaned image directory",
		slog.Uint64("owner_id", uint64(ownerID)),
		slog.Uint64("post_id", uint64(postID)),
		slog.String("path", path),
		slog.String("error", err.Error()),
	)
}

// listFiles returns the regular files of dir in index order.
func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sortByIndex(names)
	return names, nil
}

// sortByIndex orders numeric stems numerically ("2.jpg" before "10.jpg"),
// followed by any other names in lexical order.
func sortByIndex(names []string) {
	stem := func(name string) (int, bool) {
		n, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
		return n, err == nil
	}
	sort.SliceStable(names, func(i, j int) bool {
		a, aNum := stem(names[i])
		b, bNum := stem(names[j])
		switch {
		case aNum && bNum && a != b:
			return a < b
		case aNum != bNum:
			return aNum
		default:
			return names[i] < names[j]
		}
	})
}

func (s *Store) readFile(dir, name string) (Image, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Image{}, ErrNotFound
		}
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	return Image{Name: name, ContentType: ContentTypeFor(name), Data: data}, nil
}

// ReadThumbnail returns the first .jpg, .jpeg or .png file of a post.
func (s *Store) ReadThumbnail(ownerID, postID uint) (img Image, err error) {
	defer func() { observability.ObserveImageOp("read_thumbnail", ignoreNotFound(err)) }()

	dir, err := s.Dir(ownerID, postID)
	if err != nil {
		return Image{}, ErrNotFound
	}
	unlock := s.locks.RLock(postID)
	defer unlock()

	names, err := listFiles(dir)
	if err != nil {
		return Image{}, fmt.Errorf("list images: %w", err)
	}
	for _, name := range names {
		switch strings.ToLower(filepath.Ext(name)) {
		case ".jpg", ".jpeg", ".png":
			return s.readFile(dir, name)
		}
	}
	return Image{}, ErrNotFound
}

// ReadByIndex returns the photo at 1-based position index.
func (s *Store) ReadByIndex(ownerID, postID uint, index int) (img Image, err error) {
	defer func() { observability.ObserveImageOp("read_index", ignoreNotFound(err)) }()

	if index < 1 {
		return Image{}, ErrInvalidIndex
	}
	dir, err := s.Dir(ownerID, postID)
	if err != nil {
		return Image{}, ErrNotFound
	}
	unlock := s.locks.RLock(postID)
	defer unlock()

	names, err := listFiles(dir)
	if err != nil {
		return Image{}, fmt.Errorf("list images: %w", err)
	}
	if index > len(names) {
		return Image{}, ErrNotFound
	}
	return s.readFile(dir, names[index-1])
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidIndex) {
		return nil
	}
	return err
}

// Count returns how many files the post directory holds; zero when absent.
func (s *Store) Count(ownerID, postID uint) (int, error) {
	dir, err := s.Dir(ownerID, postID)
	if err != nil {
		return 0, err
	}
	unlock := s.locks.RLock(postID)
	defer unlock()

	return countDir(dir)
}

// CountLocked is Count for callers that already hold the post's write lock.
func (s *Store) CountLocked(ownerID, postID uint) (int, error) {
	dir, err := s.Dir(ownerID, postID)
	if err != nil {
		return 0, err
	}
	return countDir(dir)
}

func countDir(dir string) (int, error) {
	names, err := listFiles(dir)
	if err != nil {
		return 0, fmt.Errorf("list images: %w", err)
	}
	return len(names), nil
}

// PostDir is one {owner}/{post} directory found on disk.
type PostDir struct {
	OwnerID uint
	PostID  uint
	Path    string
}

// ListPostDirs walks the two numeric levels of the tree. Staging, trash and
// non-numeric entries are skipped.
func (s *Store) ListPostDirs() ([]PostDir, error) {
	owners, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read image root: %w", err)
	}
	var out []PostDir
	for _, o := range owners {
		ownerID, ok := parseID(o)
		if !ok {
			continue
		}
		ownerPath := filepath.Join(s.root, o.Name())
		posts, err := os.ReadDir(ownerPath)
		if err != nil {
			return nil, fmt.Errorf("read owner dir %s: %w", ownerPath, err)
		}
		for _, p := range posts {
			postID, ok := parseID(p)
			if !ok {
				continue
			}
			out = append(out, PostDir{OwnerID: ownerID, PostID: postID, Path: filepath.Join(ownerPath, p.Name())})
		}
	}
	return out, nil
}

func parseID(e os.DirEntry) (uint, bool) {
	if !e.IsDir() {
		return 0, false
	}
	n, err := strconv.ParseUint(e.Name(), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint(n), true
}

// PurgeStale removes staging and trash entries older than maxAge and returns
// their paths. With dryRun set nothing is removed.
func (s *Store) PurgeStale(maxAge time.Duration, dryRun bool) ([]string, error) {
	cutoff := time.Now().Add(-maxAge)
	var purged []string
	for _, sub := range []string{stagingDir, trashDir} {
		base := filepath.Join(s.root, sub)
		entries, err := os.ReadDir(base)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return purged, fmt.Errorf("read %s: %w", base, err)
		}
		for _, e := range entries {
			info, err := e.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(base, e.Name())
			if !dryRun {
				if err := os.RemoveAll(path); err != nil {
					return purged, fmt.Errorf("purge %s: %w", path, err)
				}
			}
			purged = append(purged, path)
		}
	}
	return purged, nil
}
