package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace/internal/imagestore"
	"marketplace/internal/models"
	"marketplace/internal/observability"
	"marketplace/internal/repository"
)

// DefaultStaleAfter is the age after which staging and trash entries are purged.
const DefaultStaleAfter = time.Hour

// Reconciliation kinds, used as metric labels.
const (
	FixPhotoCount = "photo_count"
	FixOrphanDir  = "orphan_dir"
	FixStaleEntry = "stale_entry"
)

type SweepOptions struct {
	DryRun        bool
	RemoveOrphans bool
	StaleAfter    time.Duration
}

// CountMismatch is a post whose photoCount disagrees with its directory.
type CountMismatch struct {
	PostID   uint `json:"postId"`
	OwnerID  uint `json:"ownerId"`
	Recorded int  `json:"recorded"`
	Actual   int  `json:"actual"`
	Fixed    bool `json:"fixed"`
}

// OrphanDir is a post directory with no matching row.
type OrphanDir struct {
	OwnerID uint   `json:"ownerId"`
	PostID  uint   `json:"postId"`
	Path    string `json:"path"`
	Removed bool   `json:"removed"`
}

type ReconcileReport struct {
	StartedAt    time.Time       `json:"startedAt"`
	Duration     time.Duration   `json:"duration"`
	DryRun       bool            `json:"dryRun"`
	PostsChecked int             `json:"postsChecked"`
	Mismatches   []CountMismatch `json:"mismatches"`
	Orphans      []OrphanDir     `json:"orphans"`
	StalePurged  []string        `json:"stalePurged"`
	Errors       []string        `json:"errors"`
}

// Clean reports whether the sweep found nothing to fix.
func (r *ReconcileReport) Clean() bool {
	return len(r.Mismatches) == 0 && len(r.Orphans) == 0 && len(r.StalePurged) == 0 && len(r.Errors) == 0
}

// Reconciler compares post rows against the image tree and repairs drift.
type Reconciler struct {
	posts  repository.PostRepository
	images *imagestore.Store
	logger *slog.Logger
}

func NewReconciler(posts repository.PostRepository, images *imagestore.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{posts: posts, images: images, logger: logger}
}

// Sweep runs one reconciliation pass. Per-item failures are collected in the
// report; only a failure to enumerate rows or directories aborts the pass.
func (r *Reconciler) Sweep(ctx context.Context, opts SweepOptions) (*ReconcileReport, error) {
	span, ctx := observability.NewSpan(ctx, "Reconciler.Sweep")
	defer span.End()

	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	report := &ReconcileReport{
		StartedAt:   time.Now().UTC(),
		DryRun:      opts.DryRun,
		Mismatches:  []CountMismatch{},
		Orphans:     []OrphanDir{},
		StalePurged: []string{},
		Errors:      []string{},
	}

	posts, err := r.posts.ListAll(ctx)
	if err != nil {
		span.SetError(err)
		return nil, fmt.Errorf("list posts: %w", err)
	}
	owners := make(map[uint]uint, len(posts))
	for _, p := range posts {
		owners[p.ID] = p.UserID
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.PostsChecked++
		r.checkCount(ctx, p, opts, report)
	}

	dirs, err := r.images.ListPostDirs()
	if err != nil {
		span.SetError(err)
		return report, fmt.Errorf("list image dirs: %w", err)
	}
	for _, d := range dirs {
		if owner, ok := owners[d.PostID]; ok && owner == d.OwnerID {
			continue
		}
		r.checkOrphan(ctx, d, opts, report)
	}

	purged, err := r.images.PurgeStale(opts.StaleAfter, opts.DryRun)
	report.StalePurged = append(report.StalePurged, purged...)
	observability.ReconcileFixes.WithLabelValues(FixStaleEntry).Add(float64(len(purged)))
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	report.Duration = time.Since(report.StartedAt)
	r.logger.InfoContext(ctx, "reconciliation sweep finished",
		slog.Bool("dry_run", opts.DryRun),
		slog.Int("posts_checked", report.PostsChecked),
		slog.Int("mismatches", len(report.Mismatches)),
		slog.Int("orphans", len(report.Orphans)),
		slog.Int("stale_purged", len(report.StalePurged)),
		slog.Int("errors", len(report.Errors)),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func (r *Reconciler) checkCount(ctx context.Context, p *models.Post, opts SweepOptions, report *ReconcileReport) {
	unlock := r.images.Locks().Lock(p.ID)
	defer unlock()

	actual, err := r.images.CountLocked(p.UserID, p.ID)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("post %d: %v", p.ID, err))
		return
	}
	if actual == p.PhotoCount {
		return
	}

	m := CountMismatch{PostID: p.ID, OwnerID: p.UserID, Recorded: p.PhotoCount, Actual: actual}
	if !opts.DryRun {
		if err := r.posts.SetPhotoCount(ctx, p.ID, actual); err != nil {
			if !models.HasCode(err, models.CodeNotFound) {
				report.Errors = append(report.Errors, fmt.Sprintf("post %d: %v", p.ID, err))
			}
			return
		}
		m.Fixed = true
	}
	observability.ReconcileFixes.WithLabelValues(FixPhotoCount).Inc()
	r.logger.WarnContext(ctx, "photo count mismatch",
		slog.Uint64("post_id", uint64(p.ID)),
		slog.Uint64("owner_id", uint64(p.UserID)),
		slog.Int("recorded", p.PhotoCount),
		slog.Int("actual", actual),
		slog.Bool("fixed", m.Fixed),
	)
	report.Mismatches = append(report.Mismatches, m)
}

// checkOrphan re-reads the row under the post lock so that a create which
// placed its directory but had not yet committed is not mistaken for an orphan.
func (r *Reconciler) checkOrphan(ctx context.Context, d imagestore.PostDir, opts SweepOptions, report *ReconcileReport) {
	unlock := r.images.Locks().Lock(d.PostID)
	defer unlock()

	post, err := r.posts.GetForUpdate(ctx, d.PostID)
	switch {
	case err == nil && post.UserID == d.OwnerID:
		return
	case err != nil && !models.HasCode(err, models.CodeNotFound):
		report.Errors = append(report.Errors, fmt.Sprintf("dir %s: %v", d.Path, err))
		return
	}

	o := OrphanDir{OwnerID: d.OwnerID, PostID: d.PostID, Path: d.Path}
	if opts.RemoveOrphans && !opts.DryRun {
		if err := r.removeDir(d); err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("dir %s: %v", d.Path, err))
		} else {
			o.Removed = true
		}
	}
	observability.ReconcileFixes.WithLabelValues(FixOrphanDir).Inc()
	r.logger.WarnContext(ctx, "orphaned image directory",
		slog.Uint64("owner_id", uint64(d.OwnerID)),
		slog.Uint64("post_id", uint64(d.PostID)),
		slog.String("path", d.Path),
		slog.Bool("removed", o.Removed),
	)
	report.Orphans = append(report.Orphans, o)
}

func (r *Reconciler) removeDir(d imagestore.PostDir) error {
	repl, err := r.images.Replace(nil, d.OwnerID, d.PostID)
	if err != nil {
		return err
	}
	if _, err := repl.Finish(); err != nil {
		return errors.Join(errors.New("remove orphan from trash"), err)
	}
	return nil
}

// RunPeriodic sweeps every interval until ctx is done. enabled is consulted
// before each pass.
func (r *Reconciler) RunPeriodic(ctx context.Context, interval time.Duration, opts SweepOptions, enabled func() bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if enabled != nil && !enabled() {
				continue
			}
			fields := map[string]any{"dry_run": opts.DryRun}
			observability.LogAsyncOperationStart(ctx, "reconcile_sweep", fields)
			report, err := r.Sweep(ctx, opts)
			if err != nil {
				observability.LogAsyncOperationError(ctx, "reconcile_sweep", err, fields)
				continue
			}
			fields["mismatches"] = len(report.Mismatches)
			fields["orphans"] = len(report.Orphans)
			observability.LogAsyncOperationEnd(ctx, "reconcile_sweep", fields)
		}
	}
}
