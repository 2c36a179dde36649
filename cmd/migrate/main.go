// Command migrate manages the posts, comments and logs schema. Its status
// subcommand also checks the image tree against the posts table.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/config"
	"marketplace/internal/database"
	"marketplace/internal/imagestore"
	"marketplace/internal/middleware"
	"marketplace/internal/repository"
	"marketplace/internal/service"

	"gorm.io/gorm"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func usage() error {
	return fmt.Errorf("usage: migrate [-images=false] <up|auto|status|down> [version]")
}

func run() error {
	checkImages := flag.Bool("images", true, "With status, also report image-tree drift (read-only)")
	flag.Parse()
	if flag.NArg() < 1 {
		return usage()
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: false})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	ctx := context.Background()
	switch cmd := strings.ToLower(strings.TrimSpace(flag.Arg(0))); cmd {
	case "up":
		if err := database.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("sql migrations failed: %w", err)
		}
		log.Println("sql migrations applied")
	case "auto":
		cfg.DBSchemaMode = database.SchemaModeAuto
		if err := database.ApplySchema(ctx, db, cfg); err != nil {
			return fmt.Errorf("auto schema apply failed: %w", err)
		}
		log.Println("automigrations applied")
	case "status":
		status, err := database.GetSchemaStatus(ctx, db, cfg)
		if err != nil {
			return fmt.Errorf("schema status failed: %w", err)
		}
		var drift *service.ReconcileReport
		if *checkImages && len(status.MissingTables) == 0 {
			if drift, err = imageDrift(ctx, db, cfg); err != nil {
				return err
			}
		}
		writeStatus(os.Stdout, status, drift)
	case "down":
		if flag.NArg() < 2 {
			return fmt.Errorf("usage: migrate down <version>")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", flag.Arg(1), err)
		}
		if err := database.RollbackMigration(ctx, db, version); err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		log.Printf("rolled back migration %06d", version)
	default:
		return usage()
	}
	return nil
}

// imageDrift runs a dry-run sweep: nothing on disk or in the posts table changes.
func imageDrift(ctx context.Context, db *gorm.DB, cfg *config.Config) (*service.ReconcileReport, error) {
	images, err := imagestore.New(cfg.ImageStorageRoot, middleware.Logger)
	if err != nil {
		return nil, fmt.Errorf("image store: %w", err)
	}
	reconciler := service.NewReconciler(repository.NewPostRepository(db, 0), images, middleware.Logger)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	report, err := reconciler.Sweep(ctx, service.SweepOptions{DryRun: true, StaleAfter: service.DefaultStaleAfter})
	if err != nil {
		return nil, fmt.Errorf("image drift check failed: %w", err)
	}
	return report, nil
}

func writeStatus(w io.Writer, status *database.SchemaStatus, drift *service.ReconcileReport) {
	fmt.Fprintf(w, "mode=%s env=%s run_sql=%t run_auto=%t applied=%d pending=%d\n",
		status.Mode, status.Environment, status.RunSQL, status.RunAutoMigrate,
		len(status.Migrations.Applied), len(status.Migrations.Pending))
	for _, m := range status.Migrations.Pending {
		fmt.Fprintf(w, "pending: %s\n", m)
	}
	for _, v := range status.Migrations.Unknown {
		fmt.Fprintf(w, "unknown: %06d\n", v)
	}
	for _, table := range status.MissingTables {
		fmt.Fprintf(w, "missing table: %s\n", table)
	}

	if drift == nil {
		return
	}
	fmt.Fprintf(w, "images: checked=%d mismatches=%d orphans=%d stale=%d errors=%d\n",
		drift.PostsChecked, len(drift.Mismatches), len(drift.Orphans), len(drift.StalePurged), len(drift.Errors))
	for _, m := range drift.Mismatches {
		fmt.Fprintf(w, "photo count: post %d recorded=%d on_disk=%d\n", m.PostID, m.Recorded, m.Actual)
	}
	for _, o := range drift.Orphans {
		fmt.Fprintf(w, "orphan dir: %s\n", o.Path)
	}
	for _, e := range drift.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
}
