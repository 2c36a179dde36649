package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"marketplace/internal/middleware"

	"gorm.io/gorm"
)

// MigrationStore records which migrations have been applied.
type MigrationStore interface {
	GetAppliedMigrations(ctx context.Context) ([]int, error)
	ApplyMigration(ctx context.Context, m Migration) error
	RemoveMigration(ctx context.Context, m Migration) error
}

// MigrationLog is one applied migration.
type MigrationLog struct {
	Version   int       `gorm:"primaryKey;autoIncrement:false"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"autoCreateTime;index"`
}

func (MigrationLog) TableName() string {
	return "migration_logs"
}

type migrationStore struct {
	db *gorm.DB
}

func NewMigrationStore(db *gorm.DB) MigrationStore {
	return &migrationStore{db: db}
}

func (s *migrationStore) GetAppliedMigrations(ctx context.Context) ([]int, error) {
	var versions []int
	err := s.db.WithContext(ctx).Model(&MigrationLog{}).Order("version ASC").Pluck("version", &versions).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || isMissingTableError(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return versions, nil
}

// isMissingTableError matches postgres and sqlite wording.
func isMissingTableError(err error) bool {
	msg := err.Error()
	return (strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist")) ||
		strings.Contains(msg, "no such table")
}

// ApplyMigration runs the up script and records it in one transaction, so a
// failed script leaves no log row behind.
func (s *migrationStore) ApplyMigration(ctx context.Context, m Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.UpScript).Error; err != nil {
			return fmt.Errorf("apply migration %s: %w", m, err)
		}
		if err := tx.Create(&MigrationLog{Version: m.Version, Name: m.Name}).Error; err != nil {
			return fmt.Errorf("record migration %s: %w", m, err)
		}
		return nil
	})
}

func (s *migrationStore) RemoveMigration(ctx context.Context, m Migration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(m.DownScript).Error; err != nil {
			return fmt.Errorf("roll back migration %s: %w", m, err)
		}
		if err := tx.Where("version = ?", m.Version).Delete(&MigrationLog{}).Error; err != nil {
			return fmt.Errorf("remove migration record %s: %w", m, err)
		}
		return nil
	})
}

// MigrationRunner applies one ordered migration set against a database.
type MigrationRunner struct {
	db    *gorm.DB
	set   []Migration
	store MigrationStore
}

func NewMigrationRunner(db *gorm.DB, set []Migration) *MigrationRunner {
	return &MigrationRunner{db: db, set: set, store: NewMigrationStore(db)}
}

// MigrationState splits the set into applied and pending, plus versions the
// database has applied that the set does not know.
type MigrationState struct {
	Applied []Migration
	Pending []Migration
	Unknown []int
}

func (r *MigrationRunner) ensureLogTable(ctx context.Context) error {
	migrator := r.db.WithContext(ctx).Migrator()
	if migrator.HasTable(&MigrationLog{}) {
		return nil
	}
	if err := migrator.CreateTable(&MigrationLog{}); err != nil {
		return fmt.Errorf("create migration_logs: %w", err)
	}
	return nil
}

// State reads the applied versions without changing anything.
func (r *MigrationRunner) State(ctx context.Context) (*MigrationState, error) {
	applied, err := r.store.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[int]bool, len(applied))
	for _, v := range applied {
		appliedSet[v] = true
	}

	state := &MigrationState{}
	known := make(map[int]bool, len(r.set))
	for _, m := range r.set {
		known[m.Version] = true
		if appliedSet[m.Version] {
			state.Applied = append(state.Applied, m)
		} else {
			state.Pending = append(state.Pending, m)
		}
	}
	for _, v := range applied {
		if !known[v] {
			state.Unknown = append(state.Unknown, v)
		}
	}
	sort.Ints(state.Unknown)
	return state, nil
}

// Up applies every pending migration in version order and returns what it ran.
func (r *MigrationRunner) Up(ctx context.Context) ([]Migration, error) {
	if err := r.ensureLogTable(ctx); err != nil {
		return nil, err
	}
	state, err := r.State(ctx)
	if err != nil {
		return nil, err
	}
	if err := unknownVersionsError(state.Unknown); err != nil {
		return nil, err
	}

	var ran []Migration
	for _, m := range state.Pending {
		middleware.Logger.InfoContext(ctx, "applying migration", slog.String("migration", m.String()), slog.String("table", m.Table))
		if err := r.store.ApplyMigration(ctx, m); err != nil {
			return ran, err
		}
		ran = append(ran, m)
	}
	if len(ran) == 0 {
		middleware.Logger.DebugContext(ctx, "schema up to date", slog.Int("applied", len(state.Applied)))
	}
	return ran, nil
}

// Down rolls back version, which must be the newest applied migration: later
// tables reference earlier ones.
func (r *MigrationRunner) Down(ctx context.Context, version int) error {
	state, err := r.State(ctx)
	if err != nil {
		return err
	}
	if len(state.Applied) == 0 {
		return fmt.Errorf("migration %06d has not been applied", version)
	}
	latest := state.Applied[len(state.Applied)-1]
	if latest.Version != version {
		for _, m := range state.Applied {
			if m.Version == version {
				return fmt.Errorf("migration %s is not the newest applied; roll back %s first", m, latest)
			}
		}
		return fmt.Errorf("migration %06d has not been applied", version)
	}

	middleware.Logger.InfoContext(ctx, "rolling back migration", slog.String("migration", latest.String()))
	return r.store.RemoveMigration(ctx, latest)
}

func unknownVersionsError(unknown []int) error {
	if len(unknown) == 0 {
		return nil
	}
	parts := make([]string, 0, len(unknown))
	for _, version := range unknown {
		parts = append(parts, fmt.Sprintf("%06d", version))
	}
	return fmt.Errorf(
		"migration_logs has versions this build does not know: %s (the database is newer than the binary)",
		strings.Join(parts, ", "),
	)
}

// RunMigrations applies the embedded posts, comments and logs migrations.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	if err := checkModelCoverage(migrations, PersistentModels()); err != nil {
		return err
	}
	_, err := NewMigrationRunner(db, migrations).Up(ctx)
	return err
}

// RollbackMigration reverts the newest embedded migration, named by version.
func RollbackMigration(ctx context.Context, db *gorm.DB, version int) error {
	if GetMigrationByVersion(version) == nil {
		return fmt.Errorf("migration version %d not found", version)
	}
	return NewMigrationRunner(db, migrations).Down(ctx, version)
}
