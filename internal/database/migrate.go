package database

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"

	"marketplace/internal/middleware"

	"gorm.io/gorm/schema"
)

// Migration is one versioned pair of SQL scripts. Table names the table the
// up script creates, taken from a create_<table> name.
type Migration struct {
	Version    int
	Name       string
	Table      string
	UpScript   string
	DownScript string
}

func (m Migration) String() string {
	return fmt.Sprintf("%06d_%s", m.Version, m.Name)
}

//go:embed migrations/*.sql
var migrationFS embed.FS

var migrations []Migration

func init() {
	loaded, err := LoadMigrations(migrationFS, "migrations")
	if err != nil {
		middleware.Logger.Error("embedded migrations are invalid", slog.String("error", err.Error()))
		return
	}
	migrations = loaded
}

// LoadMigrations reads NNNNNN_name.up.sql / .down.sql pairs from dir. Every
// up script needs its down script and versions must be unique.
func LoadMigrations(fsys fs.FS, dir string) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var out []Migration
	seen := make(map[int]string)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		base := strings.TrimSuffix(name, ".up.sql")
		prefix, label, ok := strings.Cut(base, "_")
		if !ok || label == "" {
			return nil, fmt.Errorf("migration %s: want NNNNNN_name.up.sql", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migration %s: bad version %q", name, prefix)
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration %s: version %06d already used by %s", name, version, other)
		}
		seen[version] = name

		up, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		down, err := fs.ReadFile(fsys, path.Join(dir, base+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("migration %s has no down script: %w", name, err)
		}

		table, creates := strings.CutPrefix(label, "create_")
		if !creates {
			table = ""
		}
		out = append(out, Migration{
			Version:    version,
			Name:       label,
			Table:      table,
			UpScript:   string(up),
			DownScript: string(down),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func GetMigrations() []Migration {
	return migrations
}

func GetMigrationByVersion(version int) *Migration {
	for i := range migrations {
		if migrations[i].Version == version {
			m := migrations[i]
			return &m
		}
	}
	return nil
}

// ManagedTables lists the tables created by the given migrations, in order.
func ManagedTables(set []Migration) []string {
	var tables []string
	for _, m := range set {
		if m.Table != "" {
			tables = append(tables, m.Table)
		}
	}
	return tables
}

// checkModelCoverage fails when a persistent model's table is not created by
// any migration, which would leave SQL mode without that table.
func checkModelCoverage(set []Migration, models []interface{}) error {
	created := make(map[string]struct{})
	for _, table := range ManagedTables(set) {
		created[table] = struct{}{}
	}

	var missing []string
	naming := schema.NamingStrategy{}
	for _, model := range models {
		table := modelTable(model, naming)
		if _, ok := created[table]; !ok {
			missing = append(missing, table)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("no migration creates tables: %s", strings.Join(missing, ", "))
	}
	return nil
}

func modelTable(model interface{}, naming schema.NamingStrategy) string {
	if t, ok := model.(schema.Tabler); ok {
		return t.TableName()
	}
	name := fmt.Sprintf("%T", model)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return naming.TableName(name)
}
