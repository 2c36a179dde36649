package database

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"marketplace/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestConfigurePool(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           5,
		DBConnMaxLifetimeMinutes: 15,
	}
	require.NoError(t, configurePool(db, cfg))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 10, sqlDB.Stats().MaxOpenConnections)
	assert.NoError(t, Ping(context.Background(), db))
}

func TestDSN(t *testing.T) {
	dsn := DSN(&config.Config{DBHost: "db", DBPort: "5432", DBUser: "u", DBPassword: "p", DBName: "marketplace"})
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=marketplace sslmode=disable", dsn)
}

func TestPlanSchema(t *testing.T) {
	tests := []struct {
		name        string
		mode        string
		env         string
		destructive bool
		wantSQL     bool
		wantAuto    bool
		wantErr     bool
	}{
		{"hybrid dev", "hybrid", "development", false, true, true, false},
		{"hybrid prod", "", "production", false, true, false, false},
		{"sql only", "sql", "development", false, true, false, false},
		{"auto dev", "auto", "test", false, false, true, false},
		{"auto prod refused", "auto", "production", false, false, false, true},
		{"auto prod allowed", "auto", "staging", true, false, true, false},
		{"unknown", "other", "development", false, false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := PlanSchema(&config.Config{
				DBSchemaMode:                  tt.mode,
				Env:                           tt.env,
				DBAutoMigrateAllowDestructive: tt.destructive,
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, plan.RunSQL)
			assert.Equal(t, tt.wantAuto, plan.RunAutoMigrate)
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	ms := GetMigrations()
	require.Len(t, ms, 3)
	for i, m := range ms {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.DownScript)
	}
	assert.Equal(t, "000002_create_comments", ms[1].String())
	assert.True(t, strings.Contains(ms[1].UpScript, "ON DELETE CASCADE"))
	assert.Equal(t, []string{"posts", "comments", "logs"}, ManagedTables(ms))
	assert.Nil(t, GetMigrationByVersion(99))
}

func TestEmbeddedMigrations_CoverPersistentModels(t *testing.T) {
	require.NoError(t, checkModelCoverage(GetMigrations(), PersistentModels()))

	withoutLogs := GetMigrations()[:2]
	err := checkModelCoverage(withoutLogs, PersistentModels())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logs")
}

func TestLoadMigrations_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		files fstest.MapFS
		want  string
	}{
		{
			name: "missing down script",
			files: fstest.MapFS{
				"m/000001_create_posts.up.sql": {Data: []byte("SELECT 1;")},
			},
			want: "no down script",
		},
		{
			name: "duplicate version",
			files: fstest.MapFS{
				"m/000001_create_posts.up.sql":      {Data: []byte("SELECT 1;")},
				"m/000001_create_posts.down.sql":    {Data: []byte("SELECT 1;")},
				"m/000001_create_comments.up.sql":   {Data: []byte("SELECT 1;")},
				"m/000001_create_comments.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "already used",
		},
		{
			name: "bad version",
			files: fstest.MapFS{
				"m/first_create_posts.up.sql":   {Data: []byte("SELECT 1;")},
				"m/first_create_posts.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "bad version",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadMigrations(tt.files, "m")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// sqliteListingMigrations mirrors the embedded set in SQL sqlite accepts.
func sqliteListingMigrations(t *testing.T) []Migration {
	t.Helper()
	set, err := LoadMigrations(fstest.MapFS{
		"m/000001_create_posts.up.sql":      {Data: []byte("CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, title TEXT NOT NULL);")},
		"m/000001_create_posts.down.sql":    {Data: []byte("DROP TABLE posts;")},
		"m/000002_create_comments.up.sql":   {Data: []byte("CREATE TABLE comments (id INTEGER PRIMARY KEY, post_id INTEGER NOT NULL REFERENCES posts (id) ON DELETE CASCADE, content TEXT NOT NULL);")},
		"m/000002_create_comments.down.sql": {Data: []byte("DROP TABLE comments;")},
		"m/000003_create_logs.up.sql":       {Data: []byte("CREATE TABLE logs (id INTEGER PRIMARY KEY, action TEXT NOT NULL); CREATE INDEX idx_logs_action ON logs (action);")},
		"m/000003_create_logs.down.sql":     {Data: []byte("DROP TABLE logs;")},
		"m/README.txt":                      {Data: []byte("ignored")},
	}, "m")
	require.NoError(t, err)
	require.Len(t, set, 3)
	return set
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func TestMigrationRunner_UpStatusDown(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	set := sqliteListingMigrations(t)
	runner := NewMigrationRunner(db, set)

	plan := SchemaPlan{Mode: SchemaModeSQL, RunSQL: true}
	status, err := schemaStatus(ctx, db, plan, set)
	require.NoError(t, err)
	assert.Equal(t, []string{"posts", "comments", "logs"}, status.MissingTables)
	assert.Len(t, status.Migrations.Pending, 3)

	ran, err := runner.Up(ctx)
	require.NoError(t, err)
	assert.Len(t, ran, 3)

	again, err := runner.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)

	status, err = schemaStatus(ctx, db, plan, set)
	require.NoError(t, err)
	assert.Empty(t, status.MissingTables)
	assert.Empty(t, status.Migrations.Pending)
	assert.Len(t, status.Migrations.Applied, 3)

	err = runner.Down(ctx, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "roll back 000003_create_logs first")

	require.NoError(t, runner.Down(ctx, 3))
	assert.False(t, db.Migrator().HasTable("logs"))
	assert.True(t, db.Migrator().HasTable("comments"))

	state, err := runner.State(ctx)
	require.NoError(t, err)
	require.Len(t, state.Pending, 1)
	assert.Equal(t, 3, state.Pending[0].Version)

	err = runner.Down(ctx, 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been applied")
}

func TestMigrationRunner_FailedScriptLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	set := sqliteListingMigrations(t)
	set[1].UpScript = "CREATE TABLE comments (;"

	ran, err := NewMigrationRunner(db, set).Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000002_create_comments")
	require.Len(t, ran, 1)

	state, err := NewMigrationRunner(db, set).State(ctx)
	require.NoError(t, err)
	assert.Len(t, state.Applied, 1)
	assert.Len(t, state.Pending, 2)
}

func TestMigrationRunner_RefusesUnknownAppliedVersions(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	set := sqliteListingMigrations(t)

	_, err := NewMigrationRunner(db, set).Up(ctx)
	require.NoError(t, err)
	require.NoError(t, db.Create(&MigrationLog{Version: 7, Name: "create_offers"}).Error)

	_, err = NewMigrationRunner(db, set).Up(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000007")
}
