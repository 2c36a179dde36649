package main

import (
	"bytes"
	"testing"

	"marketplace/internal/database"
	"marketplace/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestWriteStatus_SchemaAndImageDrift(t *testing.T) {
	ms := database.GetMigrations()
	status := &database.SchemaStatus{
		SchemaPlan: database.SchemaPlan{Mode: database.SchemaModeSQL, Environment: "production", RunSQL: true},
		Migrations: &database.MigrationState{
			Applied: ms[:2],
			Pending: ms[2:],
			Unknown: []int{9},
		},
	}
	drift := &service.ReconcileReport{
		DryRun:       true,
		PostsChecked: 4,
		Mismatches:   []service.CountMismatch{{PostID: 3, OwnerID: 1, Recorded: 2, Actual: 5}},
		Orphans:      []service.OrphanDir{{OwnerID: 1, PostID: 8, Path: "1/8"}},
	}

	var buf bytes.Buffer
	writeStatus(&buf, status, drift)
	out := buf.String()

	assert.Contains(t, out, "mode=sql env=production run_sql=true run_auto=false applied=2 pending=1")
	assert.Contains(t, out, "pending: 000003_create_logs")
	assert.Contains(t, out, "unknown: 000009")
	assert.Contains(t, out, "images: checked=4 mismatches=1 orphans=1 stale=0 errors=0")
	assert.Contains(t, out, "photo count: post 3 recorded=2 on_disk=5")
	assert.Contains(t, out, "orphan dir: 1/8")
}

func TestWriteStatus_MissingTablesSkipImages(t *testing.T) {
	status := &database.SchemaStatus{
		SchemaPlan:    database.SchemaPlan{Mode: database.SchemaModeHybrid, Environment: "development", RunSQL: true, RunAutoMigrate: true},
		Migrations:    &database.MigrationState{Pending: database.GetMigrations()},
		MissingTables: []string{"posts", "comments", "logs"},
	}

	var buf bytes.Buffer
	writeStatus(&buf, status, nil)

	assert.Contains(t, buf.String(), "missing table: posts")
	assert.Contains(t, buf.String(), "pending=3")
	assert.NotContains(t, buf.String(), "images:")
}
