package database

import (
	"context"
	"embed"
	"testing"
	"time"
)

//go:embed testdata/*.sql
var fixtureFS embed.FS

// withFixtureMigrations points the engine at the testdata fixtures for
// the duration of one test.
func withFixtureMigrations(t *testing.T) {
	t.Helper()

	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	MigrationsFS = fixtureFS
	MigrationsDir = "testdata"
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()

	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count > 0
}

func TestMigrate_AppliesFixture(t *testing.T) {
	withFixtureMigrations(t)
	db := openEventStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	if !tableExists(t, db, "event_archive") {
		t.Fatal("event_archive table not created")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Fatalf("applied = %d, want 1", len(applied))
	}
	if applied[0].Version != "20260101_000000" {
		t.Errorf("applied version = %q, want 20260101_000000", applied[0].Version)
	}
	if applied[0].AppliedAt.IsZero() {
		t.Error("AppliedAt not recorded")
	}
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
}

func TestMigrate_Rerun(t *testing.T) {
	withFixtureMigrations(t)
	db := openEventStore(t)
	ctx := context.Background()

	// Second run must see nothing pending and change nothing.
	for i := 0; i < 2; i++ {
		if err := db.Migrate(ctx); err != nil {
			t.Fatalf("Migrate() run %d error = %v", i+1, err)
		}
	}

	applied, _, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 1 {
		t.Errorf("applied after rerun = %d, want 1", len(applied))
	}
}

func TestMigrateDown_RollsBackLatest(t *testing.T) {
	withFixtureMigrations(t)
	db := openEventStore(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}

	if tableExists(t, db, "event_archive") {
		t.Error("event_archive still exists after rollback")
	}
	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("applied after rollback = %d, want 0", len(applied))
	}
	if len(pending) != 1 {
		t.Errorf("pending after rollback = %d, want 1", len(pending))
	}
}

func TestMigrateDown_EmptyLedgerIsNoop(t *testing.T) {
	withFixtureMigrations(t)
	db := openEventStore(t)
	ctx := context.Background()

	// Ledger exists but nothing was applied.
	if err := db.ensureLedger(ctx); err != nil {
		t.Fatalf("ensureLedger() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Errorf("MigrateDown() on empty ledger error = %v", err)
	}
}

func TestMigrate_NoEmbeddedFiles(t *testing.T) {
	origFS, origDir := MigrationsFS, MigrationsDir
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = origFS, origDir
	})
	var empty embed.FS
	MigrationsFS = empty
	MigrationsDir = "."

	db := openEventStore(t)
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error = %v", err)
	}
}

func TestSplitMigrationName(t *testing.T) {
	tests := []struct {
		filename    string
		wantVersion string
		wantName    string
		wantUp      bool
		wantOK      bool
	}{
		{"20260815_100000_terminal_events.up.sql", "20260815_100000", "terminal_events", true, true},
		{"20260815_100000_terminal_events.down.sql", "20260815_100000", "terminal_events", false, true},
		{"20260101_000000_event_archive.up.sql", "20260101_000000", "event_archive", true, true},
		{"notes.txt", "", "", false, false},
		{"schema.sql", "", "", false, false},
		{"bare.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := splitMigrationName(tt.filename)
			if ok != tt.wantOK {
				t.Fatalf("ok = %t, want %t", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if name != tt.wantName {
				t.Errorf("name = %q, want %q", name, tt.wantName)
			}
			if up != tt.wantUp {
				t.Errorf("up = %t, want %t", up, tt.wantUp)
			}
		})
	}
}
