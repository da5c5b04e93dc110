package events

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/zkgate/zkgate-core/migrations"

	"github.com/zkgate/zkgate-core/internal/infrastructure/database"
	"github.com/zkgate/zkgate-core/internal/zk"
)

// openRecorderDB opens a temporary migrated database for recorder tests.
func openRecorderDB(t *testing.T) *database.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "events.db")
	db, err := database.Open(database.Config{
		Path:        dbPath,
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	return db
}

func punchEvent(device, enroll string, ts time.Time) zk.RealtimeEvent {
	return zk.RealtimeEvent{
		Device:       device,
		EnrollNumber: enroll,
		Timestamp:    ts,
		Verify:       zk.VerifyFingerprint,
		InOut:        zk.ModeCheckIn,
		Valid:        true,
	}
}

func TestRecorder_RecordAndRecent(t *testing.T) {
	db := openRecorderDB(t)

	rec := NewRecorder(db)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rec.Stop()

	base := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	rec.Record(punchEvent("192.0.2.1:4370", "1001", base))
	rec.Record(punchEvent("192.0.2.1:4370", "1002", base.Add(time.Minute)))
	rec.Record(punchEvent("192.0.2.9:4370", "2001", base.Add(2*time.Minute)))

	ctx := context.Background()

	got, err := rec.Recent(ctx, "192.0.2.1:4370", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Recent() returned %d events, want 2", len(got))
	}
	// Newest first
	if got[0].EnrollNumber != "1002" || got[1].EnrollNumber != "1001" {
		t.Errorf("Recent() order = %s, %s; want 1002, 1001", got[0].EnrollNumber, got[1].EnrollNumber)
	}
	if !got[1].Timestamp.Equal(base) {
		t.Errorf("Timestamp = %v, want %v", got[1].Timestamp, base)
	}
	if got[0].Verify != zk.VerifyFingerprint {
		t.Errorf("Verify = %v, want fingerprint", got[0].Verify)
	}
	if !got[0].Valid {
		t.Error("Valid = false, want true")
	}
}

func TestRecorder_RecentAllDevices(t *testing.T) {
	db := openRecorderDB(t)

	rec := NewRecorder(db)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rec.Stop()

	now := time.Now().UTC().Truncate(time.Second)
	rec.Record(punchEvent("a:4370", "1", now))
	rec.Record(punchEvent("b:4370", "2", now))

	got, err := rec.Recent(context.Background(), "", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Recent(\"\") returned %d events, want 2", len(got))
	}
}

func TestRecorder_RecentLimit(t *testing.T) {
	db := openRecorderDB(t)

	rec := NewRecorder(db)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rec.Stop()

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec.Record(punchEvent("c:4370", "1", now))
	}

	got, err := rec.Recent(context.Background(), "c:4370", 3)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("Recent() with limit 3 returned %d events", len(got))
	}
}

func TestRecorder_RecordBeforeStartIsNoop(t *testing.T) {
	db := openRecorderDB(t)

	rec := NewRecorder(db)
	rec.Record(punchEvent("d:4370", "1", time.Now()))

	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer rec.Stop()

	got, err := rec.Recent(context.Background(), "d:4370", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent() returned %d events, want 0", len(got))
	}
}

func TestRecorder_StopThenRecordIsSafe(t *testing.T) {
	db := openRecorderDB(t)

	rec := NewRecorder(db)
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	rec.Stop()

	// Must not panic or write
	rec.Record(punchEvent("e:4370", "1", time.Now()))
}
