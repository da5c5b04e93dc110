package events

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/zkgate/zkgate-core/internal/infrastructure/database"
	"github.com/zkgate/zkgate-core/internal/zk"
)

// recorderQueryTimeout bounds each insert so a locked database never
// stalls the dispatch goroutine for long.
const recorderQueryTimeout = 2 * time.Second

// Recorder persists dispatched events into SQLite for diagnostics. The
// terminal remains the system of record; this database can be deleted
// at any time without data loss.
//
// Thread Safety: all methods are safe for concurrent use.
type Recorder struct {
	db     *database.DB
	logger Logger

	// Prepared insert (created once, reused)
	insertStmt *sql.Stmt
	stmtMu     sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// NewRecorder creates a recorder. The terminal_events table must exist
// (created by migrations).
func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder for use. Must be called before Record.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.insertStmt != nil {
		return nil // Already started
	}

	stmt, err := r.db.Prepare(`
		INSERT INTO terminal_events
			(device, enroll_number, event_time, verify_method, in_out_mode, work_code, valid, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing event insert statement: %w", err)
	}

	r.insertStmt = stmt
	r.log("event recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.insertStmt != nil {
		r.insertStmt.Close()
		r.insertStmt = nil
	}

	r.log("event recorder stopped")
}

// Record persists one event. Implements Sink; failures are logged, never
// propagated, so a broken diagnostic store cannot disturb the fanout.
func (r *Recorder) Record(ev zk.RealtimeEvent) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return
	}
	r.mu.RUnlock()

	r.stmtMu.Lock()
	stmt := r.insertStmt
	r.stmtMu.Unlock()

	if stmt == nil {
		return // Not started
	}

	ctx, cancel := context.WithTimeout(context.Background(), recorderQueryTimeout)
	defer cancel()

	valid := 0
	if ev.Valid {
		valid = 1
	}

	if _, err := stmt.ExecContext(ctx,
		ev.Device,
		ev.EnrollNumber,
		ev.Timestamp.UTC().Format(time.RFC3339),
		int(ev.Verify),
		int(ev.InOut),
		ev.WorkCode,
		valid,
		time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		r.logError("recording event", err)
	}
}

// Recent returns the most recent recorded events for a device, newest
// first. device may be empty to query across all devices.
func (r *Recorder) Recent(ctx context.Context, device string, limit int) ([]zk.RealtimeEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT device, enroll_number, event_time, verify_method, in_out_mode, work_code, valid
		FROM terminal_events
	`
	args := []any{}
	if device != "" {
		query += " WHERE device = ?"
		args = append(args, device)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying recorded events: %w", err)
	}
	defer rows.Close()

	var out []zk.RealtimeEvent
	for rows.Next() {
		var ev zk.RealtimeEvent
		var eventTime string
		var verify, inOut, valid int
		if err := rows.Scan(&ev.Device, &ev.EnrollNumber, &eventTime, &verify, &inOut, &ev.WorkCode, &valid); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339, eventTime) //nolint:errcheck // Format is controlled
		ev.Verify = zk.VerifyMethod(verify)
		ev.InOut = zk.InOutMode(inOut)
		ev.Valid = valid != 0
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}
	return out, nil
}

func (r *Recorder) log(msg string) {
	if r.logger != nil {
		r.logger.Info(msg)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
