package zk

import (
	"context"
	"fmt"
	"time"
)

// defaultMaxRecords bounds every enumeration loop. Generous but finite:
// some firmwares never signal end-of-data and the loop must not hang.
const defaultMaxRecords = 10000

// enumerator drives the terminal's retrieve-then-iterate protocol into
// fully materialised collections. It is the only component that touches
// the shared card buffer.
type enumerator struct {
	link   Link
	max    int
	loc    *time.Location
	logger Logger
}

func newEnumerator(link Link, maxRecords int, loc *time.Location, logger Logger) *enumerator {
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	if loc == nil {
		loc = time.UTC
	}
	return &enumerator{link: link, max: maxRecords, loc: loc, logger: logger}
}

// allUsers materialises the user table in device order.
//
// Per record it re-fetches the user individually and immediately reads
// the shared card buffer before touching the next record. The buffer is
// global on the terminal; interleaving these calls any other way reports
// the wrong user's card.
//
// Records with a non-positive or non-numeric enrollment number are
// dropped; one bad record never aborts the batch.
func (e *enumerator) allUsers(ctx context.Context) ([]UserRecord, error) {
	if err := e.link.BeginUserEnum(ctx); err != nil {
		return nil, fmt.Errorf("begin user enumeration: %w", err)
	}

	users := make([]UserRecord, 0, 64)
	for i := 0; i < e.max; i++ {
		raw, ok, err := e.link.NextUser(ctx)
		if err != nil {
			return nil, fmt.Errorf("read user record: %w", err)
		}
		if !ok {
			return users, nil
		}

		if !validEnroll(raw.Enroll) {
			e.logDebug("skipping user with invalid enrollment number", "enroll", raw.Enroll)
			continue
		}

		rec := UserRecord{
			EnrollNumber: raw.Enroll,
			Name:         raw.Name,
			Password:     raw.Password,
			Privilege:    Privilege(raw.Privilege),
			Enabled:      raw.Enabled,
		}

		card, err := e.cardFor(ctx, raw.Enroll)
		if err != nil {
			return nil, err
		}
		rec.CardNumber = card

		users = append(users, rec)
	}

	e.logWarn("user enumeration hit iteration cap", "cap", e.max)
	return users, nil
}

// cardFor loads one user's card number via the fetch-then-read-buffer
// pairing. Returns "" when no card is assigned (the terminal reports the
// zero sentinel) or when the user vanished mid-enumeration.
func (e *enumerator) cardFor(ctx context.Context, enroll string) (string, error) {
	_, found, err := e.link.UserInfo(ctx, enroll)
	if err != nil {
		return "", fmt.Errorf("refetch user %s: %w", enroll, err)
	}
	if !found {
		return "", nil
	}

	card, err := e.link.CardBuffer(ctx)
	if err != nil {
		return "", fmt.Errorf("read card buffer for %s: %w", enroll, err)
	}
	if card == "" || card == "0" {
		return "", nil
	}
	return card, nil
}

// allLogs materialises the attendance log table in device order.
//
// Records with an out-of-range date are corrupt telemetry and dropped;
// records with a blank enrollment number are kept as-is, matching the
// terminal's own behaviour for system events.
func (e *enumerator) allLogs(ctx context.Context) ([]AttendanceLogRecord, error) {
	if err := e.link.BeginLogEnum(ctx); err != nil {
		return nil, fmt.Errorf("begin log enumeration: %w", err)
	}

	logs := make([]AttendanceLogRecord, 0, 256)
	for i := 0; i < e.max; i++ {
		raw, ok, err := e.link.NextLog(ctx)
		if err != nil {
			return nil, fmt.Errorf("read log record: %w", err)
		}
		if !ok {
			return logs, nil
		}

		if !plausibleDate(raw.Year, raw.Month, raw.Day) {
			e.logDebug("skipping log with implausible date",
				"year", raw.Year, "month", raw.Month, "day", raw.Day)
			continue
		}

		logs = append(logs, AttendanceLogRecord{
			EnrollNumber: raw.Enroll,
			Timestamp: time.Date(raw.Year, time.Month(raw.Month), raw.Day,
				raw.Hour, raw.Minute, raw.Second, 0, e.loc),
			Verify:   VerifyMethod(raw.Verify),
			InOut:    InOutMode(raw.InOut),
			WorkCode: raw.WorkCode,
		})
	}

	e.logWarn("log enumeration hit iteration cap", "cap", e.max)
	return logs, nil
}

func (e *enumerator) logDebug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}

func (e *enumerator) logWarn(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Warn(msg, keysAndValues...)
	}
}
