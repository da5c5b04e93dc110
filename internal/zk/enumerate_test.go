package zk

import (
	"context"
	"testing"
	"time"
)

func TestEnumerator_UserBoundOnRunawayDevice(t *testing.T) {
	m := newMockLink()
	m.usersNeverEnd = true

	e := newEnumerator(m, 50, time.UTC, nil)

	done := make(chan struct{})
	var users []UserRecord
	var err error
	go func() {
		users, err = e.allUsers(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enumeration did not terminate against a device that never signals end")
	}

	if err != nil {
		t.Fatalf("allUsers() error = %v", err)
	}
	if len(users) > 50 {
		t.Errorf("returned %d users, cap is 50", len(users))
	}
}

func TestEnumerator_LogBoundOnRunawayDevice(t *testing.T) {
	m := newMockLink()
	m.logsNeverEnd = true

	e := newEnumerator(m, 50, time.UTC, nil)

	done := make(chan struct{})
	var logs []AttendanceLogRecord
	var err error
	go func() {
		logs, err = e.allLogs(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enumeration did not terminate against a device that never signals end")
	}

	if err != nil {
		t.Fatalf("allLogs() error = %v", err)
	}
	if len(logs) != 50 {
		t.Errorf("returned %d logs, want cap 50", len(logs))
	}
}

func TestEnumerator_SkipsInvalidEnrollNumbers(t *testing.T) {
	m := newMockLink()
	m.enumUsers = []RawUser{
		{Enroll: "1", Name: "keep"},
		{Enroll: "", Name: "blank"},
		{Enroll: "abc", Name: "garbage"},
		{Enroll: "-3", Name: "negative"},
		{Enroll: "0", Name: "zero"},
		{Enroll: "2", Name: "keep too"},
	}
	m.userTable["1"] = m.enumUsers[0]
	m.userTable["2"] = m.enumUsers[5]

	e := newEnumerator(m, 100, time.UTC, nil)
	users, err := e.allUsers(context.Background())
	if err != nil {
		t.Fatalf("allUsers() error = %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("got %d users, want 2 (invalid enrollment numbers dropped)", len(users))
	}
	if users[0].EnrollNumber != "1" || users[1].EnrollNumber != "2" {
		t.Errorf("device order not preserved: %v", users)
	}
}

func TestEnumerator_SkipsImplausibleLogDates(t *testing.T) {
	m := newMockLink()
	m.enumLogs = []RawLog{
		{Enroll: "1", Year: 2026, Month: 8, Day: 28, Hour: 9, Verify: 1, InOut: 0},
		{Enroll: "1", Year: 2026, Month: 13, Day: 1},  // month out of range
		{Enroll: "1", Year: 1999, Month: 6, Day: 15},  // year before device epoch
		{Enroll: "1", Year: 2026, Month: 2, Day: 32},  // day out of range
		{Enroll: "1", Year: 2026, Month: 8, Day: 29, Hour: 17, Verify: 15, InOut: 1},
	}

	e := newEnumerator(m, 100, time.UTC, nil)
	logs, err := e.allLogs(context.Background())
	if err != nil {
		t.Fatalf("allLogs() error = %v", err)
	}

	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2 (corrupt dates dropped)", len(logs))
	}
	if logs[0].Timestamp.Day() != 28 || logs[1].Timestamp.Day() != 29 {
		t.Errorf("wrong records survived: %v", logs)
	}
	if logs[1].Verify != VerifyCard {
		t.Errorf("Verify = %v, want %v", logs[1].Verify, VerifyCard)
	}
	if logs[1].InOut != ModeCheckOut {
		t.Errorf("InOut = %v, want %v", logs[1].InOut, ModeCheckOut)
	}
}

func TestEnumerator_CardPairing(t *testing.T) {
	// The shared buffer changes on every fetch. Each user must be
	// re-fetched and the buffer read immediately, before the next record.
	m := newMockLink()
	m.enumUsers = []RawUser{
		{Enroll: "1", Name: "U1"},
		{Enroll: "2", Name: "U2"},
	}
	m.userTable["1"] = m.enumUsers[0]
	m.userTable["2"] = m.enumUsers[1]
	m.cards["1"] = "111"
	m.cards["2"] = "222"

	e := newEnumerator(m, 100, time.UTC, nil)
	users, err := e.allUsers(context.Background())
	if err != nil {
		t.Fatalf("allUsers() error = %v", err)
	}

	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].CardNumber != "111" {
		t.Errorf("U1 card = %q, want %q (buffer pairing violated)", users[0].CardNumber, "111")
	}
	if users[1].CardNumber != "222" {
		t.Errorf("U2 card = %q, want %q (buffer pairing violated)", users[1].CardNumber, "222")
	}
}

func TestEnumerator_NoCardSentinel(t *testing.T) {
	m := newMockLink()
	m.enumUsers = []RawUser{{Enroll: "1", Name: "cardless"}}
	m.userTable["1"] = m.enumUsers[0]
	m.cards["1"] = "0"

	e := newEnumerator(m, 100, time.UTC, nil)
	users, err := e.allUsers(context.Background())
	if err != nil {
		t.Fatalf("allUsers() error = %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	if users[0].CardNumber != "" {
		t.Errorf("CardNumber = %q, want empty for the zero sentinel", users[0].CardNumber)
	}
}

func TestEnumerator_UserVanishedMidEnumeration(t *testing.T) {
	// A user returned by the bulk pass but deleted before the re-fetch
	// keeps their record, just without a card.
	m := newMockLink()
	m.enumUsers = []RawUser{{Enroll: "1", Name: "ghost"}}

	e := newEnumerator(m, 100, time.UTC, nil)
	users, err := e.allUsers(context.Background())
	if err != nil {
		t.Fatalf("allUsers() error = %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("got %d users, want 1", len(users))
	}
	if users[0].CardNumber != "" {
		t.Errorf("CardNumber = %q, want empty", users[0].CardNumber)
	}
}
