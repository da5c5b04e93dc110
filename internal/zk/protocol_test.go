package zk

import (
	"errors"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	frame := encodeFrame(cmdGetUser, payload)

	frameType, got, err := parseFrame(frame)
	if err != nil {
		t.Fatalf("parseFrame() error = %v", err)
	}
	if frameType != cmdGetUser {
		t.Errorf("frame type = 0x%04X, want 0x%04X", frameType, cmdGetUser)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

func TestFrameRoundTrip_EmptyPayload(t *testing.T) {
	frame := encodeFrame(cmdConnect, nil)

	frameType, payload, err := parseFrame(frame)
	if err != nil {
		t.Fatalf("parseFrame() error = %v", err)
	}
	if frameType != cmdConnect {
		t.Errorf("frame type = 0x%04X, want 0x%04X", frameType, cmdConnect)
	}
	if len(payload) != 0 {
		t.Errorf("payload length = %d, want 0", len(payload))
	}
}

func TestParseFrame_SizeMismatch(t *testing.T) {
	frame := encodeFrame(cmdGetUser, []byte{0x01})
	frame[1] = 0x09 // lie about the size

	if _, _, err := parseFrame(frame); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("parseFrame() error = %v, want ErrInvalidFrame", err)
	}
}

func TestParseFrame_TooShort(t *testing.T) {
	if _, _, err := parseFrame([]byte{0x00}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("parseFrame() error = %v, want ErrInvalidFrame", err)
	}
}

func TestIsEventFrame(t *testing.T) {
	if isEventFrame(cmdGetUser) {
		t.Error("command frames must not look like events")
	}
	if !isEventFrame(evtRealtime) {
		t.Error("evtRealtime must be classified as an event frame")
	}
}

func TestRawUserRoundTrip(t *testing.T) {
	u := RawUser{Enroll: "42", Name: "Ada Lovelace", Password: "1234", Privilege: 14, Enabled: true}

	got, err := decodeRawUser(encodeRawUser(u))
	if err != nil {
		t.Fatalf("decodeRawUser() error = %v", err)
	}
	if got != u {
		t.Errorf("round trip = %+v, want %+v", got, u)
	}
}

func TestRawLogRoundTrip(t *testing.T) {
	l := RawLog{Enroll: "42", Year: 2026, Month: 8, Day: 28,
		Hour: 9, Minute: 30, Second: 15, Verify: 15, InOut: 1, WorkCode: 7}

	got, err := decodeRawLog(encodeRawLog(l))
	if err != nil {
		t.Fatalf("decodeRawLog() error = %v", err)
	}
	if got != l {
		t.Errorf("round trip = %+v, want %+v", got, l)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	want := time.Date(2026, 8, 28, 14, 30, 45, 0, loc)

	got, err := decodeTimestamp(encodeTimestamp(want), loc)
	if err != nil {
		t.Fatalf("decodeTimestamp() error = %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("round trip = %v, want %v", got, want)
	}
}

func TestDecodeEvent_ValidFlag(t *testing.T) {
	base := RealtimeEvent{
		EnrollNumber: "42",
		Timestamp:    time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC),
		Verify:       VerifyFingerprint,
		InOut:        ModeCheckIn,
		WorkCode:     3,
	}

	// The wire flag is inverted: zero means valid.
	for _, valid := range []bool{true, false} {
		ev := base
		ev.Valid = valid

		got, err := decodeEvent(encodeEvent(ev), time.UTC)
		if err != nil {
			t.Fatalf("decodeEvent() error = %v", err)
		}
		if got.Valid != valid {
			t.Errorf("Valid = %t, want %t", got.Valid, valid)
		}
		if got.EnrollNumber != "42" || got.Verify != VerifyFingerprint || got.InOut != ModeCheckIn {
			t.Errorf("decoded event = %+v", got)
		}
		if !got.Timestamp.Equal(base.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, base.Timestamp)
		}
	}
}

func TestFieldReader_Truncated(t *testing.T) {
	// A string header promising more bytes than remain must error, not panic.
	var w fieldWriter
	w.writeUint16(100)
	w.buf = append(w.buf, "short"...)

	r := newFieldReader(w.bytes())
	_ = r.readString()
	if err := r.fin(); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("fin() = %v, want ErrInvalidFrame", err)
	}

	if _, err := decodeRawUser([]byte{0x00}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("decodeRawUser(truncated) = %v, want ErrInvalidFrame", err)
	}
}

func TestDeviceInfoRoundTrip(t *testing.T) {
	info := DeviceInfo{SerialNumber: "SN123", FirmwareVersion: "Ver 6.60", Platform: "ZMM220_TFT", Model: "F18"}

	got, err := decodeDeviceInfo(encodeDeviceInfo(info))
	if err != nil {
		t.Fatalf("decodeDeviceInfo() error = %v", err)
	}
	if got != info {
		t.Errorf("round trip = %+v, want %+v", got, info)
	}
}

func TestDeviceAddress(t *testing.T) {
	a := NewDeviceAddress("10.0.0.5", 0)
	if a.Port != DefaultPort {
		t.Errorf("Port = %d, want default %d", a.Port, DefaultPort)
	}
	if a.String() != "10.0.0.5:4370" {
		t.Errorf("String() = %q, want %q", a.String(), "10.0.0.5:4370")
	}

	b := NewDeviceAddress("terminal.local", 4371)
	if b.String() != "terminal.local:4371" {
		t.Errorf("String() = %q, want %q", b.String(), "terminal.local:4371")
	}
}
