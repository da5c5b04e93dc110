package zk

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// DefaultPort is the manufacturer standard TCP port for ZK terminals.
const DefaultPort = 4370

// DeviceAddress identifies a physical terminal.
type DeviceAddress struct {
	Host string
	Port int
}

// NewDeviceAddress builds an address, applying DefaultPort when port is zero.
func NewDeviceAddress(host string, port int) DeviceAddress {
	if port == 0 {
		port = DefaultPort
	}
	return DeviceAddress{Host: host, Port: port}
}

// String returns the address as "host:port".
func (a DeviceAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Privilege is the device-defined access tier for a user.
type Privilege int

// Privilege levels as reported by the terminal.
const (
	PrivilegeUser       Privilege = 0
	PrivilegeEnroller   Privilege = 2
	PrivilegeManager    Privilege = 6
	PrivilegeSuperAdmin Privilege = 14
)

// VerifyMethod identifies how a scan event was authenticated.
type VerifyMethod int

// Verification methods as reported by the terminal.
const (
	VerifyPassword    VerifyMethod = 0
	VerifyFingerprint VerifyMethod = 1
	VerifyCard        VerifyMethod = 15
	VerifyFace        VerifyMethod = 25
)

// String returns a stable lowercase name for the verification method.
func (v VerifyMethod) String() string {
	switch v {
	case VerifyPassword:
		return "password"
	case VerifyFingerprint:
		return "fingerprint"
	case VerifyCard:
		return "card"
	case VerifyFace:
		return "face"
	default:
		return fmt.Sprintf("unknown(%d)", int(v))
	}
}

// InOutMode is the semantic meaning of an attendance punch.
type InOutMode int

// Punch modes as reported by the terminal.
const (
	ModeCheckIn     InOutMode = 0
	ModeCheckOut    InOutMode = 1
	ModeBreakOut    InOutMode = 2
	ModeBreakIn     InOutMode = 3
	ModeOvertimeIn  InOutMode = 4
	ModeOvertimeOut InOutMode = 5
)

// String returns a stable lowercase name for the punch mode.
func (m InOutMode) String() string {
	switch m {
	case ModeCheckIn:
		return "check_in"
	case ModeCheckOut:
		return "check_out"
	case ModeBreakOut:
		return "break_out"
	case ModeBreakIn:
		return "break_in"
	case ModeOvertimeIn:
		return "overtime_in"
	case ModeOvertimeOut:
		return "overtime_out"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// StatusItem selects which counter StatusValue reads from the terminal.
type StatusItem int

// Status item codes used by the vendor protocol.
const (
	StatusAdminCount   StatusItem = 1
	StatusUserCount    StatusItem = 2
	StatusLogCount     StatusItem = 6
	StatusUserCapacity StatusItem = 8
	StatusLogCapacity  StatusItem = 9
)

// UserRecord is a validated user as stored in the terminal's user table.
// EnrollNumber is the unique key. CardNumber is empty when no card is
// assigned; the terminal permits the same card on multiple enrollment
// numbers, which is a valid state, not an error.
type UserRecord struct {
	EnrollNumber string    `json:"enroll_number"`
	Name         string    `json:"name"`
	Password     string    `json:"password,omitempty"`
	CardNumber   string    `json:"card_number,omitempty"`
	Privilege    Privilege `json:"privilege"`
	Enabled      bool      `json:"enabled"`
}

// UserPayload is the input for creating a user.
type UserPayload struct {
	EnrollNumber string    `json:"enroll_number"`
	Name         string    `json:"name"`
	Password     string    `json:"password,omitempty"`
	CardNumber   string    `json:"card_number,omitempty"`
	Privilege    Privilege `json:"privilege"`
	Enabled      bool      `json:"enabled"`
}

// UserUpdate is a partial update. Nil fields keep their current value on
// the terminal.
type UserUpdate struct {
	Name       *string    `json:"name,omitempty"`
	Password   *string    `json:"password,omitempty"`
	CardNumber *string    `json:"card_number,omitempty"`
	Privilege  *Privilege `json:"privilege,omitempty"`
	Enabled    *bool      `json:"enabled,omitempty"`
}

// AttendanceLogRecord is one attendance punch from the terminal's log table.
type AttendanceLogRecord struct {
	EnrollNumber string       `json:"enroll_number"`
	Timestamp    time.Time    `json:"timestamp"`
	Verify       VerifyMethod `json:"verify_method"`
	InOut        InOutMode    `json:"in_out_mode"`
	WorkCode     int          `json:"work_code"`
}

// RealtimeEvent is a live transaction pushed by the terminal. Ephemeral:
// produced by the link's receive loop, fanned out immediately, never stored.
type RealtimeEvent struct {
	Device       string       `json:"device"`
	EnrollNumber string       `json:"enroll_number"`
	Timestamp    time.Time    `json:"timestamp"`
	Verify       VerifyMethod `json:"verify_method"`
	InOut        InOutMode    `json:"in_out_mode"`
	WorkCode     int          `json:"work_code"`
	Valid        bool         `json:"valid"`
}

// DeviceInfo holds the terminal's identity strings.
type DeviceInfo struct {
	SerialNumber    string `json:"serial_number"`
	FirmwareVersion string `json:"firmware_version"`
	Platform        string `json:"platform"`
	Model           string `json:"model"`
}

// DeviceStatus is the structured status record returned by a connection test.
type DeviceStatus struct {
	Address            string    `json:"address"`
	Connected          bool      `json:"connected"`
	SerialNumber       string    `json:"serial_number"`
	FirmwareVersion    string    `json:"firmware_version"`
	Platform           string    `json:"platform"`
	Model              string    `json:"model"`
	UserCount          int       `json:"user_count"`
	LogCount           int       `json:"log_count"`
	UserCapacity       int       `json:"user_capacity"`
	LogCapacity        int       `json:"log_capacity"`
	DeviceTime         time.Time `json:"device_time"`
	InteractionEnabled bool      `json:"interaction_enabled"`
}

// RawUser is a user record exactly as reported by the terminal, before
// validation. The card number is NOT part of this record; it arrives via
// the shared card buffer.
type RawUser struct {
	Enroll    string
	Name      string
	Password  string
	Privilege int
	Enabled   bool
}

// RawLog is a log record exactly as reported by the terminal, before
// date validation.
type RawLog struct {
	Enroll   string
	Year     int
	Month    int
	Day      int
	Hour     int
	Minute   int
	Second   int
	Verify   int
	InOut    int
	WorkCode int
}

// validEnroll reports whether an enrollment number is a positive integer
// string. Firmware variants that report blank or garbage enrollment
// numbers produce records that fail this check and are skipped.
func validEnroll(enroll string) bool {
	n, err := strconv.ParseInt(enroll, 10, 64)
	return err == nil && n > 0
}

// plausibleDate reports whether a log record's date fields are within the
// terminal's sane epoch range. Out-of-range dates are corrupt telemetry.
func plausibleDate(year, month, day int) bool {
	if year < 2000 || year > 2100 {
		return false
	}
	if month < 1 || month > 12 {
		return false
	}
	if day < 1 || day > 31 {
		return false
	}
	return true
}
