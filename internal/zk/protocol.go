package zk

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Wire framing for the terminal agent protocol.
//
// Every frame is: size(2, big-endian) + type(2) + payload. The size field
// counts type + payload, not itself. Reply frames echo the request type and
// begin with a one-byte acknowledgement; frames with the event bit set are
// pushed by the terminal without a matching request.
const frameHeaderSize = 4

// Command and event frame types.
const (
	cmdConnect    uint16 = 0x0001
	cmdDisconnect uint16 = 0x0002

	cmdEnableDevice uint16 = 0x0010
	cmdRegEvent     uint16 = 0x0011
	cmdRefreshData  uint16 = 0x0012
	cmdRestart      uint16 = 0x0013
	cmdPowerOff     uint16 = 0x0014

	cmdGetInfo   uint16 = 0x0020
	cmdGetStatus uint16 = 0x0021
	cmdGetTime   uint16 = 0x0022
	cmdSetTime   uint16 = 0x0023

	cmdBeginUsers  uint16 = 0x0030
	cmdNextUser    uint16 = 0x0031
	cmdGetUser     uint16 = 0x0032
	cmdSetUser     uint16 = 0x0033
	cmdDeleteUser  uint16 = 0x0034
	cmdClearUsers  uint16 = 0x0035
	cmdClearAdmins uint16 = 0x0036
	cmdGetCard     uint16 = 0x0037
	cmdSetCard     uint16 = 0x0038

	cmdBeginLogs uint16 = 0x0040
	cmdNextLog   uint16 = 0x0041
	cmdClearLogs uint16 = 0x0042

	// eventBit marks unsolicited frames pushed by the terminal.
	eventBit    uint16 = 0x8000
	evtRealtime uint16 = 0x8001
)

// Reply acknowledgement codes. ackEnd terminates an enumeration.
const (
	ackOK   byte = 0x00
	ackFail byte = 0x01
	ackEnd  byte = 0x02
)

// EventMaskAll registers for every transaction event kind the terminal
// can report.
const EventMaskAll uint16 = 0xFFFF

// encodeFrame builds a complete wire frame for a type and payload.
func encodeFrame(frameType uint16, payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))

	// Size field = type(2) + payload length (does NOT include size field itself)
	binary.BigEndian.PutUint16(buf[0:2], uint16(2+len(payload))) //nolint:gosec // bounded by small frame sizes
	binary.BigEndian.PutUint16(buf[2:4], frameType)
	copy(buf[4:], payload)

	return buf
}

// parseFrame splits a complete raw frame into type and payload.
func parseFrame(data []byte) (frameType uint16, payload []byte, err error) {
	if len(data) < frameHeaderSize {
		return 0, nil, fmt.Errorf("%w: frame too short (%d bytes)", ErrInvalidFrame, len(data))
	}

	declared := binary.BigEndian.Uint16(data[0:2])
	if int(declared) != len(data)-2 {
		return 0, nil, fmt.Errorf("%w: size mismatch (declared %d, got %d)",
			ErrInvalidFrame, declared, len(data)-2)
	}

	frameType = binary.BigEndian.Uint16(data[2:4])
	if len(data) > frameHeaderSize {
		payload = data[frameHeaderSize:]
	}

	return frameType, payload, nil
}

// isEventFrame reports whether a frame type is an unsolicited push.
func isEventFrame(frameType uint16) bool {
	return frameType&eventBit != 0
}

// fieldWriter builds a frame payload field by field. Strings are encoded
// as a 2-byte big-endian length followed by the bytes.
type fieldWriter struct {
	buf []byte
}

func (w *fieldWriter) writeString(s string) {
	w.writeUint16(uint16(len(s))) //nolint:gosec // field strings are short
	w.buf = append(w.buf, s...)
}

func (w *fieldWriter) writeUint8(v uint8) {
	w.buf = append(w.buf, v)
}

func (w *fieldWriter) writeUint16(v uint16) {
	w.buf = append(w.buf, byte(v>>8), byte(v))
}

func (w *fieldWriter) writeUint32(v uint32) {
	w.buf = append(w.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (w *fieldWriter) writeBool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *fieldWriter) bytes() []byte {
	return w.buf
}

// fieldReader consumes a frame payload field by field. The first decode
// failure is sticky; subsequent reads return zero values and fin()
// reports the error.
type fieldReader struct {
	buf []byte
	off int
	err error
}

func newFieldReader(buf []byte) *fieldReader {
	return &fieldReader{buf: buf}
}

func (r *fieldReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: truncated %s at offset %d", ErrInvalidFrame, what, r.off)
	}
}

func (r *fieldReader) readString() string {
	n := int(r.readUint16())
	if r.err != nil {
		return ""
	}
	if r.off+n > len(r.buf) {
		r.fail("string")
		return ""
	}
	s := string(r.buf[r.off : r.off+n])
	r.off += n
	return s
}

func (r *fieldReader) readUint8() uint8 {
	if r.err != nil {
		return 0
	}
	if r.off+1 > len(r.buf) {
		r.fail("uint8")
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *fieldReader) readUint16() uint16 {
	if r.err != nil {
		return 0
	}
	if r.off+2 > len(r.buf) {
		r.fail("uint16")
		return 0
	}
	v := binary.BigEndian.Uint16(r.buf[r.off : r.off+2])
	r.off += 2
	return v
}

func (r *fieldReader) readUint32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.buf) {
		r.fail("uint32")
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off : r.off+4])
	r.off += 4
	return v
}

func (r *fieldReader) readBool() bool {
	return r.readUint8() != 0
}

func (r *fieldReader) fin() error {
	return r.err
}

// encodeRawUser serialises a user record for a set-user call.
func encodeRawUser(u RawUser) []byte {
	var w fieldWriter
	w.writeString(u.Enroll)
	w.writeString(u.Name)
	w.writeString(u.Password)
	w.writeUint8(uint8(u.Privilege)) //nolint:gosec // privilege fits a byte
	w.writeBool(u.Enabled)
	return w.bytes()
}

// decodeRawUser deserialises a user record from a reply payload.
func decodeRawUser(data []byte) (RawUser, error) {
	r := newFieldReader(data)
	u := RawUser{
		Enroll:    r.readString(),
		Name:      r.readString(),
		Password:  r.readString(),
		Privilege: int(r.readUint8()),
		Enabled:   r.readBool(),
	}
	return u, r.fin()
}

// encodeRawLog serialises a log record. Used by test doubles; the
// production link only decodes.
func encodeRawLog(l RawLog) []byte {
	var w fieldWriter
	w.writeString(l.Enroll)
	w.writeUint16(uint16(l.Year)) //nolint:gosec // year fits uint16
	w.writeUint8(uint8(l.Month))  //nolint:gosec // calendar fields fit a byte
	w.writeUint8(uint8(l.Day))    //nolint:gosec
	w.writeUint8(uint8(l.Hour))   //nolint:gosec
	w.writeUint8(uint8(l.Minute)) //nolint:gosec
	w.writeUint8(uint8(l.Second)) //nolint:gosec
	w.writeUint8(uint8(l.Verify)) //nolint:gosec
	w.writeUint8(uint8(l.InOut))  //nolint:gosec
	w.writeUint32(uint32(l.WorkCode)) //nolint:gosec
	return w.bytes()
}

// decodeRawLog deserialises a log record from a reply payload.
func decodeRawLog(data []byte) (RawLog, error) {
	r := newFieldReader(data)
	l := RawLog{
		Enroll:   r.readString(),
		Year:     int(r.readUint16()),
		Month:    int(r.readUint8()),
		Day:      int(r.readUint8()),
		Hour:     int(r.readUint8()),
		Minute:   int(r.readUint8()),
		Second:   int(r.readUint8()),
		Verify:   int(r.readUint8()),
		InOut:    int(r.readUint8()),
		WorkCode: int(r.readUint32()), //nolint:gosec
	}
	return l, r.fin()
}

// encodeTimestamp serialises a wall-clock instant as the terminal's
// calendar fields.
func encodeTimestamp(t time.Time) []byte {
	var w fieldWriter
	w.writeUint16(uint16(t.Year())) //nolint:gosec // year fits uint16
	w.writeUint8(uint8(t.Month()))
	w.writeUint8(uint8(t.Day()))    //nolint:gosec
	w.writeUint8(uint8(t.Hour()))   //nolint:gosec
	w.writeUint8(uint8(t.Minute())) //nolint:gosec
	w.writeUint8(uint8(t.Second())) //nolint:gosec
	return w.bytes()
}

// decodeTimestamp deserialises calendar fields into an instant in loc.
func decodeTimestamp(data []byte, loc *time.Location) (time.Time, error) {
	r := newFieldReader(data)
	year := int(r.readUint16())
	month := int(r.readUint8())
	day := int(r.readUint8())
	hour := int(r.readUint8())
	minute := int(r.readUint8())
	second := int(r.readUint8())
	if err := r.fin(); err != nil {
		return time.Time{}, err
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, loc), nil
}

// decodeDeviceInfo deserialises the terminal's identity strings.
func decodeDeviceInfo(data []byte) (DeviceInfo, error) {
	r := newFieldReader(data)
	info := DeviceInfo{
		SerialNumber:    r.readString(),
		FirmwareVersion: r.readString(),
		Platform:        r.readString(),
		Model:           r.readString(),
	}
	return info, r.fin()
}

// encodeDeviceInfo serialises identity strings. Used by test doubles.
func encodeDeviceInfo(info DeviceInfo) []byte {
	var w fieldWriter
	w.writeString(info.SerialNumber)
	w.writeString(info.FirmwareVersion)
	w.writeString(info.Platform)
	w.writeString(info.Model)
	return w.bytes()
}

// decodeEvent deserialises a realtime event frame. The invalid flag is
// reported the vendor way: zero means the transaction was valid.
func decodeEvent(data []byte, loc *time.Location) (RealtimeEvent, error) {
	r := newFieldReader(data)
	enroll := r.readString()
	year := int(r.readUint16())
	month := int(r.readUint8())
	day := int(r.readUint8())
	hour := int(r.readUint8())
	minute := int(r.readUint8())
	second := int(r.readUint8())
	verify := int(r.readUint8())
	inOut := int(r.readUint8())
	workCode := int(r.readUint32()) //nolint:gosec
	invalid := r.readUint8()
	if err := r.fin(); err != nil {
		return RealtimeEvent{}, err
	}

	return RealtimeEvent{
		EnrollNumber: enroll,
		Timestamp:    time.Date(year, time.Month(month), day, hour, minute, second, 0, loc),
		Verify:       VerifyMethod(verify),
		InOut:        InOutMode(inOut),
		WorkCode:     workCode,
		Valid:        invalid == 0,
	}, nil
}

// encodeEvent serialises a realtime event. Used by test doubles.
func encodeEvent(ev RealtimeEvent) []byte {
	var w fieldWriter
	w.writeString(ev.EnrollNumber)
	w.writeUint16(uint16(ev.Timestamp.Year())) //nolint:gosec
	w.writeUint8(uint8(ev.Timestamp.Month()))
	w.writeUint8(uint8(ev.Timestamp.Day()))    //nolint:gosec
	w.writeUint8(uint8(ev.Timestamp.Hour()))   //nolint:gosec
	w.writeUint8(uint8(ev.Timestamp.Minute())) //nolint:gosec
	w.writeUint8(uint8(ev.Timestamp.Second())) //nolint:gosec
	w.writeUint8(uint8(ev.Verify))             //nolint:gosec
	w.writeUint8(uint8(ev.InOut))              //nolint:gosec
	w.writeUint32(uint32(ev.WorkCode))         //nolint:gosec
	if ev.Valid {
		w.writeUint8(0)
	} else {
		w.writeUint8(1)
	}
	return w.bytes()
}
