package zk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts and buffer sizes for terminal communication.
const (
	// defaultConnectTimeout is the maximum time to wait for dial and handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultReadTimeout is the per-call reply timeout.
	defaultReadTimeout = 15 * time.Second

	// defaultWriteTimeout is the timeout for write operations.
	defaultWriteTimeout = 5 * time.Second

	// defaultEventQueueSize is the buffer between the receive loop and
	// event consumers.
	defaultEventQueueSize = 256

	// maxFrameSize bounds a single frame. Terminal records are small;
	// anything larger indicates stream corruption.
	maxFrameSize = 4096
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// LinkOptions holds connection tuning for a TCPLink.
type LinkOptions struct {
	// ConnectTimeout is the maximum time for dial and handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// ReadTimeout is the per-call reply timeout. Default: 15 seconds.
	ReadTimeout time.Duration

	// WriteTimeout is the per-call write timeout. Default: 5 seconds.
	WriteTimeout time.Duration

	// EventQueueSize is the realtime event buffer. Default: 256.
	EventQueueSize int

	// Location is the zone applied to calendar fields reported by the
	// terminal. Default: UTC.
	Location *time.Location

	// Logger is optional.
	Logger Logger
}

func (o LinkOptions) withDefaults() LinkOptions {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = defaultReadTimeout
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.EventQueueSize == 0 {
		o.EventQueueSize = defaultEventQueueSize
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// Link is the primitive vendor contract: blocking calls against one
// terminal plus a push channel for realtime events. TCPLink is the
// production implementation; tests substitute their own.
type Link interface {
	// Device control
	EnableDevice(ctx context.Context, enabled bool) error
	RegisterEvents(ctx context.Context, mask uint16) error
	RefreshData(ctx context.Context) error
	Restart(ctx context.Context) error
	PowerOff(ctx context.Context) error

	// Identity, counters, clock
	Info(ctx context.Context) (DeviceInfo, error)
	StatusValue(ctx context.Context, item StatusItem) (int, error)
	DeviceTime(ctx context.Context) (time.Time, error)
	SetDeviceTime(ctx context.Context, t time.Time) error

	// User table. UserInfo loads the requested user's card number into
	// the shared card buffer as a side effect; found=false means the
	// user does not exist.
	BeginUserEnum(ctx context.Context) error
	NextUser(ctx context.Context) (u RawUser, ok bool, err error)
	UserInfo(ctx context.Context, enroll string) (u RawUser, found bool, err error)
	SetUserInfo(ctx context.Context, u RawUser) error
	DeleteUser(ctx context.Context, enroll string) error
	ClearUsers(ctx context.Context) error
	ClearAdministrators(ctx context.Context) error

	// Shared card buffer
	CardBuffer(ctx context.Context) (string, error)
	SetCardBuffer(ctx context.Context, card string) error

	// Attendance log table
	BeginLogEnum(ctx context.Context) error
	NextLog(ctx context.Context) (l RawLog, ok bool, err error)
	ClearLogs(ctx context.Context) error

	// Events is the realtime push channel. Closed when the link closes.
	Events() <-chan RealtimeEvent

	// DroppedEvents counts events discarded because the queue was full.
	DroppedEvents() uint64

	Close() error
}

// Ensure TCPLink implements Link.
var _ Link = (*TCPLink)(nil)

// TCPLink is one physical TCP connection to one terminal.
//
// Thread Safety:
//   - All methods are safe for concurrent use; calls serialise on an
//     internal mutex (the terminal handles one conversation at a time).
//   - Realtime events are delivered on the Events channel from the
//     receive loop; consumers must drain it promptly or events drop.
type TCPLink struct {
	addr DeviceAddress
	opts LinkOptions
	conn net.Conn

	// One in-flight call at a time
	callMu sync.Mutex

	// Reply hand-off from the receive loop to the in-flight call
	replyMu sync.Mutex
	reply   chan replyFrame

	events  chan RealtimeEvent
	dropped atomic.Uint64

	done *closeOnce
	wg   sync.WaitGroup
}

type replyFrame struct {
	frameType uint16
	payload   []byte
}

// Dial connects to a terminal and performs the session handshake.
//
// Parameters:
//   - ctx: Context for cancellation (bounds dial and handshake)
//   - addr: Terminal address
//   - opts: Connection tuning (zero values take defaults)
//
// Returns:
//   - *TCPLink: Connected link ready for use
//   - error: ErrUnreachable (wrapped) if dial or handshake fails
func Dial(ctx context.Context, addr DeviceAddress, opts LinkOptions) (*TCPLink, error) {
	opts = opts.withDefaults()

	if ctx == nil {
		ctx = context.Background()
	}
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrUnreachable, addr, err)
	}

	l := &TCPLink{
		addr:   addr,
		opts:   opts,
		conn:   conn,
		events: make(chan RealtimeEvent, opts.EventQueueSize),
		done:   newCloseOnce(),
	}

	// Handshake happens before the receive loop starts, so the reply is
	// read synchronously here.
	if err := l.handshake(dialCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %w", ErrUnreachable, addr, err)
	}

	l.wg.Add(1)
	go l.receiveLoop()

	return l, nil
}

// handshake sends the connect frame and reads its acknowledgement.
func (l *TCPLink) handshake(ctx context.Context) error {
	deadline := time.Now().Add(l.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := l.conn.Write(encodeFrame(cmdConnect, nil)); err != nil {
		return fmt.Errorf("write: %w", err)
	}

	readDeadline := time.Now().Add(l.opts.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(readDeadline) {
		readDeadline = d
	}
	if err := l.conn.SetReadDeadline(readDeadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	frameType, payload, err := readFrame(l.conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if frameType != cmdConnect {
		return fmt.Errorf("unexpected reply type 0x%04X", frameType)
	}
	if len(payload) < 1 || payload[0] != ackOK {
		return errors.New("terminal refused session")
	}
	return nil
}

// readFrame reads one complete frame from the connection.
func readFrame(conn net.Conn) (uint16, []byte, error) {
	var sizeBuf [2]byte
	if _, err := io.ReadFull(conn, sizeBuf[:]); err != nil {
		return 0, nil, err
	}

	size := int(uint16(sizeBuf[0])<<8 | uint16(sizeBuf[1]))
	if size < 2 {
		return 0, nil, fmt.Errorf("%w: declared size %d", ErrInvalidFrame, size)
	}
	if size+2 > maxFrameSize {
		// Cannot skip an oversized frame safely; the stream is desynced.
		return 0, nil, fmt.Errorf("%w: oversized frame (%d bytes)", ErrInvalidFrame, size+2)
	}

	buf := make([]byte, 2+size)
	copy(buf[:2], sizeBuf[:])
	if _, err := io.ReadFull(conn, buf[2:]); err != nil {
		return 0, nil, err
	}

	return parseFrame(buf)
}

// receiveLoop reads frames until shutdown, routing event frames to the
// events channel and everything else to the in-flight call.
func (l *TCPLink) receiveLoop() {
	defer l.wg.Done()
	defer close(l.events)

	for {
		select {
		case <-l.done.Done():
			return
		default:
		}

		// A long idle deadline keeps the loop responsive to Close while
		// allowing arbitrary gaps between events. Per-call reply timing
		// is enforced by the caller, not here.
		if err := l.conn.SetReadDeadline(time.Now().Add(l.opts.ReadTimeout)); err != nil {
			return
		}

		frameType, payload, err := readFrame(l.conn)
		if err != nil {
			if l.isClosed() {
				return
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			l.logError("receive failed, closing link", err)
			l.done.Close()
			l.conn.Close()
			return
		}

		if isEventFrame(frameType) {
			l.handleEventFrame(frameType, payload)
			continue
		}

		l.deliverReply(replyFrame{frameType: frameType, payload: payload})
	}
}

// handleEventFrame decodes and queues a pushed event. Non-blocking: the
// terminal's delivery path must never stall on a slow consumer.
func (l *TCPLink) handleEventFrame(frameType uint16, payload []byte) {
	if frameType != evtRealtime {
		l.logDebug("ignoring unknown event frame", "type", fmt.Sprintf("0x%04X", frameType))
		return
	}

	ev, err := decodeEvent(payload, l.opts.Location)
	if err != nil {
		l.logError("decode event failed", err)
		return
	}
	ev.Device = l.addr.String()

	select {
	case l.events <- ev:
	default:
		l.dropped.Add(1)
		l.logError("event queue full, dropping event", nil)
	}
}

// deliverReply hands a reply frame to the in-flight call, if any.
func (l *TCPLink) deliverReply(rf replyFrame) {
	l.replyMu.Lock()
	ch := l.reply
	l.replyMu.Unlock()

	if ch == nil {
		l.logDebug("unsolicited reply frame", "type", fmt.Sprintf("0x%04X", rf.frameType))
		return
	}
	select {
	case ch <- rf:
	default:
	}
}

// call performs one request/reply exchange. Returns the acknowledgement
// byte and the remaining reply fields.
func (l *TCPLink) call(ctx context.Context, cmd uint16, payload []byte) (byte, []byte, error) {
	l.callMu.Lock()
	defer l.callMu.Unlock()

	if l.isClosed() {
		return 0, nil, ErrLinkClosed
	}

	ch := make(chan replyFrame, 1)
	l.replyMu.Lock()
	l.reply = ch
	l.replyMu.Unlock()
	defer func() {
		l.replyMu.Lock()
		l.reply = nil
		l.replyMu.Unlock()
	}()

	deadline := time.Now().Add(l.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return 0, nil, fmt.Errorf("zk: set write deadline: %w", err)
	}
	if _, err := l.conn.Write(encodeFrame(cmd, payload)); err != nil {
		return 0, nil, fmt.Errorf("zk: write 0x%04X: %w", cmd, err)
	}

	timer := time.NewTimer(l.opts.ReadTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return 0, nil, fmt.Errorf("zk: call 0x%04X: %w", cmd, ctx.Err())
	case <-l.done.Done():
		return 0, nil, ErrLinkClosed
	case <-timer.C:
		return 0, nil, fmt.Errorf("zk: call 0x%04X: reply timeout", cmd)
	case rf := <-ch:
		if rf.frameType != cmd {
			return 0, nil, fmt.Errorf("%w: reply type 0x%04X for call 0x%04X",
				ErrInvalidFrame, rf.frameType, cmd)
		}
		if len(rf.payload) < 1 {
			return 0, nil, fmt.Errorf("%w: reply missing acknowledgement", ErrInvalidFrame)
		}
		return rf.payload[0], rf.payload[1:], nil
	}
}

// callOK performs an exchange where the only meaningful outcome is the
// acknowledgement.
func (l *TCPLink) callOK(ctx context.Context, cmd uint16, payload []byte) error {
	ack, _, err := l.call(ctx, cmd, payload)
	if err != nil {
		return err
	}
	if ack != ackOK {
		return ErrOperationFailed
	}
	return nil
}

// EnableDevice suspends or resumes user-facing interaction (scanning,
// keypad) on the terminal.
func (l *TCPLink) EnableDevice(ctx context.Context, enabled bool) error {
	var w fieldWriter
	w.writeBool(enabled)
	return l.callOK(ctx, cmdEnableDevice, w.bytes())
}

// RegisterEvents subscribes this link to the terminal's realtime
// transaction events for the given category mask.
func (l *TCPLink) RegisterEvents(ctx context.Context, mask uint16) error {
	var w fieldWriter
	w.writeUint16(mask)
	return l.callOK(ctx, cmdRegEvent, w.bytes())
}

// RefreshData asks the terminal to reload its internal tables after a
// mutation.
func (l *TCPLink) RefreshData(ctx context.Context) error {
	return l.callOK(ctx, cmdRefreshData, nil)
}

// Restart reboots the terminal.
func (l *TCPLink) Restart(ctx context.Context) error {
	return l.callOK(ctx, cmdRestart, nil)
}

// PowerOff shuts the terminal down.
func (l *TCPLink) PowerOff(ctx context.Context) error {
	return l.callOK(ctx, cmdPowerOff, nil)
}

// Info returns the terminal's identity strings.
func (l *TCPLink) Info(ctx context.Context) (DeviceInfo, error) {
	ack, body, err := l.call(ctx, cmdGetInfo, nil)
	if err != nil {
		return DeviceInfo{}, err
	}
	if ack != ackOK {
		return DeviceInfo{}, ErrOperationFailed
	}
	return decodeDeviceInfo(body)
}

// StatusValue reads one terminal counter.
func (l *TCPLink) StatusValue(ctx context.Context, item StatusItem) (int, error) {
	var w fieldWriter
	w.writeUint8(uint8(item)) //nolint:gosec // status codes fit a byte
	ack, body, err := l.call(ctx, cmdGetStatus, w.bytes())
	if err != nil {
		return 0, err
	}
	if ack != ackOK {
		return 0, ErrOperationFailed
	}
	r := newFieldReader(body)
	v := int(r.readUint32())
	return v, r.fin()
}

// DeviceTime reads the terminal's clock.
func (l *TCPLink) DeviceTime(ctx context.Context) (time.Time, error) {
	ack, body, err := l.call(ctx, cmdGetTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	if ack != ackOK {
		return time.Time{}, ErrOperationFailed
	}
	return decodeTimestamp(body, l.opts.Location)
}

// SetDeviceTime writes the terminal's clock.
func (l *TCPLink) SetDeviceTime(ctx context.Context, t time.Time) error {
	return l.callOK(ctx, cmdSetTime, encodeTimestamp(t.In(l.opts.Location)))
}

// BeginUserEnum primes the user table for iteration.
func (l *TCPLink) BeginUserEnum(ctx context.Context) error {
	return l.callOK(ctx, cmdBeginUsers, nil)
}

// NextUser reads the next user record. ok=false means end of data.
func (l *TCPLink) NextUser(ctx context.Context) (RawUser, bool, error) {
	ack, body, err := l.call(ctx, cmdNextUser, nil)
	if err != nil {
		return RawUser{}, false, err
	}
	switch ack {
	case ackEnd:
		return RawUser{}, false, nil
	case ackOK:
		u, err := decodeRawUser(body)
		if err != nil {
			return RawUser{}, false, err
		}
		return u, true, nil
	default:
		return RawUser{}, false, ErrOperationFailed
	}
}

// UserInfo fetches one user by enrollment number. As a side effect the
// terminal loads that user's card number into the shared card buffer.
func (l *TCPLink) UserInfo(ctx context.Context, enroll string) (RawUser, bool, error) {
	var w fieldWriter
	w.writeString(enroll)
	ack, body, err := l.call(ctx, cmdGetUser, w.bytes())
	if err != nil {
		return RawUser{}, false, err
	}
	if ack != ackOK {
		return RawUser{}, false, nil
	}
	u, err := decodeRawUser(body)
	if err != nil {
		return RawUser{}, false, err
	}
	return u, true, nil
}

// SetUserInfo writes one user record. The card number written alongside
// it is whatever the shared card buffer currently holds.
func (l *TCPLink) SetUserInfo(ctx context.Context, u RawUser) error {
	return l.callOK(ctx, cmdSetUser, encodeRawUser(u))
}

// DeleteUser removes one user and all their enrolled credentials.
func (l *TCPLink) DeleteUser(ctx context.Context, enroll string) error {
	var w fieldWriter
	w.writeString(enroll)
	return l.callOK(ctx, cmdDeleteUser, w.bytes())
}

// ClearUsers wipes the terminal's user table.
func (l *TCPLink) ClearUsers(ctx context.Context) error {
	return l.callOK(ctx, cmdClearUsers, nil)
}

// ClearAdministrators demotes all administrator accounts to ordinary
// users, recovering a terminal with a lost admin credential.
func (l *TCPLink) ClearAdministrators(ctx context.Context) error {
	return l.callOK(ctx, cmdClearAdmins, nil)
}

// CardBuffer reads the shared last-fetched card number buffer.
func (l *TCPLink) CardBuffer(ctx context.Context) (string, error) {
	ack, body, err := l.call(ctx, cmdGetCard, nil)
	if err != nil {
		return "", err
	}
	if ack != ackOK {
		return "", ErrOperationFailed
	}
	r := newFieldReader(body)
	card := r.readString()
	return card, r.fin()
}

// SetCardBuffer writes the shared card number buffer ahead of a
// SetUserInfo call.
func (l *TCPLink) SetCardBuffer(ctx context.Context, card string) error {
	var w fieldWriter
	w.writeString(card)
	return l.callOK(ctx, cmdSetCard, w.bytes())
}

// BeginLogEnum primes the attendance log table for iteration.
func (l *TCPLink) BeginLogEnum(ctx context.Context) error {
	return l.callOK(ctx, cmdBeginLogs, nil)
}

// NextLog reads the next attendance log record. ok=false means end of data.
func (l *TCPLink) NextLog(ctx context.Context) (RawLog, bool, error) {
	ack, body, err := l.call(ctx, cmdNextLog, nil)
	if err != nil {
		return RawLog{}, false, err
	}
	switch ack {
	case ackEnd:
		return RawLog{}, false, nil
	case ackOK:
		rec, err := decodeRawLog(body)
		if err != nil {
			return RawLog{}, false, err
		}
		return rec, true, nil
	default:
		return RawLog{}, false, ErrOperationFailed
	}
}

// ClearLogs wipes the terminal's attendance log table.
func (l *TCPLink) ClearLogs(ctx context.Context) error {
	return l.callOK(ctx, cmdClearLogs, nil)
}

// Events returns the realtime event channel. Closed when the link closes.
func (l *TCPLink) Events() <-chan RealtimeEvent {
	return l.events
}

// DroppedEvents returns the count of events discarded due to a full queue.
func (l *TCPLink) DroppedEvents() uint64 {
	return l.dropped.Load()
}

// isClosed returns true if the link has been closed.
func (l *TCPLink) isClosed() bool {
	select {
	case <-l.done.Done():
		return true
	default:
		return false
	}
}

// Close releases the connection. A disconnect frame is sent best-effort;
// the terminal also treats a dropped socket as a disconnect. Safe to call
// multiple times.
func (l *TCPLink) Close() error {
	if l.isClosed() {
		return nil
	}

	// Best-effort courtesy frame. Errors ignored: the socket is going away.
	if err := l.conn.SetWriteDeadline(time.Now().Add(l.opts.WriteTimeout)); err == nil {
		l.conn.Write(encodeFrame(cmdDisconnect, nil)) //nolint:errcheck
	}

	l.done.Close()
	l.conn.Close()
	l.wg.Wait()
	return nil
}

// logDebug logs a debug message if a logger is set.
func (l *TCPLink) logDebug(msg string, keysAndValues ...any) {
	if l.opts.Logger != nil {
		l.opts.Logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is set.
func (l *TCPLink) logError(msg string, err error) {
	if l.opts.Logger != nil {
		l.opts.Logger.Error(msg, "error", err)
	}
}
