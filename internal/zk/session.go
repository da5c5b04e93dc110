package zk

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Dialer establishes a Link to a terminal. Tests substitute their own.
type Dialer func(ctx context.Context, addr DeviceAddress, opts LinkOptions) (Link, error)

// Options configures a Session.
type Options struct {
	// Dial establishes links. Default: Dial (TCP).
	Dial Dialer

	// Link is passed to the dialer.
	Link LinkOptions

	// Location is the zone used when SetDeviceTime is called without an
	// explicit timestamp. Default: UTC.
	Location *time.Location

	// MaxRecords bounds enumeration loops. Default: 10000.
	MaxRecords int

	// Logger is optional.
	Logger Logger
}

// Session owns the connect/disconnect lifecycle for one terminal and
// serialises every device conversation through one mutex.
//
// Thread Safety:
//   - All methods are safe for concurrent use; concurrent calls queue.
//   - The realtime callback runs on the link's delivery goroutine and
//     must not call back into the Session (deadlock against a
//     foreground operation).
//
// Lifecycle:
//   - Connect is idempotent: an existing link is torn down first, so two
//     calls in a row leave exactly one active connection.
//   - Transport-level failures mid-operation leave the session
//     disconnected, never half-open.
type Session struct {
	mu                 sync.Mutex
	link               Link
	connected          bool
	addr               DeviceAddress
	interactionEnabled bool

	dial       Dialer
	linkOpts   LinkOptions
	loc        *time.Location
	maxRecords int
	logger     Logger

	cbMu    sync.RWMutex
	onEvent func(RealtimeEvent)

	pumpWG sync.WaitGroup
}

// NewSession creates a Session. It does not connect.
func NewSession(opts Options) *Session {
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, addr DeviceAddress, lo LinkOptions) (Link, error) {
			return Dial(ctx, addr, lo)
		}
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxRecords <= 0 {
		opts.MaxRecords = defaultMaxRecords
	}
	if opts.Link.Location == nil {
		opts.Link.Location = opts.Location
	}
	if opts.Link.Logger == nil {
		opts.Link.Logger = opts.Logger
	}

	return &Session{
		dial:       opts.Dial,
		linkOpts:   opts.Link,
		loc:        opts.Location,
		maxRecords: opts.MaxRecords,
		logger:     opts.Logger,
	}
}

// Connect establishes exclusive access to the terminal at addr. If a
// connection is already open it is torn down first. On failure the
// session is left cleanly disconnected.
func (s *Session) Connect(ctx context.Context, addr DeviceAddress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		s.teardownLocked()
	}

	link, err := s.dial(ctx, addr, s.linkOpts)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	s.link = link
	s.addr = addr
	s.connected = true
	s.interactionEnabled = true

	s.pumpWG.Add(1)
	go s.pumpEvents(link.Events())

	s.logInfo("connected", "device", addr.String())
	return nil
}

// Disconnect releases the link. No-op when not connected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return
	}
	s.teardownLocked()
	s.logInfo("disconnected", "device", s.addr.String())
}

// Close disconnects and waits for the event pump to drain. For owner
// disposal; Disconnect suffices between operations.
func (s *Session) Close() {
	s.Disconnect()
	s.pumpWG.Wait()
}

// teardownLocked releases the link. Caller holds s.mu.
func (s *Session) teardownLocked() {
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.logError("link close failed", err)
		}
		s.link = nil
	}
	s.connected = false
}

// IsConnected reports whether the session holds an open link.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Address returns the connected terminal's address, or the zero value
// when disconnected.
func (s *Session) Address() DeviceAddress {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return DeviceAddress{}
	}
	return s.addr
}

// pumpEvents forwards link events to the registered realtime callback.
// Exits when the link's event channel closes.
func (s *Session) pumpEvents(ch <-chan RealtimeEvent) {
	defer s.pumpWG.Done()

	for ev := range ch {
		s.cbMu.RLock()
		cb := s.onEvent
		s.cbMu.RUnlock()

		if cb != nil {
			cb(ev)
		}
	}
}

// exec runs fn against the link under the session mutex. A transport
// failure tears the link down so the session is never left half-open.
func (s *Session) exec(fn func(Link) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	err := fn(s.link)
	if isTransport(err) {
		s.logError("transport failure, tearing down link", err)
		s.teardownLocked()
	}
	return err
}

// withInteractionPaused suspends user-facing interaction on the terminal
// for the duration of fn, guaranteeing exactly one re-enable on every
// exit path. Scanning against live tables mid-mutation races the
// terminal's own event writes.
func (s *Session) withInteractionPaused(ctx context.Context, link Link, fn func() error) (err error) {
	if err := link.EnableDevice(ctx, false); err != nil {
		return fmt.Errorf("disable interaction: %w", err)
	}
	s.interactionEnabled = false

	defer func() {
		if enableErr := link.EnableDevice(ctx, true); enableErr != nil {
			s.logError("re-enable interaction failed", enableErr)
			if err == nil {
				err = fmt.Errorf("re-enable interaction: %w", enableErr)
			}
			return
		}
		s.interactionEnabled = true
	}()

	return fn()
}

// GetDeviceStatus returns the structured status record for a connection
// test. Read-only; interaction stays enabled.
func (s *Session) GetDeviceStatus(ctx context.Context) (DeviceStatus, error) {
	var status DeviceStatus

	err := s.exec(func(link Link) error {
		info, err := link.Info(ctx)
		if err != nil {
			return err
		}

		counters := []struct {
			item StatusItem
			dst  *int
		}{
			{StatusUserCount, &status.UserCount},
			{StatusLogCount, &status.LogCount},
			{StatusUserCapacity, &status.UserCapacity},
			{StatusLogCapacity, &status.LogCapacity},
		}
		for _, c := range counters {
			v, err := link.StatusValue(ctx, c.item)
			if err != nil {
				return err
			}
			*c.dst = v
		}

		clock, err := link.DeviceTime(ctx)
		if err != nil {
			return err
		}

		status.Address = s.addr.String()
		status.Connected = true
		status.SerialNumber = info.SerialNumber
		status.FirmwareVersion = info.FirmwareVersion
		status.Platform = info.Platform
		status.Model = info.Model
		status.DeviceTime = clock
		status.InteractionEnabled = s.interactionEnabled
		return nil
	})

	return status, err
}

// GetDeviceTime reads the terminal's clock.
func (s *Session) GetDeviceTime(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.exec(func(link Link) error {
		var err error
		t, err = link.DeviceTime(ctx)
		return err
	})
	return t, err
}

// SetDeviceTime writes the terminal's clock. A nil timestamp means "now"
// in the session's configured zone.
func (s *Session) SetDeviceTime(ctx context.Context, t *time.Time) error {
	target := time.Now().In(s.loc)
	if t != nil {
		target = t.In(s.loc)
	}

	return s.exec(func(link Link) error {
		if err := link.SetDeviceTime(ctx, target); err != nil {
			return err
		}
		return link.RefreshData(ctx)
	})
}

// EnableInteraction resumes user-facing scanning on the terminal.
func (s *Session) EnableInteraction(ctx context.Context) error {
	return s.exec(func(link Link) error {
		if err := link.EnableDevice(ctx, true); err != nil {
			return err
		}
		s.interactionEnabled = true
		return nil
	})
}

// DisableInteraction suspends user-facing scanning on the terminal.
func (s *Session) DisableInteraction(ctx context.Context) error {
	return s.exec(func(link Link) error {
		if err := link.EnableDevice(ctx, false); err != nil {
			return err
		}
		s.interactionEnabled = false
		return nil
	})
}

// Restart reboots the terminal. On success the link is released; the
// terminal drops all sessions while rebooting.
func (s *Session) Restart(ctx context.Context) error {
	return s.execAndRelease(func(link Link) error {
		return link.Restart(ctx)
	})
}

// PowerOff shuts the terminal down and releases the link.
func (s *Session) PowerOff(ctx context.Context) error {
	return s.execAndRelease(func(link Link) error {
		return link.PowerOff(ctx)
	})
}

// execAndRelease runs fn and tears the link down on success as well as
// on transport failure. For operations after which the terminal is gone.
func (s *Session) execAndRelease(fn func(Link) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return ErrNotConnected
	}

	err := fn(s.link)
	if err == nil || isTransport(err) {
		s.teardownLocked()
	}
	return err
}

// GetUserRecords materialises the terminal's user table, card numbers
// included.
func (s *Session) GetUserRecords(ctx context.Context) ([]UserRecord, error) {
	var users []UserRecord
	err := s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			e := newEnumerator(link, s.maxRecords, s.loc, s.logger)
			var err error
			users, err = e.allUsers(ctx)
			return err
		})
	})
	return users, err
}

// GetUser fetches one user by enrollment number. Returns ErrNotFound
// when the user does not exist.
func (s *Session) GetUser(ctx context.Context, enroll string) (UserRecord, error) {
	var rec UserRecord
	err := s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			raw, found, err := link.UserInfo(ctx, enroll)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("user %s: %w", enroll, ErrNotFound)
			}

			// UserInfo just loaded this user's card into the buffer.
			card, err := link.CardBuffer(ctx)
			if err != nil {
				return err
			}
			if card == "0" {
				card = ""
			}

			rec = UserRecord{
				EnrollNumber: raw.Enroll,
				Name:         raw.Name,
				Password:     raw.Password,
				CardNumber:   card,
				Privilege:    Privilege(raw.Privilege),
				Enabled:      raw.Enabled,
			}
			return nil
		})
	})
	return rec, err
}

// FindUsersByCard returns every user assigned the given card number. The
// terminal permits one card on several enrollment numbers, so the result
// is a list.
func (s *Session) FindUsersByCard(ctx context.Context, card string) ([]UserRecord, error) {
	users, err := s.GetUserRecords(ctx)
	if err != nil {
		return nil, err
	}

	matches := make([]UserRecord, 0, 1)
	for _, u := range users {
		if u.CardNumber == card {
			matches = append(matches, u)
		}
	}
	return matches, nil
}

// CreateUser writes a new user record. The card buffer is primed before
// the record write; zero is the terminal's "no card" sentinel.
func (s *Session) CreateUser(ctx context.Context, p UserPayload) error {
	if !validEnroll(p.EnrollNumber) {
		return fmt.Errorf("%w: %q", ErrInvalidEnrollNumber, p.EnrollNumber)
	}

	return s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			card := p.CardNumber
			if card == "" {
				card = "0"
			}
			if err := link.SetCardBuffer(ctx, card); err != nil {
				return err
			}

			if err := link.SetUserInfo(ctx, RawUser{
				Enroll:    p.EnrollNumber,
				Name:      p.Name,
				Password:  p.Password,
				Privilege: int(p.Privilege),
				Enabled:   p.Enabled,
			}); err != nil {
				return err
			}

			return link.RefreshData(ctx)
		})
	})
}

// UpdateUser applies a partial update. Fields not supplied keep their
// current value. Returns ErrNotFound when the user does not exist.
//
// The read-before-write also loads the existing card number into the
// shared buffer, so an omitted card field is preserved by simply not
// touching the buffer before the record write.
func (s *Session) UpdateUser(ctx context.Context, enroll string, upd UserUpdate) error {
	return s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			existing, found, err := link.UserInfo(ctx, enroll)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("user %s: %w", enroll, ErrNotFound)
			}

			merged := existing
			if upd.Name != nil {
				merged.Name = *upd.Name
			}
			if upd.Password != nil {
				merged.Password = *upd.Password
			}
			if upd.Privilege != nil {
				merged.Privilege = int(*upd.Privilege)
			}
			if upd.Enabled != nil {
				merged.Enabled = *upd.Enabled
			}

			if upd.CardNumber != nil {
				card := *upd.CardNumber
				if card == "" {
					card = "0"
				}
				if err := link.SetCardBuffer(ctx, card); err != nil {
					return err
				}
			}

			if err := link.SetUserInfo(ctx, merged); err != nil {
				return err
			}

			return link.RefreshData(ctx)
		})
	})
}

// DeleteUser removes one user. Returns ErrNotFound when the user does
// not exist, distinct from the terminal rejecting the delete.
func (s *Session) DeleteUser(ctx context.Context, enroll string) error {
	return s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			_, found, err := link.UserInfo(ctx, enroll)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("user %s: %w", enroll, ErrNotFound)
			}

			if err := link.DeleteUser(ctx, enroll); err != nil {
				return err
			}

			return link.RefreshData(ctx)
		})
	})
}

// ClearUsers wipes the terminal's user table.
func (s *Session) ClearUsers(ctx context.Context) error {
	return s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			if err := link.ClearUsers(ctx); err != nil {
				return err
			}
			return link.RefreshData(ctx)
		})
	})
}

// ClearAdministrators demotes all administrator accounts, recovering a
// terminal with a lost admin credential.
func (s *Session) ClearAdministrators(ctx context.Context) error {
	return s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			if err := link.ClearAdministrators(ctx); err != nil {
				return err
			}
			return link.RefreshData(ctx)
		})
	})
}

// GetAttendanceLogs materialises the terminal's attendance log table.
func (s *Session) GetAttendanceLogs(ctx context.Context) ([]AttendanceLogRecord, error) {
	var logs []AttendanceLogRecord
	err := s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			e := newEnumerator(link, s.maxRecords, s.loc, s.logger)
			var err error
			logs, err = e.allLogs(ctx)
			return err
		})
	})
	return logs, err
}

// ClearAttendanceLogs wipes the terminal's attendance log table.
func (s *Session) ClearAttendanceLogs(ctx context.Context) error {
	return s.exec(func(link Link) error {
		return s.withInteractionPaused(ctx, link, func() error {
			if err := link.ClearLogs(ctx); err != nil {
				return err
			}
			return link.RefreshData(ctx)
		})
	})
}

// StartRealtimeEvents registers for the broadest event category and
// installs callback as the consumer. The callback runs on the link's
// delivery goroutine: it must be fast, non-blocking, and must not call
// back into this Session.
func (s *Session) StartRealtimeEvents(ctx context.Context, callback func(RealtimeEvent)) error {
	// Install the callback first: the terminal may push events the
	// moment registration lands, and those must not race a nil callback.
	s.cbMu.Lock()
	s.onEvent = callback
	s.cbMu.Unlock()

	err := s.exec(func(link Link) error {
		return link.RegisterEvents(ctx, EventMaskAll)
	})
	if err != nil {
		s.cbMu.Lock()
		s.onEvent = nil
		s.cbMu.Unlock()
		return err
	}
	return nil
}

// StopRealtimeEvents deregisters the callback. Router subscriptions are
// left untouched; clearing those is the caller's decision.
func (s *Session) StopRealtimeEvents() {
	s.cbMu.Lock()
	s.onEvent = nil
	s.cbMu.Unlock()
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, err error) {
	if s.logger != nil {
		s.logger.Error(msg, "error", err)
	}
}
