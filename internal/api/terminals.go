package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zkgate/zkgate-core/internal/infrastructure/mqtt"
	"github.com/zkgate/zkgate-core/internal/zk"
)

// addressParam parses the {address} URL parameter into a DeviceAddress.
// A bare hostname gets the configured default port.
func (s *Server) addressParam(r *http.Request) (zk.DeviceAddress, bool) {
	raw := chi.URLParam(r, "address")
	if raw == "" {
		return zk.DeviceAddress{}, false
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port in the parameter; treat the whole value as a host.
		return zk.NewDeviceAddress(raw, s.devCfg.DefaultPort), true
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return zk.DeviceAddress{}, false
	}
	return zk.DeviceAddress{Host: host, Port: port}, true
}

// session resolves the pooled session for the request's terminal. A
// terminal that was never connected has no session; handlers treat that
// the same as a disconnected one.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*zk.Session, bool) {
	addr, ok := s.addressParam(r)
	if !ok {
		writeBadRequest(w, "invalid terminal address")
		return nil, false
	}

	sess, ok := s.sessions.Get(addr)
	if !ok {
		writeError(w, http.StatusConflict, ErrCodeConflict, "terminal session not connected")
		return nil, false
	}
	return sess, true
}

// connectRequest is the body for POST /terminals/connect.
type connectRequest struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
}

// handleListTerminals returns the addresses with a live session.
func (s *Server) handleListTerminals(w http.ResponseWriter, _ *http.Request) {
	addrs := s.sessions.Addresses()
	writeJSON(w, http.StatusOK, map[string]any{
		"terminals": addrs,
		"count":     len(addrs),
	})
}

// handleConnect opens (or re-opens) a session to a terminal.
//
// Reconnecting an already-connected terminal tears the old link down
// first, so repeated calls are safe.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Host == "" {
		writeBadRequest(w, "host is required")
		return
	}
	if req.Port == 0 {
		req.Port = s.devCfg.DefaultPort
	}
	if req.Port < 1 || req.Port > 65535 {
		writeBadRequest(w, "port out of range")
		return
	}

	addr := zk.NewDeviceAddress(req.Host, req.Port)
	sess := s.sessions.GetOrCreate(addr)

	if err := sess.Connect(r.Context(), addr); err != nil {
		writeTerminalError(w, err)
		return
	}

	s.publishConnection(addr.String(), true)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr.String(),
		"connected": true,
	})
}

// handleDisconnect closes the session for a terminal. Disconnecting a
// terminal that is not connected succeeds; the end state is the same.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.addressParam(r)
	if !ok {
		writeBadRequest(w, "invalid terminal address")
		return
	}

	s.sessions.Remove(addr)
	s.publishConnection(addr.String(), false)
	writeJSON(w, http.StatusOK, map[string]any{
		"address":   addr.String(),
		"connected": false,
	})
}

// handleStatus returns the terminal's identity and counter snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	status, err := sess.GetDeviceStatus(r.Context())
	if err != nil {
		writeTerminalError(w, err)
		return
	}

	// Mirror to time-series storage for capacity dashboards.
	if s.tsdb != nil {
		s.tsdb.WriteTerminalStatus(status.Address, status)
	}

	writeJSON(w, http.StatusOK, status)
}

// handleGetTime returns the terminal's clock.
func (s *Server) handleGetTime(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	t, err := sess.GetDeviceTime(r.Context())
	if err != nil {
		writeTerminalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"time": t.Format(time.RFC3339),
	})
}

// setTimeRequest is the body for PUT /terminals/{address}/time.
// An absent or empty time field syncs the terminal to the gateway clock.
type setTimeRequest struct {
	Time string `json:"time,omitempty"`
}

func (s *Server) handleSetTime(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req setTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var target *time.Time
	if req.Time != "" {
		t, err := time.Parse(time.RFC3339, req.Time)
		if err != nil {
			writeBadRequest(w, "time must be RFC3339")
			return
		}
		target = &t
	}

	if err := sess.SetDeviceTime(r.Context(), target); err != nil {
		writeTerminalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// handleEnable re-enables user interaction at the terminal keypad/sensor.
func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.EnableInteraction(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interaction_enabled": true})
}

// handleDisable locks the terminal's keypad and sensor.
func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.DisableInteraction(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interaction_enabled": false})
}

// handleRestart reboots the terminal. The session is released: the
// terminal drops the connection while it boots.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.Restart(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}

	if addr, ok := s.addressParam(r); ok {
		s.publishConnection(addr.String(), false)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"restarting": true})
}

// handlePowerOff shuts the terminal down.
func (s *Server) handlePowerOff(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.PowerOff(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}

	if addr, ok := s.addressParam(r); ok {
		s.publishConnection(addr.String(), false)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"powering_off": true})
}

// publishConnection mirrors connect/disconnect transitions onto MQTT.
// Best effort: a broker outage never fails the HTTP request.
func (s *Server) publishConnection(address string, connected bool) {
	if s.mqtt == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"address":   address,
		"connected": connected,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}

	topic := mqtt.Topics{}.TerminalConnection(address)
	if err := s.mqtt.PublishRetained(topic, payload); err != nil {
		s.logger.Warn("mqtt connection notice failed", "address", address, "error", err)
	}
}
