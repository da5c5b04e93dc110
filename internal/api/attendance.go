package api

import (
	"net/http"
	"strconv"
)

// handleListAttendance enumerates the terminal's attendance log table.
func (s *Server) handleListAttendance(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	logs, err := sess.GetAttendanceLogs(r.Context())
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

// handleClearAttendance wipes the terminal's attendance log table.
// Requires confirm=true: the logs are the terminal's only copy unless
// they were already pulled.
func (s *Server) handleClearAttendance(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeBadRequest(w, "clearing attendance logs requires confirm=true")
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.ClearAttendanceLogs(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// handleRecentEvents returns recorded punch events from the SQLite
// recorder, newest first.
//
// Query parameters:
//   - device: terminal address filter (required)
//   - limit: maximum rows, default 100
func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeNotFound(w, "event recorder is not enabled")
		return
	}

	device := r.URL.Query().Get("device")
	if device == "" {
		writeBadRequest(w, "device query parameter is required")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	evs, err := s.recorder.Recent(r.Context(), device, limit)
	if err != nil {
		writeInternalError(w, "querying recorded events failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": evs, "count": len(evs)})
}
