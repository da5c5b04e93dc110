package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// handleListUsers enumerates the terminal's user table.
//
// Query parameters:
//   - card: return only users whose card number matches. Cards are not
//     unique on these terminals, so this can return several users.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if card := r.URL.Query().Get("card"); card != "" {
		users, err := sess.FindUsersByCard(r.Context(), card)
		if err != nil {
			writeTerminalError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
		return
	}

	users, err := sess.GetUserRecords(r.Context())
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

// handleGetUser returns a single user by enroll number.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	user, err := sess.GetUser(r.Context(), chi.URLParam(r, "enroll"))
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleCreateUser writes a new user record to the terminal.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var payload zk.UserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	if err := sess.CreateUser(r.Context(), payload); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"enroll_number": payload.EnrollNumber,
		"created":       true,
	})
}

// handleUpdateUser applies a partial update. Fields absent from the body
// keep their current value on the terminal, including the card number.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var upd zk.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	enroll := chi.URLParam(r, "enroll")
	if err := sess.UpdateUser(r.Context(), enroll, upd); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enroll_number": enroll,
		"updated":       true,
	})
}

// handleDeleteUser removes a user from the terminal.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	enroll := chi.URLParam(r, "enroll")
	if err := sess.DeleteUser(r.Context(), enroll); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enroll_number": enroll,
		"deleted":       true,
	})
}

// handleClearUsers wipes the terminal's entire user table. Destructive
// and unconfirmed on the device side; the confirm=true query parameter
// is required so a stray DELETE can't empty a site's enrolment.
func (s *Server) handleClearUsers(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "true" {
		writeBadRequest(w, "clearing all users requires confirm=true")
		return
	}

	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.ClearUsers(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}

// handleClearAdmins demotes every administrator to an ordinary user.
func (s *Server) handleClearAdmins(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := sess.ClearAdministrators(r.Context()); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
}
