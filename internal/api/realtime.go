package api

import (
	"net/http"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// handleStartRealtime registers for live punch events on a terminal and
// feeds them into the dispatch pipeline (WebSocket fanout plus any
// configured sinks).
//
// Starting twice is harmless: the registration refreshes and the
// callback is replaced with an identical one.
func (s *Server) handleStartRealtime(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	err := sess.StartRealtimeEvents(r.Context(), func(ev zk.RealtimeEvent) {
		s.dispatcher.Enqueue(ev)
	})
	if err != nil {
		writeTerminalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"realtime": true})
}

// handleStopRealtime stops feeding a terminal's events into dispatch.
// WebSocket subscriptions are left in place: a later start resumes
// delivery to the same subscribers.
func (s *Server) handleStopRealtime(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	sess.StopRealtimeEvents()
	writeJSON(w, http.StatusOK, map[string]any{"realtime": false})
}
