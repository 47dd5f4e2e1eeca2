package realtime

import (
	"encoding/json"
	"net/http"

	"chat-harness/internal/protocol"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Status())
}

func (s *Server) handleWorkspace(w http.ResponseWriter, r *http.Request) {
	entries, err := s.source.ListWorkspace()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, protocol.WorkspaceListingPayload{
		Dir:     s.source.WorkDir(),
		Label:   r.URL.Query().Get("label"),
		Entries: entries,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
