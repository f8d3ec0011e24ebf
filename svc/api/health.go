package api

import (
	"encoding/json"
	"net/http"
)

type HealthResponse struct {
	OK bool `json:"ok"`
}

// Healthz reports backend reachability in the body. The status is 200 even
// when the backend is down; the process itself is alive.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{OK: s.paste.IsReachable(r.Context())}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}
