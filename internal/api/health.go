package api

import (
	"encoding/json"
	"net/http"
)

type healthResponse struct {
	Status   string `json:"status"`
	Services int    `json:"services"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	names, _ := s.dispatcher.List()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Services: len(names)}); err != nil {
		s.logger.Error("encode healthz response", "error", err)
	}
}
