package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// saveRequest is the JSON body for POST /v1/cache/save.
type saveRequest struct {
	Location string `json:"location"`
}

// loadRequest is the JSON body for POST /v1/cache/load.
type loadRequest struct {
	Location  string `json:"location"`
	Reconcile bool   `json:"reconcile"`
}

// importRequest is the JSON body for POST /v1/cache/import.
type importRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	// Location is optional; an empty body saves to the root directory.
	var req saveRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.dispatcher.Save(req.Location); err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.dispatcher.Load(req.Location, req.Reconcile); err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "loaded"})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	payload, err := s.dispatcher.SaveAsBase64()
	if err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"data": payload})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Data == "" {
		s.writeError(w, http.StatusBadRequest, "data is required")
		return
	}

	if err := s.dispatcher.LoadFromBase64(req.Data); err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "imported"})
}
