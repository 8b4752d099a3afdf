package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/servicing/internal/model"
	"github.com/seantiz/servicing/internal/svcerr"
)

const maxBodySize = 1 << 20 // 1 MB

// addServiceRequest is the JSON body for POST /v1/services.
type addServiceRequest struct {
	Name    string            `json:"name"`
	Backend string            `json:"backend"`
	Config  *model.UserConfig `json:"config"`
}

// upRequest is the JSON body for POST /v1/services/{name}/up.
type upRequest struct {
	Yes bool `json:"yes"`
}

// downRequest is the JSON body for POST /v1/services/{name}/down.
type downRequest struct {
	Yes   bool `json:"yes"`
	Force bool `json:"force"`
}

func (s *Server) handleAddService(w http.ResponseWriter, r *http.Request) {
	var req addServiceRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Backend == "" {
		req.Backend = model.BackendSkyPilot
	}

	if err := s.dispatcher.AddService(req.Name, req.Backend, req.Config); err != nil {
		s.writeServicingError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]string{
		"name":    req.Name,
		"backend": req.Backend,
	})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	names, err := s.dispatcher.List()
	if err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"services": names})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pretty := r.URL.Query().Get("pretty") == "true"

	snapshot, err := s.dispatcher.Status(r.Context(), name, pretty)
	if err != nil {
		s.writeServicingError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(snapshot)); err != nil {
		s.logger.Error("write status response", "service", name, "error", err)
	}
}

func (s *Server) handleGetURL(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	url, err := s.dispatcher.GetURL(name)
	if err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"name": name, "url": url})
}

func (s *Server) handleUp(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	// Every field is optional, so an empty body means all defaults.
	var req upRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.dispatcher.Up(r.Context(), name, req.Yes); err != nil {
		s.writeServicingError(w, err)
		return
	}

	// Endpoint is known; readiness is still being observed in the background.
	s.writeJSON(w, http.StatusAccepted, map[string]string{"name": name})
}

func (s *Server) handleDown(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req downRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.dispatcher.Down(name, req.Yes, req.Force); err != nil {
		s.writeServicingError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleRemoveService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	if err := s.dispatcher.RemoveService(name); err != nil {
		s.writeServicingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBackends(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"backends": s.registry.Kinds()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeServicingError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeServicingError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch svcerr.KindOf(err) {
	case svcerr.KindNotFound:
		status = http.StatusNotFound
	case svcerr.KindAlreadyRunning, svcerr.KindNotRunning, svcerr.KindProvision:
		status = http.StatusConflict
	case svcerr.KindBackendMissing:
		status = http.StatusFailedDependency
	case svcerr.KindSerialization, svcerr.KindGeneral:
		status = http.StatusBadRequest
	}
	s.writeError(w, status, err.Error())
}
