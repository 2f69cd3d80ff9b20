package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"trackd/internal/tracking"
)

// Server exposes the tracking admin API over HTTP.
type Server struct {
	svc     *tracking.TrackingService
	logger  tracking.Logger
	baseURL string
	httpSrv *http.Server
}

// NewServer creates a Server for the given service. baseURL is the content
// service base used when deriving entry download URLs in reports.
func NewServer(svc *tracking.TrackingService, logger tracking.Logger, listenAddr, baseURL string) *Server {
	s := &Server{
		svc:     svc,
		logger:  logger,
		baseURL: baseURL,
	}
	s.httpSrv = &http.Server{
		Addr:         listenAddr,
		Handler:      s.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // archive export can be large
	}
	return s
}

// Routes builds the admin API router.
func (s *Server) Routes() *mux.Router {
	r := mux.NewRouter()
	admin := r.PathPrefix("/api/track/admin").Subrouter()

	admin.HandleFunc("/report/ids/{kind}", s.handleListIds).Methods(http.MethodGet)
	admin.HandleFunc("/report/export", s.handleExport).Methods(http.MethodGet)
	admin.HandleFunc("/report/export", s.handleImport).Methods(http.MethodPut)
	admin.HandleFunc("/batch/delete", s.handleBatchDelete).Methods(http.MethodPost)

	admin.HandleFunc("/{id}/record", s.handleInitRecord).Methods(http.MethodPut)
	admin.HandleFunc("/{id}/record", s.handleSealRecord).Methods(http.MethodPost)
	admin.HandleFunc("/{id}/record", s.handleGetReport).Methods(http.MethodGet)
	admin.HandleFunc("/{id}/record", s.handleClearRecord).Methods(http.MethodDelete)
	admin.HandleFunc("/{id}/report", s.handleGetReport).Methods(http.MethodGet)

	return r
}

// ListenAndServe runs the HTTP server until it is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("admin API listening", "addr", s.httpSrv.Addr)
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// handleInitRecord touches a tracking key. Records are created lazily on the
// first event, so this always succeeds.
func (s *Server) handleInitRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.svc.InitRecord(id)
	w.WriteHeader(http.StatusCreated)
}

// handleSealRecord seals the record, making it immutable. Sealing a sealed
// record returns the existing sealed record.
func (s *Server) handleSealRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	record, err := s.svc.Seal(id)
	if errors.Is(err, tracking.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no tracking record for "+id)
		return
	}
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.svc.ProjectRecord(record, s.baseURL))
}

// handleGetReport returns the report projection for both /{id}/record and
// its /{id}/report alias. Unknown ids produce an empty report, not an
// error: clients poll records that may never have been used.
func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	dto, err := s.svc.GetRecord(id, s.baseURL)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleClearRecord(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.svc.ClearRecord(id); err != nil {
		s.serverError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListIds(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]

	dto, err := s.svc.ListIds(kind)
	if errors.Is(err, tracking.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no tracking ids")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="trackd-sealed.zip"`)
	if err := s.svc.ExportSealed(w); err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Error("archive export failed", "error", err, "remote", r.RemoteAddr)
	}
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	count, err := s.svc.ImportArchive(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"imported": count})
}

func (s *Server) handleBatchDelete(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req tracking.BatchDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed batch delete request: "+err.Error())
		return
	}

	result, err := s.svc.BatchDelete(r.Context(), req)
	if errors.Is(err, tracking.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}
