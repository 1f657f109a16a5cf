package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/marianaschaefer/geoapi/internal/classify"
	"github.com/marianaschaefer/geoapi/internal/db"
	"github.com/marianaschaefer/geoapi/internal/geo"
	"github.com/marianaschaefer/geoapi/internal/httputil"
	"github.com/marianaschaefer/geoapi/internal/locality"
	"github.com/marianaschaefer/geoapi/internal/monitoring"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server wires the classification sessions, the metadata database, the
// artifact store and the locality client behind the JSON API.
type Server struct {
	db         *db.DB
	sessions   *classify.SessionManager
	artifacts  *geo.ArtifactStore
	localities *locality.Client
}

// NewServer creates the API server.
func NewServer(database *db.DB, sessions *classify.SessionManager, artifacts *geo.ArtifactStore, localities *locality.Client) *Server {
	return &Server{
		db:         database,
		sessions:   sessions,
		artifacts:  artifacts,
		localities: localities,
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects", s.handleCreateProject)
	mux.HandleFunc("GET /api/projects", s.handleListProjects)
	mux.HandleFunc("DELETE /api/projects/{id}", s.handleDeleteProject)

	mux.HandleFunc("POST /api/projects/{id}/segments", s.handleIngestSegments)
	mux.HandleFunc("GET /api/projects/{id}/segments", s.handleGetSegments)

	mux.HandleFunc("POST /api/projects/{id}/labels", s.handleSaveLabels)
	mux.HandleFunc("GET /api/projects/{id}/labels", s.handleListLabels)
	mux.HandleFunc("DELETE /api/projects/{id}/labels/{segmentID}", s.handleDeleteLabel)

	mux.HandleFunc("GET /api/projects/{id}/classes", s.handleListClasses)
	mux.HandleFunc("POST /api/projects/{id}/classes", s.handleRegisterClass)
	mux.HandleFunc("DELETE /api/projects/{id}/classes/{name}", s.handleRemoveClass)

	mux.HandleFunc("POST /api/projects/{id}/propagate", s.handlePropagate)
	mux.HandleFunc("GET /api/projects/{id}/result", s.handleResult)
	mux.HandleFunc("GET /api/projects/{id}/uncertain", s.handleUncertain)
	mux.HandleFunc("GET /api/projects/{id}/history", s.handleHistory)
	mux.HandleFunc("GET /api/projects/{id}/report", s.handleReport)

	mux.HandleFunc("GET /api/localities/{kind}/{name}", s.handleLocality)
}

// loggingResponseWriter captures the status code for request logging.
type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LogRequests wraps a handler with colored request logging.
func LogRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("%s%s%s %s %s %s", colorCyan, r.Method, colorReset, r.URL.Path,
			statusCodeColor(lrw.statusCode), time.Since(start).Round(time.Millisecond))
	})
}

// projectID parses the {id} path value and checks the project row exists.
func (s *Server) projectID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid project id")
		return 0, false
	}
	if _, err := s.db.GetProject(id); err != nil {
		s.writeError(w, err)
		return 0, false
	}
	return id, true
}

// session resolves the live session for a project, hydrating from artifacts
// when needed. Responds 404 when the project has no ingested segments yet.
func (s *Server) session(w http.ResponseWriter, projectID int64) (*classify.Session, bool) {
	if !s.artifacts.HasSegments(projectID) {
		httputil.NotFound(w, "project has no segments; ingest a segmentation first")
		return nil, false
	}
	sess, err := s.sessions.Open(projectID)
	if err != nil {
		s.writeError(w, err)
		return nil, false
	}
	return sess, true
}

// writeError maps engine and storage errors onto HTTP statuses with a stable
// error kind alongside the message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, classify.ErrInsufficientLabels):
		httputil.WriteJSONErrorKind(w, http.StatusUnprocessableEntity, "insufficient_labels", err.Error())
	case errors.Is(err, classify.ErrUnknownMethod):
		httputil.WriteJSONErrorKind(w, http.StatusBadRequest, "unknown_method", err.Error())
	case errors.Is(err, classify.ErrFeatureDimension):
		httputil.WriteJSONErrorKind(w, http.StatusInternalServerError, "feature_dimension_mismatch", err.Error())
	case errors.Is(err, classify.ErrSegmentNotFound):
		httputil.WriteJSONErrorKind(w, http.StatusNotFound, "segment_not_found", err.Error())
	case errors.Is(err, classify.ErrInvalidState):
		httputil.WriteJSONErrorKind(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, classify.ErrRunSuperseded):
		httputil.WriteJSONErrorKind(w, http.StatusConflict, "run_superseded", err.Error())
	case errors.Is(err, db.ErrProjectNotFound):
		httputil.WriteJSONErrorKind(w, http.StatusNotFound, "project_not_found", err.Error())
	case errors.Is(err, geo.ErrPersistence):
		httputil.WriteJSONErrorKind(w, http.StatusInternalServerError, "persistence_failure", err.Error())
	default:
		httputil.InternalServerError(w, err.Error())
	}
}
