package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/marianaschaefer/geoapi/internal/geo"
	"github.com/marianaschaefer/geoapi/internal/httputil"
	"github.com/marianaschaefer/geoapi/internal/monitoring"
)

// maxSegmentsPayload caps the ingested FeatureCollection size. Segmentations
// of large areas are big but bounded; anything beyond this is a client bug.
const maxSegmentsPayload = 256 << 20 // 256 MiB

type createProjectRequest struct {
	Name string          `json:"name"`
	BBox json.RawMessage `json:"bbox,omitempty"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "project name is required")
		return
	}

	id, err := s.db.CreateProject(req.Name, string(req.BBox))
	if err != nil {
		s.writeError(w, err)
		return
	}
	monitoring.Logf("[API] created project %d (%s)", id, req.Name)
	httputil.WriteJSON(w, http.StatusCreated, map[string]int64{"project_id": id})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.db.ListProjects()
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"projects": projects})
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteProject(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.sessions.Drop(id)
	if err := s.artifacts.DeleteProject(id); err != nil {
		// The row is gone; log the orphaned directory rather than failing.
		monitoring.Logf("[API] failed to remove artifacts for project %d: %v", id, err)
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "deleted"})
}

// handleIngestSegments accepts the segmentation collaborator's output: a
// GeoJSON FeatureCollection with one feature per segment, properties carrying
// segment_id and the numeric band statistics. Ingesting replaces any previous
// segments and resets the session.
func (s *Server) handleIngestSegments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSegmentsPayload))
	if err != nil {
		httputil.BadRequest(w, "failed to read segments payload")
		return
	}

	table, err := s.artifacts.SaveSegments(id, raw)
	if err != nil {
		// Decode failures are the client's problem; write failures are ours.
		if errors.Is(err, geo.ErrPersistence) {
			s.writeError(w, err)
		} else {
			httputil.BadRequest(w, err.Error())
		}
		return
	}
	featureTable, err := table.BuildFeatureTable()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.sessions.Attach(id, featureTable)

	monitoring.Logf("[API] project %d: ingested %d segments, %d features each",
		id, featureTable.Len(), featureTable.Dim())
	httputil.WriteJSONOK(w, map[string]interface{}{
		"segments": featureTable.Len(),
		"features": featureTable.Dim(),
		"columns":  featureTable.Columns(),
	})
}

func (s *Server) handleGetSegments(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	raw, err := s.artifacts.LoadSegmentsRaw(id)
	if err != nil {
		httputil.NotFound(w, "no segments for project")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.Write(raw)
}
