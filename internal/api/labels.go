package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/marianaschaefer/geoapi/internal/classify"
	"github.com/marianaschaefer/geoapi/internal/httputil"
	"github.com/marianaschaefer/geoapi/internal/monitoring"
)

type saveLabelsRequest struct {
	Labels []classify.LabelInput `json:"labels"`
}

// handleSaveLabels applies a batch of manual labels. While a propagation is
// in flight the session queues them and reports them in the queued count; the
// session persists the overlay itself once the queue flushes. Samples and
// catalog files are rewritten only when something changed so replaying the
// same batch is a cheap no-op.
func (s *Server) handleSaveLabels(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	var req saveLabelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	if len(req.Labels) == 0 {
		httputil.BadRequest(w, "no labels in request")
		return
	}
	for _, in := range req.Labels {
		if in.Class == "" {
			httputil.BadRequest(w, "label is missing a class name")
			return
		}
	}

	created, updated, queued, err := sess.ApplyManualLabels(req.Labels)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if created+updated > 0 {
		if err := s.persistLabels(id, sess); err != nil {
			s.writeError(w, err)
			return
		}
	}

	monitoring.Logf("[API] project %d: %d labels created, %d updated, %d queued, state %s",
		id, created, updated, queued, sess.State())
	httputil.WriteJSONOK(w, map[string]interface{}{
		"created": created,
		"updated": updated,
		"queued":  queued,
		"state":   sess.State(),
	})
}

func (s *Server) handleListLabels(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	labels := sess.ExportLabeled()
	if class := classify.NormalizeClassName(r.URL.Query().Get("class")); class != "" {
		filtered := labels[:0]
		for _, l := range labels {
			if l.Class == class {
				filtered = append(filtered, l)
			}
		}
		labels = filtered
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"labels": labels,
		"count":  len(labels),
		"state":  sess.State(),
	})
}

func (s *Server) handleDeleteLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	segmentID, err := strconv.ParseInt(r.PathValue("segmentID"), 10, 64)
	if err != nil {
		httputil.BadRequest(w, "invalid segment id")
		return
	}
	if !sess.ClearLabel(segmentID) {
		httputil.NotFound(w, "segment has no manual label")
		return
	}
	if err := s.persistLabels(id, sess); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"segment_id": segmentID,
		"state":      sess.State(),
	})
}

type registerClassRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func (s *Server) handleListClasses(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"classes": sess.Catalog().Snapshot(),
	})
}

func (s *Server) handleRegisterClass(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	var req registerClassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	name := classify.NormalizeClassName(req.Name)
	if name == "" {
		httputil.BadRequest(w, "class name is required")
		return
	}

	color := sess.Catalog().Register(name, req.Color)
	if err := s.artifacts.SaveCatalog(id, sess.Catalog().Snapshot()); err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"name": name, "color": color})
}

// handleRemoveClass drops a class from the catalog and clears every manual
// label carrying it. Existing predictions are left alone until the next
// propagation recomputes them.
func (s *Server) handleRemoveClass(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	name := classify.NormalizeClassName(r.PathValue("name"))
	if !sess.Catalog().Contains(name) {
		httputil.NotFound(w, "unknown class")
		return
	}

	cleared := sess.RemoveClass(name)
	if err := s.persistLabels(id, sess); err != nil {
		s.writeError(w, err)
		return
	}
	monitoring.Logf("[API] project %d: removed class %q, cleared %d labels", id, name, len(cleared))
	httputil.WriteJSONOK(w, map[string]interface{}{
		"removed": name,
		"cleared": cleared,
		"state":   sess.State(),
	})
}

// persistLabels rewrites the samples and catalog artifacts from session state.
func (s *Server) persistLabels(projectID int64, sess *classify.Session) error {
	if err := s.artifacts.SaveSamples(projectID, sess.ExportLabeled()); err != nil {
		return err
	}
	return s.artifacts.SaveCatalog(projectID, sess.Catalog().Snapshot())
}
