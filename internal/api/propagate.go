package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/marianaschaefer/geoapi/internal/classify"
	"github.com/marianaschaefer/geoapi/internal/db"
	"github.com/marianaschaefer/geoapi/internal/geo"
	"github.com/marianaschaefer/geoapi/internal/httputil"
	"github.com/marianaschaefer/geoapi/internal/monitoring"
	"github.com/marianaschaefer/geoapi/internal/report"
)

type propagateRequest struct {
	Method string `json:"method,omitempty"`
}

// handlePropagate runs label propagation for a project. A request that
// arrives while another run is in flight supersedes it; the superseded
// request returns a conflict. On success the predictions artifact is
// rewritten and the run is appended to the history table.
func (s *Server) handlePropagate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	var req propagateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httputil.BadRequest(w, "invalid request body")
			return
		}
	}
	method, err := classify.ParseMethod(req.Method)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := sess.RunPropagation(r.Context(), method)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.artifacts.SavePredictions(id, result); err != nil {
		s.writeError(w, err)
		return
	}
	record, hasRecord := latestRecord(sess)
	if hasRecord {
		run := &db.PropagationRun{
			RunID:               record.RunID,
			ProjectID:           id,
			Method:              string(record.Method),
			TrainingConsistency: record.TrainingConsistency,
			LabeledCount:        record.LabeledCount,
			TotalCount:          record.TotalCount,
			Iterations:          record.Iterations,
			DurationMs:          record.Duration.Milliseconds(),
			CreatedAt:           record.CreatedAt,
		}
		if err := s.db.InsertPropagationRun(run); err != nil {
			monitoring.Logf("[API] project %d: failed to record run %s: %v", id, record.RunID, err)
		}
	}

	monitoring.Logf("[API] project %d: propagated %s, consistency %.3f, %d/%d labeled",
		id, result.Method, result.TrainingConsistency, result.LabeledCount, result.TotalCount)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"method":               result.Method,
		"training_consistency": result.TrainingConsistency,
		"iterations":           result.Iterations,
		"classes":              result.Classes,
		"labeled_count":        result.LabeledCount,
		"total_count":          result.TotalCount,
		"state":                sess.State(),
	})
}

func latestRecord(sess *classify.Session) (classify.PropagationRecord, bool) {
	history := sess.History()
	if len(history) == 0 {
		return classify.PropagationRecord{}, false
	}
	return history[len(history)-1], true
}

// handleResult returns the classified map: every segment with its display
// class, color, manual flag and uncertainty, geometry attached from the
// ingested segmentation.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}

	segments, err := s.artifacts.LoadSegments(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	geometries := segments.GeometryIndex()

	views := sess.View()
	features := make([]geo.Feature, 0, len(views))
	for _, v := range views {
		props := map[string]interface{}{
			"segment_id": v.SegmentID,
			"class":      v.Class,
			"color":      v.Color,
			"manual":     v.Manual,
		}
		if v.Uncertainty != nil {
			props["uncertainty"] = *v.Uncertainty
		}
		features = append(features, geo.Feature{
			Type:       "Feature",
			Geometry:   geometries[v.SegmentID],
			Properties: props,
		})
	}

	w.Header().Set("Content-Type", "application/geo+json")
	httputil.WriteJSON(w, http.StatusOK, geo.NewFeatureCollection(features))
}

// handleUncertain returns the segments an analyst should look at next,
// ranked by normalized entropy. Query parameters: threshold (default 0,
// meaning no floor) and top (default all above the threshold).
func (s *Server) handleUncertain(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}
	if sess.State() != classify.StatePropagated {
		httputil.WriteJSONErrorKind(w, http.StatusConflict, "invalid_state",
			"no propagation result yet")
		return
	}

	threshold := 0.0
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			httputil.BadRequest(w, "threshold must be a number in [0, 1]")
			return
		}
		threshold = v
	}
	topK := 0
	if raw := r.URL.Query().Get("top"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			httputil.BadRequest(w, "top must be a non-negative integer")
			return
		}
		topK = v
	}

	ranked := sess.Ranked()
	selected := classify.Select(ranked, threshold, topK)
	httputil.WriteJSONOK(w, map[string]interface{}{
		"segments": selected,
		"count":    len(selected),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	runs, err := s.db.ListPropagationRuns(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"runs": runs})
}

// handleReport renders an HTML dashboard of the current classification:
// class distribution and the uncertainty histogram.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	id, ok := s.projectID(w, r)
	if !ok {
		return
	}
	sess, ok := s.session(w, id)
	if !ok {
		return
	}
	project, err := s.db.GetProject(id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.Render(w, project.Name, sess.View()); err != nil {
		monitoring.Logf("[API] project %d: report rendering failed: %v", id, err)
	}
}
