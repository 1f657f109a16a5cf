package api

import (
	"net/http"

	"github.com/marianaschaefer/geoapi/internal/httputil"
	"github.com/marianaschaefer/geoapi/internal/locality"
)

// handleLocality looks up a Brazilian administrative boundary by name and
// returns its mesh geometry, for drawing project extents on a map.
func (s *Server) handleLocality(w http.ResponseWriter, r *http.Request) {
	kind, err := locality.ParseKind(r.PathValue("kind"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	name := r.PathValue("name")
	if name == "" {
		httputil.BadRequest(w, "locality name is required")
		return
	}

	loc, err := s.localities.Find(kind, name)
	if err != nil {
		httputil.InternalServerError(w, "locality lookup failed: "+err.Error())
		return
	}
	if loc == nil {
		httputil.NotFound(w, "no locality matches that name")
		return
	}
	httputil.WriteJSONOK(w, loc)
}
