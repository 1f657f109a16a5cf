package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marianaschaefer/geoapi/internal/testutil"
)

const (
	testMunicipalities = `[{"id": 3303302, "nome": "Niterói"}, {"id": 3304557, "nome": "Rio de Janeiro"}]`
	testMesh           = `{"type": "FeatureCollection", "features": [{"type": "Feature", "geometry": {"type": "MultiPolygon", "coordinates": []}}]}`
)

func TestLocalityEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.ibge.AddResponse(http.StatusOK, testMunicipalities).AddResponse(http.StatusOK, testMesh)

	rec := testutil.NewTestRecorder()
	env.mux.ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/localities/municipios/niteroi"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var out struct {
		ID       int64                  `json:"id"`
		Name     string                 `json:"name"`
		Kind     string                 `json:"kind"`
		Geometry map[string]interface{} `json:"geometry"`
	}
	testutil.DecodeJSON(t, rec, &out)
	assert.EqualValues(t, 3303302, out.ID)
	assert.Equal(t, "Niterói", out.Name)
	assert.Equal(t, "municipios", out.Kind)
	assert.Equal(t, "FeatureCollection", out.Geometry["type"])

	assert.Equal(t, 2, env.ibge.RequestCount())
	assert.Contains(t, env.ibge.GetRequest(1).URL.Path, "/malhas/3303302")
}

func TestLocalityEndpoint_NoMatch(t *testing.T) {
	env := newTestEnv(t)
	env.ibge.AddResponse(http.StatusOK, testMunicipalities)

	rec := testutil.NewTestRecorder()
	env.mux.ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/localities/municipios/atlantis"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestLocalityEndpoint_BadKind(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.NewTestRecorder()
	env.mux.ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/localities/planets/mars"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	assert.Equal(t, 0, env.ibge.RequestCount())
}

func TestLocalityEndpoint_UpstreamError(t *testing.T) {
	env := newTestEnv(t)
	env.ibge.AddResponse(http.StatusInternalServerError, "oops")

	rec := testutil.NewTestRecorder()
	env.mux.ServeHTTP(rec, testutil.NewTestRequest("GET", "/api/localities/estados/bahia"))
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}
