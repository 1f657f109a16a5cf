// Package locality looks up administrative boundary geometry from the IBGE
// localities API. The map client uses it to frame an area of interest before
// requesting segmentation; the engine itself never interprets the geometry.
package locality

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"unicode"

	"github.com/marianaschaefer/geoapi/internal/httputil"
)

// DefaultBaseURL is the public IBGE localities service.
const DefaultBaseURL = "https://servicodados.ibge.gov.br/api/v1/localidades"

// Kind selects the locality level to search.
type Kind string

const (
	KindMunicipality Kind = "municipios"
	KindState        Kind = "estados"
	KindRegion       Kind = "regioes"
)

// ParseKind validates a locality kind from the API path.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindMunicipality:
		return KindMunicipality, nil
	case KindState:
		return KindState, nil
	case KindRegion:
		return KindRegion, nil
	default:
		return "", fmt.Errorf("unknown locality kind %q", s)
	}
}

// Locality is one search hit with its mesh geometry.
type Locality struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Kind     Kind            `json:"kind"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// Client queries the localities API through an injectable HTTP client so
// tests can run against canned responses.
type Client struct {
	http    httputil.HTTPClient
	baseURL string
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(httpClient httputil.HTTPClient, baseURL string) *Client {
	if httpClient == nil {
		httpClient = httputil.NewStandardClient(nil)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

type localityRecord struct {
	ID   json.Number `json:"id"`
	Nome string      `json:"nome"`
}

// Find searches localities of the given kind by normalized name and fetches
// the mesh geometry of the best match.
func (c *Client) Find(kind Kind, name string) (*Locality, error) {
	wanted := NormalizeName(name)
	if wanted == "" {
		return nil, fmt.Errorf("empty locality name")
	}

	records, err := c.listLocalities(kind)
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if NormalizeName(rec.Nome) != wanted {
			continue
		}
		id, err := rec.ID.Int64()
		if err != nil {
			return nil, fmt.Errorf("locality %q has non-numeric id %q", rec.Nome, rec.ID)
		}
		loc := &Locality{ID: id, Name: rec.Nome, Kind: kind}
		geometry, err := c.fetchMesh(id)
		if err != nil {
			return nil, err
		}
		loc.Geometry = geometry
		return loc, nil
	}
	return nil, nil
}

func (c *Client) listLocalities(kind Kind) ([]localityRecord, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, kind)
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("locality search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("locality search: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("locality search: %w", err)
	}
	return decodeLocalityList(body)
}

// decodeLocalityList tolerates both a bare array and the wrapped forms some
// endpoints return ({"items": [...]}, {"data": [...]}, ...).
func decodeLocalityList(body []byte) ([]localityRecord, error) {
	var records []localityRecord
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("locality search: unexpected response shape")
	}
	for _, key := range []string{"items", "result", "results", "data"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &records); err == nil {
			return records, nil
		}
	}
	return nil, fmt.Errorf("locality search: unexpected response shape")
}

// fetchMesh retrieves the simplified boundary geometry for a locality id.
func (c *Client) fetchMesh(id int64) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/%d?formato=application/vnd.geo+json", c.meshBaseURL(), id)
	resp, err := c.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("locality mesh: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("locality mesh: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("locality mesh: %w", err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("locality mesh: invalid geojson payload")
	}
	return json.RawMessage(body), nil
}

// meshBaseURL returns the mesh endpoint root. The public service hosts
// meshes under a separate v2 path; test servers serve both from one root.
func (c *Client) meshBaseURL() string {
	if c.baseURL == DefaultBaseURL {
		return "https://servicodados.ibge.gov.br/api/v2/malhas"
	}
	return c.baseURL + "/malhas"
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)
var spaces = regexp.MustCompile(`\s+`)

// NormalizeName lower-cases a locality name, strips diacritics and
// punctuation, and collapses whitespace so lookups tolerate accents.
func NormalizeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range s {
		if d, ok := deaccent[r]; ok {
			b.WriteRune(d)
			continue
		}
		if r > unicode.MaxASCII {
			continue
		}
		b.WriteRune(r)
	}
	out := nonAlnum.ReplaceAllString(b.String(), " ")
	return strings.TrimSpace(spaces.ReplaceAllString(out, " "))
}

// deaccent covers the accented letters that occur in Brazilian locality
// names.
var deaccent = map[rune]rune{
	'á': 'a', 'à': 'a', 'â': 'a', 'ã': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'í': 'i', 'ì': 'i', 'î': 'i', 'ï': 'i',
	'ó': 'o', 'ò': 'o', 'ô': 'o', 'õ': 'o', 'ö': 'o',
	'ú': 'u', 'ù': 'u', 'û': 'u', 'ü': 'u',
	'ç': 'c', 'ñ': 'n',
}
