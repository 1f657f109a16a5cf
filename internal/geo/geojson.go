// Package geo carries GeoJSON segment data between the segmentation
// collaborator, the classification engine and the per-project artifact files.
// Geometry is opaque to the engine and passed through untouched.
package geo

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/marianaschaefer/geoapi/internal/classify"
)

// Feature is a GeoJSON feature with raw geometry and free-form properties.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   json.RawMessage        `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty collection with the type field set.
func NewFeatureCollection(features []Feature) *FeatureCollection {
	return &FeatureCollection{Type: "FeatureCollection", Features: features}
}

// Segment is one row of the ingested segment/feature table: a stable id, the
// pass-through geometry and the numeric feature values keyed by column name.
type Segment struct {
	ID       int64
	Geometry json.RawMessage
	Values   map[string]float64
}

// SegmentTable is the decoded segmentation output for a project.
type SegmentTable struct {
	Segments []Segment
	// Columns is the fixed feature column order, taken from the first
	// feature's numeric properties sorted by name.
	Columns []string
}

// DecodeSegments parses a segmentation FeatureCollection. Every feature must
// carry a numeric `segment_id` property; the remaining numeric properties
// become the feature vector. Column order is fixed by the first feature.
func DecodeSegments(data []byte) (*SegmentTable, error) {
	var fc FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode segments geojson: %w", err)
	}
	if len(fc.Features) == 0 {
		return nil, fmt.Errorf("segments geojson has no features")
	}

	table := &SegmentTable{Segments: make([]Segment, 0, len(fc.Features))}
	seen := make(map[int64]bool, len(fc.Features))

	for i, f := range fc.Features {
		id, ok := numericProperty(f.Properties, "segment_id")
		if !ok {
			return nil, fmt.Errorf("feature %d is missing a numeric segment_id property", i)
		}
		segID := int64(id)
		if float64(segID) != id {
			return nil, fmt.Errorf("feature %d has non-integral segment_id %v", i, id)
		}
		if seen[segID] {
			return nil, fmt.Errorf("duplicate segment_id %d", segID)
		}
		seen[segID] = true

		values := make(map[string]float64, len(f.Properties))
		for name, raw := range f.Properties {
			if name == "segment_id" {
				continue
			}
			if v, ok := asFloat(raw); ok {
				values[name] = v
			}
		}

		if table.Columns == nil {
			cols := make([]string, 0, len(values))
			for name := range values {
				cols = append(cols, name)
			}
			sort.Strings(cols)
			if len(cols) == 0 {
				return nil, fmt.Errorf("segment %d has no numeric feature properties", segID)
			}
			table.Columns = cols
		}

		table.Segments = append(table.Segments, Segment{ID: segID, Geometry: f.Geometry, Values: values})
	}
	return table, nil
}

// BuildFeatureTable assembles the engine's feature table from the decoded
// segments, in the fixed column order. A segment missing a column surfaces as
// a feature dimension error carrying the segment id.
func (t *SegmentTable) BuildFeatureTable() (*classify.FeatureTable, error) {
	vectors := make(map[int64][]float64, len(t.Segments))
	for _, seg := range t.Segments {
		vec := make([]float64, 0, len(t.Columns))
		for _, col := range t.Columns {
			v, ok := seg.Values[col]
			if !ok {
				return nil, &classify.FeatureDimensionError{
					SegmentID: seg.ID,
					Expected:  len(t.Columns),
					Actual:    len(seg.Values),
				}
			}
			vec = append(vec, v)
		}
		vectors[seg.ID] = vec
	}
	return classify.NewFeatureTable(vectors, t.Columns)
}

// GeometryIndex maps segment id to geometry for pass-through rendering.
func (t *SegmentTable) GeometryIndex() map[int64]json.RawMessage {
	idx := make(map[int64]json.RawMessage, len(t.Segments))
	for _, seg := range t.Segments {
		idx[seg.ID] = seg.Geometry
	}
	return idx
}

func numericProperty(props map[string]interface{}, name string) (float64, bool) {
	raw, ok := props[name]
	if !ok {
		return 0, false
	}
	return asFloat(raw)
}

func asFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
