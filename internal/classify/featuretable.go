package classify

import (
	"math"
	"sort"
)

// FeatureTable holds one fixed-length feature vector per segment. It is built
// once per project from the segmentation output and is read-only afterwards,
// so it can be shared freely between the session and propagation runs.
type FeatureTable struct {
	ids     []int64       // ascending segment ids
	rows    [][]float64
	index   map[int64]int // segment id -> row
	dim     int
	columns []string      // feature column names, e.g. B04_mean, NDVI_mean
}

// NewFeatureTable validates and indexes a segment/feature table. Vectors must
// all have the same length and contain only finite values; the first violation
// is reported with its segment id.
func NewFeatureTable(vectors map[int64][]float64, columns []string) (*FeatureTable, error) {
	ids := make([]int64, 0, len(vectors))
	for id := range vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ft := &FeatureTable{
		ids:     ids,
		rows:    make([][]float64, 0, len(ids)),
		index:   make(map[int64]int, len(ids)),
		columns: columns,
	}

	for i, id := range ids {
		vec := vectors[id]
		if i == 0 {
			ft.dim = len(vec)
		}
		if len(vec) != ft.dim {
			return nil, &FeatureDimensionError{SegmentID: id, Expected: ft.dim, Actual: len(vec)}
		}
		for _, v := range vec {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &FeatureDimensionError{SegmentID: id, Expected: ft.dim, Actual: len(vec), NonFinite: true}
			}
		}
		ft.index[id] = i
		ft.rows = append(ft.rows, vec)
	}

	return ft, nil
}

// Len returns the number of segments in the table.
func (ft *FeatureTable) Len() int { return len(ft.ids) }

// Dim returns the feature vector length.
func (ft *FeatureTable) Dim() int { return ft.dim }

// Columns returns the feature column names, which may be empty when the
// segmentation collaborator did not provide them.
func (ft *FeatureTable) Columns() []string { return ft.columns }

// IDs returns the segment ids in ascending order. Callers must not modify the
// returned slice.
func (ft *FeatureTable) IDs() []int64 { return ft.ids }

// Row returns the feature vector for a segment id.
func (ft *FeatureTable) Row(segmentID int64) ([]float64, bool) {
	i, ok := ft.index[segmentID]
	if !ok {
		return nil, false
	}
	return ft.rows[i], true
}

// Contains reports whether the table has a row for the segment id.
func (ft *FeatureTable) Contains(segmentID int64) bool {
	_, ok := ft.index[segmentID]
	return ok
}

// rowAt returns the feature vector at a positional index.
func (ft *FeatureTable) rowAt(i int) []float64 { return ft.rows[i] }

// idAt returns the segment id at a positional index.
func (ft *FeatureTable) idAt(i int) int64 { return ft.ids[i] }

// position returns the row index for a segment id.
func (ft *FeatureTable) position(segmentID int64) (int, bool) {
	i, ok := ft.index[segmentID]
	return i, ok
}
