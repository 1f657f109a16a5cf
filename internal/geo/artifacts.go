package geo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/marianaschaefer/geoapi/internal/classify"
	"github.com/marianaschaefer/geoapi/internal/fsutil"
	"github.com/marianaschaefer/geoapi/internal/monitoring"
)

// ErrPersistence marks artifact read/write failures that survived one retry.
var ErrPersistence = errors.New("artifact persistence failure")

// Artifact file names inside a project directory. The catalog snapshot is
// what keeps class colors stable across sessions.
const (
	segmentsFile    = "segments.geojson"
	samplesFile     = "samples.geojson"
	predictionsFile = "predictions.geojson"
	catalogFile     = "classes.json"
)

// ArtifactStore persists the per-project files: the ingested segment table,
// the manual-sample overlay, the latest predictions and the class catalog
// snapshot. Writes are atomic (tmp + rename) and retried once.
type ArtifactStore struct {
	fs      fsutil.FileSystem
	baseDir string
}

// NewArtifactStore creates a store rooted at baseDir.
func NewArtifactStore(filesystem fsutil.FileSystem, baseDir string) *ArtifactStore {
	return &ArtifactStore{fs: filesystem, baseDir: baseDir}
}

// ProjectDir returns the artifact directory for a project.
func (s *ArtifactStore) ProjectDir(projectID int64) string {
	return filepath.Join(s.baseDir, "projects", strconv.FormatInt(projectID, 10))
}

// SaveSegments persists the raw segmentation FeatureCollection after
// validating that it decodes.
func (s *ArtifactStore) SaveSegments(projectID int64, raw []byte) (*SegmentTable, error) {
	table, err := DecodeSegments(raw)
	if err != nil {
		return nil, err
	}
	if err := s.writeAtomic(projectID, segmentsFile, raw); err != nil {
		return nil, err
	}
	return table, nil
}

// LoadSegments reads and decodes the segment table.
func (s *ArtifactStore) LoadSegments(projectID int64) (*SegmentTable, error) {
	raw, err := s.readFile(projectID, segmentsFile)
	if err != nil {
		return nil, err
	}
	return DecodeSegments(raw)
}

// LoadSegmentsRaw returns the stored FeatureCollection bytes for rendering.
func (s *ArtifactStore) LoadSegmentsRaw(projectID int64) ([]byte, error) {
	return s.readFile(projectID, segmentsFile)
}

// HasSegments reports whether the project has an ingested segment table.
func (s *ArtifactStore) HasSegments(projectID int64) bool {
	return s.fs.Exists(filepath.Join(s.ProjectDir(projectID), segmentsFile))
}

// LoadFeatureTable implements classify.ProjectStore.
func (s *ArtifactStore) LoadFeatureTable(projectID int64) (*classify.FeatureTable, error) {
	table, err := s.LoadSegments(projectID)
	if err != nil {
		return nil, err
	}
	return table.BuildFeatureTable()
}

// sampleProperties is the properties block of one samples.geojson feature.
type sampleProperties struct {
	SegmentID int64  `json:"segment_id"`
	Class     string `json:"class"`
	Color     string `json:"color"`
	User      string `json:"user,omitempty"`
	Timestamp string `json:"ts"`
}

// SaveSamples writes the manual-label overlay as a FeatureCollection, with
// geometry resolved from the segment table so the file renders standalone.
func (s *ArtifactStore) SaveSamples(projectID int64, labels []classify.ManualLabel) error {
	geometry := map[int64]json.RawMessage{}
	if table, err := s.LoadSegments(projectID); err == nil {
		geometry = table.GeometryIndex()
	}

	features := make([]Feature, 0, len(labels))
	for _, l := range labels {
		props := sampleProperties{
			SegmentID: l.SegmentID,
			Class:     l.Class,
			Color:     l.Color,
			User:      l.User,
			Timestamp: l.Timestamp.Format(time.RFC3339),
		}
		raw, err := json.Marshal(props)
		if err != nil {
			return fmt.Errorf("marshal sample %d: %w", l.SegmentID, err)
		}
		var propMap map[string]interface{}
		if err := json.Unmarshal(raw, &propMap); err != nil {
			return fmt.Errorf("marshal sample %d: %w", l.SegmentID, err)
		}
		features = append(features, Feature{
			Type:       "Feature",
			Geometry:   geometry[l.SegmentID],
			Properties: propMap,
		})
	}

	data, err := json.MarshalIndent(NewFeatureCollection(features), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}
	return s.writeAtomic(projectID, samplesFile, data)
}

// LoadSamples implements classify.ProjectStore. A missing samples file means
// an empty overlay, not an error.
func (s *ArtifactStore) LoadSamples(projectID int64) ([]classify.ManualLabel, error) {
	raw, err := s.readFile(projectID, samplesFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var fc FeatureCollection
	if err := json.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("decode samples geojson: %w", err)
	}

	labels := make([]classify.ManualLabel, 0, len(fc.Features))
	for i, f := range fc.Features {
		id, ok := numericProperty(f.Properties, "segment_id")
		if !ok {
			return nil, fmt.Errorf("sample feature %d is missing segment_id", i)
		}
		label := classify.ManualLabel{SegmentID: int64(id)}
		if v, ok := f.Properties["class"].(string); ok {
			label.Class = v
		}
		if v, ok := f.Properties["color"].(string); ok {
			label.Color = v
		}
		if v, ok := f.Properties["user"].(string); ok {
			label.User = v
		}
		if v, ok := f.Properties["ts"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				label.Timestamp = ts
			}
		}
		labels = append(labels, label)
	}
	return labels, nil
}

// SavePredictions writes the latest propagation output: predicted label, the
// winning probability and the uncertainty per segment, with geometry resolved
// for rendering.
func (s *ArtifactStore) SavePredictions(projectID int64, result *classify.Result) error {
	geometry := map[int64]json.RawMessage{}
	if table, err := s.LoadSegments(projectID); err == nil {
		geometry = table.GeometryIndex()
	}

	features := make([]Feature, 0, len(result.Predictions))
	for _, id := range sortedPredictionIDs(result.Predictions) {
		p := result.Predictions[id]
		features = append(features, Feature{
			Type:     "Feature",
			Geometry: geometry[id],
			Properties: map[string]interface{}{
				"segment_id":  id,
				"class_pred":  p.Label,
				"probability": p.Probabilities[p.Label],
				"uncertainty": p.Uncertainty,
			},
		})
	}

	data, err := json.MarshalIndent(NewFeatureCollection(features), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal predictions: %w", err)
	}
	return s.writeAtomic(projectID, predictionsFile, data)
}

// SaveCatalog persists the class name -> color snapshot.
func (s *ArtifactStore) SaveCatalog(projectID int64, snapshot map[string]string) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal catalog: %w", err)
	}
	return s.writeAtomic(projectID, catalogFile, data)
}

// LoadCatalog implements classify.ProjectStore. Missing snapshot -> empty.
func (s *ArtifactStore) LoadCatalog(projectID int64) (map[string]string, error) {
	raw, err := s.readFile(projectID, catalogFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, err
	}
	var snapshot map[string]string
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return snapshot, nil
}

// DeleteProject removes the project's artifact directory.
func (s *ArtifactStore) DeleteProject(projectID int64) error {
	if err := s.fs.RemoveAll(s.ProjectDir(projectID)); err != nil {
		return fmt.Errorf("%w: delete project %d: %v", ErrPersistence, projectID, err)
	}
	return nil
}

func (s *ArtifactStore) readFile(projectID int64, name string) ([]byte, error) {
	path := filepath.Join(s.ProjectDir(projectID), name)
	raw, err := s.fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// Transient read failure: retry once before surfacing.
		raw, retryErr := s.fs.ReadFile(path)
		if retryErr == nil {
			return raw, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", ErrPersistence, path, retryErr)
	}
	return raw, nil
}

// writeAtomic writes through a temp file and renames it into place, retrying
// the whole sequence once before surfacing a persistence error.
func (s *ArtifactStore) writeAtomic(projectID int64, name string, data []byte) error {
	dir := s.ProjectDir(projectID)
	path := filepath.Join(dir, name)

	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if err = s.tryWrite(dir, path, data); err == nil {
			return nil
		}
		monitoring.Logf("[Artifacts] write %s failed (attempt %d): %v", path, attempt, err)
	}
	return fmt.Errorf("%w: write %s: %v", ErrPersistence, path, err)
}

func (s *ArtifactStore) tryWrite(dir, path string, data []byte) error {
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := s.fs.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, path)
}

func sortedPredictionIDs(predictions map[int64]classify.Prediction) []int64 {
	ids := make([]int64, 0, len(predictions))
	for id := range predictions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
