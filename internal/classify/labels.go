package classify

import (
	"sort"
	"time"

	"github.com/marianaschaefer/geoapi/internal/timeutil"
)

// ManualLabel is a class assignment made by the analyst. Manual labels always
// take precedence over predictions for display and persistence.
type ManualLabel struct {
	SegmentID int64     `json:"segment_id"`
	Class     string    `json:"class"`
	Color     string    `json:"color"`
	User      string    `json:"user,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Prediction is the PropagationEngine output for one segment: the committed
// class, the full class-probability distribution and its normalized entropy.
type Prediction struct {
	SegmentID     int64              `json:"segment_id"`
	Label         string             `json:"label"`
	Probabilities map[string]float64 `json:"probabilities"`
	Uncertainty   float64            `json:"uncertainty"`
}

// LabelStore is the mutable label overlay on top of a FeatureTable: manual
// labels keyed by segment id plus the predictions of the most recent
// propagation pass. It is not safe for concurrent use on its own; the session
// serializes access.
type LabelStore struct {
	catalog   *ClassCatalog
	clock     timeutil.Clock
	manual    map[int64]ManualLabel
	predicted map[int64]Prediction
}

// NewLabelStore creates an empty store bound to a catalog.
func NewLabelStore(catalog *ClassCatalog) *LabelStore {
	return &LabelStore{
		catalog:   catalog,
		clock:     timeutil.RealClock{},
		manual:    make(map[int64]ManualLabel),
		predicted: make(map[int64]Prediction),
	}
}

// SetManual records a manual assignment, registering the class in the catalog
// if it is new. The catalog color wins over the supplied one for an existing
// class. Any prediction for the segment is kept internally for audit but
// loses display precedence.
func (s *LabelStore) SetManual(segmentID int64, className, color, user string) ManualLabel {
	class := NormalizeClassName(className)
	stored := s.catalog.Register(class, color)
	label := ManualLabel{
		SegmentID: segmentID,
		Class:     class,
		Color:     stored,
		User:      user,
		Timestamp: s.clock.Now().UTC().Truncate(time.Second),
	}
	s.manual[segmentID] = label
	return label
}

// ClearManual removes the manual label for a segment. Clearing an unlabeled
// segment is a no-op; the return reports whether anything was removed.
func (s *LabelStore) ClearManual(segmentID int64) bool {
	if _, ok := s.manual[segmentID]; !ok {
		return false
	}
	delete(s.manual, segmentID)
	return true
}

// Manual returns the manual label for a segment, if any.
func (s *LabelStore) Manual(segmentID int64) (ManualLabel, bool) {
	l, ok := s.manual[segmentID]
	return l, ok
}

// Predicted returns the latest prediction for a segment, if any. This is the
// audit view: it is populated even for segments that later received a manual
// override.
func (s *LabelStore) Predicted(segmentID int64) (Prediction, bool) {
	p, ok := s.predicted[segmentID]
	return p, ok
}

// ApplyPropagationResult bulk-sets predictions from a propagation pass.
// Manual labels are never overwritten; predictions are stored for every
// segment, including manually labeled ones, so training consistency can be
// audited afterwards.
func (s *LabelStore) ApplyPropagationResult(predictions map[int64]Prediction) {
	for id, p := range predictions {
		s.predicted[id] = p
	}
}

// ClearClass removes the manual label from every segment that holds the given
// class. Historical predictions referencing the class are left untouched.
// Returns the ids that were cleared, in ascending order.
func (s *LabelStore) ClearClass(className string) []int64 {
	class := NormalizeClassName(className)
	var cleared []int64
	for id, l := range s.manual {
		if l.Class == class {
			delete(s.manual, id)
			cleared = append(cleared, id)
		}
	}
	sort.Slice(cleared, func(i, j int) bool { return cleared[i] < cleared[j] })
	return cleared
}

// ExportLabeled returns the manual-label overlay sorted by segment id. This
// is both the persistence payload and the propagation training set.
func (s *LabelStore) ExportLabeled() []ManualLabel {
	out := make([]ManualLabel, 0, len(s.manual))
	for _, l := range s.manual {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out
}

// DistinctClasses returns the number of distinct classes among manual labels.
func (s *LabelStore) DistinctClasses() int {
	seen := make(map[string]struct{})
	for _, l := range s.manual {
		seen[l.Class] = struct{}{}
	}
	return len(seen)
}

// ManualCount returns the number of manually labeled segments.
func (s *LabelStore) ManualCount() int { return len(s.manual) }

// DisplayLabel resolves the label shown for a segment: the manual label when
// present, the predicted one otherwise. The bool reports whether the label is
// manual.
func (s *LabelStore) DisplayLabel(segmentID int64) (class string, manual bool) {
	if l, ok := s.manual[segmentID]; ok {
		return l.Class, true
	}
	if p, ok := s.predicted[segmentID]; ok {
		return p.Label, false
	}
	return "", false
}
