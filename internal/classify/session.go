package classify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marianaschaefer/geoapi/internal/monitoring"
	"github.com/marianaschaefer/geoapi/internal/timeutil"
)

// SessionState tracks where a project is in the label -> propagate -> review
// cycle. The cycle is re-entrant and has no terminal state.
type SessionState string

const (
	// StateFresh: segments exist, no manual labels yet.
	StateFresh SessionState = "fresh"
	// StatePartiallyLabeled: at least one manual label, fewer than two classes.
	StatePartiallyLabeled SessionState = "partially_labeled"
	// StateReady: two or more distinct classes labeled; propagation may run.
	StateReady SessionState = "ready"
	// StatePropagated: predictions and uncertainty are available.
	StatePropagated SessionState = "propagated"
)

// PropagationRecord is one entry of a session's propagation history.
type PropagationRecord struct {
	RunID               string        `json:"run_id"`
	Method              Method        `json:"method"`
	TrainingConsistency float64       `json:"training_consistency"`
	LabeledCount        int           `json:"labeled_count"`
	TotalCount          int           `json:"total_count"`
	Iterations          int           `json:"iterations"`
	Duration            time.Duration `json:"duration_ns"`
	CreatedAt           time.Time     `json:"created_at"`
}

// LabelInput is one manual assignment submitted by the analyst.
type LabelInput struct {
	SegmentID int64  `json:"segment_id"`
	Class     string `json:"class"`
	Color     string `json:"color,omitempty"`
	User      string `json:"user,omitempty"`
}

// Session orchestrates the active-learning cycle for one project: it owns the
// feature table, the label store and the class catalog, serializes all
// mutations behind one mutex, and runs at most one propagation at a time.
// Reads never wait on an in-flight propagation because the computation works
// on a snapshot outside the lock.
type Session struct {
	projectID int64
	engine    *Engine
	clock     timeutil.Clock

	// persist, when set, rewrites the label overlay artifacts. The session
	// calls it after flushing labels that were queued behind a propagation,
	// since no request handler observes that flush.
	persist func(labels []ManualLabel, catalog map[string]string)

	mu      sync.Mutex
	table   *FeatureTable
	catalog *ClassCatalog
	labels  *LabelStore
	state   SessionState
	history []PropagationRecord
	last    *Result

	// In-flight propagation bookkeeping. runGen increments per request so a
	// superseded run can detect it must not apply partial results.
	running   bool
	runGen    uint64
	cancelRun context.CancelFunc
	pending   []LabelInput
}

// NewSession creates a session over an ingested feature table.
func NewSession(projectID int64, table *FeatureTable, engine *Engine) *Session {
	catalog := NewClassCatalog()
	return &Session{
		projectID: projectID,
		engine:    engine,
		clock:     timeutil.RealClock{},
		table:     table,
		catalog:   catalog,
		labels:    NewLabelStore(catalog),
		state:     StateFresh,
	}
}

// SetPersist installs the overlay persistence hook.
func (s *Session) SetPersist(persist func(labels []ManualLabel, catalog map[string]string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persist = persist
}

// SetClock swaps the time source. Tests use this to pin timestamps.
func (s *Session) SetClock(clock timeutil.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
	s.labels.clock = clock
}

// Hydrate restores a persisted overlay: the catalog snapshot first, so that
// stored colors win, then the manual labels.
func (s *Session) Hydrate(catalog map[string]string, samples []ManualLabel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Restore(catalog)
	for _, l := range samples {
		if !s.table.Contains(l.SegmentID) {
			return fmt.Errorf("%w: persisted sample references segment %d", ErrSegmentNotFound, l.SegmentID)
		}
		s.labels.SetManual(l.SegmentID, l.Class, l.Color, l.User)
	}
	s.recomputeStateLocked()
	return nil
}

// ProjectID returns the owning project id.
func (s *Session) ProjectID() int64 { return s.projectID }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Table returns the read-only feature table.
func (s *Session) Table() *FeatureTable { return s.table }

// Catalog returns the class catalog. The catalog is internally synchronized.
func (s *Session) Catalog() *ClassCatalog { return s.catalog }

// ApplyManualLabels records a batch of manual assignments. If a propagation
// run is in flight the batch is queued, reported through the queued count,
// and applied after the run settles, so a run never sees a half-applied
// batch. Re-submitting an identical overlay is a no-op diff (0, 0).
func (s *Session) ApplyManualLabels(inputs []LabelInput) (created, updated, queued int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range inputs {
		if !s.table.Contains(in.SegmentID) {
			return 0, 0, 0, fmt.Errorf("%w: %d", ErrSegmentNotFound, in.SegmentID)
		}
		if NormalizeClassName(in.Class) == "" {
			return 0, 0, 0, fmt.Errorf("empty class for segment %d", in.SegmentID)
		}
	}

	if s.running {
		s.pending = append(s.pending, inputs...)
		monitoring.Logf("[Session %d] queued %d label(s) behind in-flight propagation", s.projectID, len(inputs))
		return 0, 0, len(inputs), nil
	}

	created, updated = s.applyLabelsLocked(inputs)
	return created, updated, 0, nil
}

func (s *Session) applyLabelsLocked(inputs []LabelInput) (created, updated int) {
	for _, in := range inputs {
		prev, had := s.labels.Manual(in.SegmentID)
		s.labels.SetManual(in.SegmentID, in.Class, in.Color, in.User)
		switch {
		case !had:
			created++
		case prev.Class != NormalizeClassName(in.Class):
			updated++
		}
	}
	if created > 0 || updated > 0 {
		s.recomputeStateLocked()
	}
	return created, updated
}

// CorrectLabel converts a model suggestion into ground truth. It is only
// valid once predictions exist; it demotes the session out of Propagated
// until the next run.
func (s *Session) CorrectLabel(segmentID int64, className, color, user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StatePropagated && !s.running {
		return fmt.Errorf("%w: correction requires propagated state, session is %s", ErrInvalidState, s.state)
	}
	if !s.table.Contains(segmentID) {
		return fmt.Errorf("%w: %d", ErrSegmentNotFound, segmentID)
	}
	in := LabelInput{SegmentID: segmentID, Class: className, Color: color, User: user}
	if s.running {
		s.pending = append(s.pending, in)
		return nil
	}
	s.applyLabelsLocked([]LabelInput{in})
	return nil
}

// ClearLabel removes one manual label. Reports whether anything was removed.
func (s *Session) ClearLabel(segmentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.labels.ClearManual(segmentID)
	if removed {
		s.recomputeStateLocked()
	}
	return removed
}

// RemoveClass deletes a class from the catalog and clears the manual label on
// every segment holding it. Predictions from earlier runs are untouched.
// Returns the cleared segment ids.
func (s *Session) RemoveClass(name string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog.Remove(name)
	cleared := s.labels.ClearClass(name)
	if len(cleared) > 0 {
		s.recomputeStateLocked()
	}
	return cleared
}

// ExportLabeled returns the manual overlay for persistence and training.
func (s *Session) ExportLabeled() []ManualLabel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels.ExportLabeled()
}

// RunPropagation executes one propagation pass. A newer call for the same
// session supersedes any in-flight run (last-request-wins): the old run is
// cancelled and discards its partial results. Labels queued behind a
// superseded run are applied before the new run snapshots its training set,
// so no later run ever trains without them.
func (s *Session) RunPropagation(ctx context.Context, method Method) (*Result, error) {
	s.mu.Lock()
	if s.state != StateReady && s.state != StatePropagated {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: session is %s", ErrInsufficientLabels, s.state)
	}
	if s.running && s.cancelRun != nil {
		monitoring.Logf("[Session %d] superseding in-flight propagation", s.projectID)
		s.cancelRun()
	}
	flushed := s.flushPendingLocked()
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancelRun = cancel
	s.runGen++
	gen := s.runGen
	table := s.table
	labeled := s.labels.ExportLabeled()
	s.mu.Unlock()

	if flushed {
		s.persistOverlay()
	}

	started := s.clock.Now()
	result, err := s.engine.Propagate(runCtx, method, table, labeled)
	cancel()

	s.mu.Lock()
	if gen != s.runGen {
		// A newer request took over; our results are stale regardless of err.
		s.mu.Unlock()
		return nil, ErrRunSuperseded
	}
	s.running = false
	s.cancelRun = nil

	if err != nil {
		flushed = s.flushPendingLocked()
		s.mu.Unlock()
		if flushed {
			s.persistOverlay()
		}
		return nil, err
	}

	s.labels.ApplyPropagationResult(result.Predictions)
	s.last = result
	s.state = StatePropagated
	rec := PropagationRecord{
		RunID:               uuid.New().String(),
		Method:              result.Method,
		TrainingConsistency: result.TrainingConsistency,
		LabeledCount:        result.LabeledCount,
		TotalCount:          result.TotalCount,
		Iterations:          result.Iterations,
		Duration:            s.clock.Since(started),
		CreatedAt:           s.clock.Now().UTC(),
	}
	s.history = append(s.history, rec)
	monitoring.Logf("[Session %d] propagation %s done: consistency=%.3f labeled=%d/%d iters=%d",
		s.projectID, result.Method, result.TrainingConsistency, result.LabeledCount, result.TotalCount, result.Iterations)
	flushed = s.flushPendingLocked()
	s.mu.Unlock()
	if flushed {
		s.persistOverlay()
	}
	return result, nil
}

// flushPendingLocked applies every label queued behind an in-flight run.
// Reports whether anything was applied so the caller can persist the overlay.
func (s *Session) flushPendingLocked() bool {
	if len(s.pending) == 0 {
		return false
	}
	batch := s.pending
	s.pending = nil
	created, updated := s.applyLabelsLocked(batch)
	monitoring.Logf("[Session %d] flushed %d queued label(s): created=%d updated=%d", s.projectID, len(batch), created, updated)
	return true
}

// persistOverlay rewrites the samples and catalog artifacts through the
// persistence hook. Failures are logged, the in-memory overlay stays
// authoritative until the next successful write.
func (s *Session) persistOverlay() {
	s.mu.Lock()
	persist := s.persist
	labels := s.labels.ExportLabeled()
	catalog := s.catalog.Snapshot()
	s.mu.Unlock()
	if persist == nil {
		return
	}
	persist(labels, catalog)
}

// LastResult returns the most recent propagation result, if any.
func (s *Session) LastResult() (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil, false
	}
	return s.last, true
}

// History returns a copy of the propagation history, oldest first.
func (s *Session) History() []PropagationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PropagationRecord, len(s.history))
	copy(out, s.history)
	return out
}

// Ranked returns unlabeled segments ordered by descending uncertainty.
func (s *Session) Ranked() []RankedSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return Rank(s.last.Predictions, s.labels, true)
}

// SelectUncertain returns the ids flagged for the next manual round.
func (s *Session) SelectUncertain(threshold float64, topK int) []int64 {
	return Select(s.Ranked(), threshold, topK)
}

// SegmentView is the merged per-segment view used for rendering: manual label
// when present, prediction otherwise, with the display color and uncertainty.
type SegmentView struct {
	SegmentID   int64    `json:"segment_id"`
	Class       string   `json:"class,omitempty"`
	Color       string   `json:"color,omitempty"`
	Manual      bool     `json:"manual"`
	Uncertainty *float64 `json:"uncertainty,omitempty"`
}

// View returns the segment-level classification view in ascending id order.
func (s *Session) View() []SegmentView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SegmentView, 0, s.table.Len())
	for _, id := range s.table.IDs() {
		v := SegmentView{SegmentID: id}
		if class, manual := s.labels.DisplayLabel(id); class != "" {
			v.Class = class
			v.Manual = manual
			v.Color = s.catalog.ColorOf(class)
		}
		if p, ok := s.labels.Predicted(id); ok {
			u := p.Uncertainty
			v.Uncertainty = &u
		}
		out = append(out, v)
	}
	return out
}

// recomputeStateLocked derives the pre-propagation state from the overlay.
// Any label mutation lands here, so corrections demote Propagated back to
// Ready or PartiallyLabeled.
func (s *Session) recomputeStateLocked() {
	switch {
	case s.labels.ManualCount() == 0:
		s.state = StateFresh
	case s.labels.DistinctClasses() < 2:
		s.state = StatePartiallyLabeled
	default:
		s.state = StateReady
	}
}
