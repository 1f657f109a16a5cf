package classify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marianaschaefer/geoapi/internal/timeutil"
)

func TestLabelStore_SetManual(t *testing.T) {
	store := NewLabelStore(NewClassCatalog())
	store.clock = timeutil.NewMockClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	label := store.SetManual(7, "  Water ", "#0000ff", "mariana")
	assert.Equal(t, int64(7), label.SegmentID)
	assert.Equal(t, "water", label.Class)
	assert.Equal(t, "#0000ff", label.Color)
	assert.Equal(t, "mariana", label.User)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), label.Timestamp)

	got, ok := store.Manual(7)
	require.True(t, ok)
	assert.Equal(t, label, got)
	assert.Equal(t, 1, store.ManualCount())
}

func TestLabelStore_SetManualCatalogColorWins(t *testing.T) {
	catalog := NewClassCatalog()
	catalog.Register("water", "#0000ff")
	store := NewLabelStore(catalog)

	label := store.SetManual(1, "water", "#ff0000", "")
	assert.Equal(t, "#0000ff", label.Color)
}

func TestLabelStore_ClearManual(t *testing.T) {
	store := NewLabelStore(NewClassCatalog())
	store.SetManual(1, "water", "", "")

	assert.True(t, store.ClearManual(1))
	assert.False(t, store.ClearManual(1))
	assert.Equal(t, 0, store.ManualCount())
}

func TestLabelStore_ApplyPropagationResultKeepsManualPrecedence(t *testing.T) {
	store := NewLabelStore(NewClassCatalog())
	store.SetManual(1, "water", "", "")

	store.ApplyPropagationResult(map[int64]Prediction{
		1: {SegmentID: 1, Label: "forest", Uncertainty: 0.1},
		2: {SegmentID: 2, Label: "forest", Uncertainty: 0.4},
	})

	// Display resolves to the manual label, but the prediction stays
	// available for audit.
	class, manual := store.DisplayLabel(1)
	assert.Equal(t, "water", class)
	assert.True(t, manual)

	pred, ok := store.Predicted(1)
	require.True(t, ok)
	assert.Equal(t, "forest", pred.Label)

	class, manual = store.DisplayLabel(2)
	assert.Equal(t, "forest", class)
	assert.False(t, manual)

	_, manual = store.DisplayLabel(99)
	assert.False(t, manual)
}

func TestLabelStore_ClearClass(t *testing.T) {
	store := NewLabelStore(NewClassCatalog())
	store.SetManual(3, "water", "", "")
	store.SetManual(1, "water", "", "")
	store.SetManual(2, "forest", "", "")
	store.ApplyPropagationResult(map[int64]Prediction{
		5: {SegmentID: 5, Label: "water"},
	})

	cleared := store.ClearClass("Water")
	assert.Equal(t, []int64{1, 3}, cleared)
	assert.Equal(t, 1, store.ManualCount())

	// Predictions referencing the class are untouched until the next run.
	pred, ok := store.Predicted(5)
	require.True(t, ok)
	assert.Equal(t, "water", pred.Label)
}

func TestLabelStore_ExportLabeledSorted(t *testing.T) {
	store := NewLabelStore(NewClassCatalog())
	store.SetManual(9, "water", "", "")
	store.SetManual(2, "forest", "", "")
	store.SetManual(5, "water", "", "")

	exported := store.ExportLabeled()
	require.Len(t, exported, 3)
	assert.Equal(t, int64(2), exported[0].SegmentID)
	assert.Equal(t, int64(5), exported[1].SegmentID)
	assert.Equal(t, int64(9), exported[2].SegmentID)
}

func TestLabelStore_DistinctClasses(t *testing.T) {
	store := NewLabelStore(NewClassCatalog())
	assert.Equal(t, 0, store.DistinctClasses())

	store.SetManual(1, "water", "", "")
	store.SetManual(2, "water", "", "")
	assert.Equal(t, 1, store.DistinctClasses())

	store.SetManual(3, "forest", "", "")
	assert.Equal(t, 2, store.DistinctClasses())
}
