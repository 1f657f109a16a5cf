package classify

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeClassName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Water", "water"},
		{"  FOREST  ", "forest"},
		{"bare soil", "bare soil"},
		{"", ""},
		{"   ", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, NormalizeClassName(tc.input))
	}
}

func TestCatalog_RegisterKeepsFirstColor(t *testing.T) {
	c := NewClassCatalog()

	got := c.Register("Water", "#0000ff")
	assert.Equal(t, "#0000ff", got)

	// Re-registering with a different color must not change the stored one.
	got = c.Register("water", "#ff0000")
	assert.Equal(t, "#0000ff", got)
	assert.Equal(t, "#0000ff", c.ColorOf("WATER"))
}

func TestCatalog_RegisterEmptyColorGetsFallback(t *testing.T) {
	c := NewClassCatalog()
	got := c.Register("forest", "")
	assert.NotEmpty(t, got)
	assert.Regexp(t, `^#[0-9a-f]{6}$`, got)

	// The fallback is deterministic per name.
	assert.Equal(t, got, fallbackColor("forest"))
}

func TestCatalog_ColorOfUnknownIsDeterministic(t *testing.T) {
	c := NewClassCatalog()
	first := c.ColorOf("urban")
	second := c.ColorOf("urban")
	assert.Equal(t, first, second)

	// An unknown lookup does not register the class.
	assert.False(t, c.Contains("urban"))
	assert.Equal(t, 0, c.Len())
}

func TestCatalog_RemoveIsIdempotent(t *testing.T) {
	c := NewClassCatalog()
	c.Register("water", "#0000ff")

	c.Remove("water")
	assert.False(t, c.Contains("water"))

	// Removing again is a no-op.
	c.Remove("water")
	assert.Equal(t, 0, c.Len())
}

func TestCatalog_SnapshotRestore(t *testing.T) {
	c := NewClassCatalog()
	c.Register("water", "#0000ff")
	c.Register("forest", "#00ff00")

	snap := c.Snapshot()
	if diff := cmp.Diff(map[string]string{"water": "#0000ff", "forest": "#00ff00"}, snap); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	restored := NewClassCatalog()
	restored.Restore(snap)
	assert.Equal(t, []string{"forest", "water"}, restored.Names())
	assert.Equal(t, "#0000ff", restored.ColorOf("water"))

	// Restore replaces, it does not merge.
	restored.Restore(map[string]string{"urban": "#888888"})
	if diff := cmp.Diff(map[string]string{"urban": "#888888"}, restored.Snapshot()); diff != "" {
		t.Errorf("restore mismatch (-want +got):\n%s", diff)
	}
}
