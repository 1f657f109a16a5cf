package classify

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"sync"
)

// ClassCatalog maps class names to display colors. The color assigned on
// first registration is kept for the lifetime of the project: re-registering
// the same name never changes it, which is what keeps colors stable across
// labeling sessions.
type ClassCatalog struct {
	mu     sync.RWMutex
	colors map[string]string
}

// NewClassCatalog creates an empty catalog.
func NewClassCatalog() *ClassCatalog {
	return &ClassCatalog{colors: make(map[string]string)}
}

// NormalizeClassName trims and case-folds a class name. All catalog and label
// operations key on the normalized form.
func NormalizeClassName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register stores requestedColor for a new class name and returns it. If the
// name is already registered the stored color wins and requestedColor is
// ignored.
func (c *ClassCatalog) Register(name, requestedColor string) string {
	key := NormalizeClassName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if color, ok := c.colors[key]; ok {
		return color
	}
	if requestedColor == "" {
		requestedColor = fallbackColor(key)
	}
	c.colors[key] = requestedColor
	return requestedColor
}

// Remove deletes a class from the catalog. Removing an absent name is a no-op.
func (c *ClassCatalog) Remove(name string) {
	key := NormalizeClassName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.colors, key)
}

// Contains reports whether the class name is registered.
func (c *ClassCatalog) Contains(name string) bool {
	key := NormalizeClassName(name)
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.colors[key]
	return ok
}

// ColorOf returns the stored color for a class name, or a deterministic
// fallback derived from the name when it is unknown. The fallback is not
// added to the catalog, so unseen predicted classes render consistently
// without polluting the snapshot.
func (c *ClassCatalog) ColorOf(name string) string {
	key := NormalizeClassName(name)
	c.mu.RLock()
	color, ok := c.colors[key]
	c.mu.RUnlock()
	if ok {
		return color
	}
	return fallbackColor(key)
}

// Names returns the registered class names in sorted order.
func (c *ClassCatalog) Names() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.colors))
	for name := range c.colors {
		names = append(names, name)
	}
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of registered classes.
func (c *ClassCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.colors)
}

// Snapshot returns a copy of the name -> color map for persistence.
func (c *ClassCatalog) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.colors))
	for name, color := range c.colors {
		out[name] = color
	}
	return out
}

// Restore replaces the catalog contents from a persisted snapshot.
func (c *ClassCatalog) Restore(snapshot map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.colors = make(map[string]string, len(snapshot))
	for name, color := range snapshot {
		c.colors[NormalizeClassName(name)] = color
	}
}

// fallbackColor hashes a class name into a hue and renders it as a saturated
// hex color. The same name always maps to the same color within and across
// sessions.
func fallbackColor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	hue := float64(h.Sum32() % 360)
	r, g, b := hslToRGB(hue, 0.65, 0.5)
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

// hslToRGB converts HSL (hue in degrees, s and l in [0,1]) to 8-bit RGB.
func hslToRGB(h, s, l float64) (uint8, uint8, uint8) {
	c := (1 - math.Abs(2*l-1)) * s
	hp := h / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))
	var r, g, b float64
	switch {
	case hp < 1:
		r, g, b = c, x, 0
	case hp < 2:
		r, g, b = x, c, 0
	case hp < 3:
		r, g, b = 0, c, x
	case hp < 4:
		r, g, b = 0, x, c
	case hp < 5:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	m := l - c/2
	return uint8(math.Round((r + m) * 255)), uint8(math.Round((g + m) * 255)), uint8(math.Round((b + m) * 255))
}
