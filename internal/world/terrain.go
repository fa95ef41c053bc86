package world

import (
	"sort"
	"sync"
)

// Terrain records which answer platforms currently exist in each area and
// reports every change to a listener.
type Terrain struct {
	mu       sync.RWMutex
	layouts  map[string][]bool
	onChange func(areaID string, present []bool)
}

func NewTerrain(onChange func(areaID string, present []bool)) *Terrain {
	return &Terrain{
		layouts:  make(map[string][]bool),
		onChange: onChange,
	}
}

func (t *Terrain) SetPlatforms(areaID string, present []bool) {
	layout := append([]bool(nil), present...)
	t.mu.Lock()
	prev, ok := t.layouts[areaID]
	t.layouts[areaID] = layout
	t.mu.Unlock()
	if ok && equal(prev, layout) {
		return
	}
	if t.onChange != nil {
		t.onChange(areaID, append([]bool(nil), layout...))
	}
}

// Layout returns the platforms of areaID; unknown areas report false.
func (t *Terrain) Layout(areaID string) ([]bool, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	l, ok := t.layouts[areaID]
	return append([]bool(nil), l...), ok
}

// Areas lists areas with a known layout.
func (t *Terrain) Areas() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]string, 0, len(t.layouts))
	for id := range t.layouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func equal(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
