package measureset

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds the measure sets a run can select by name.
type Registry struct {
	sets map[string]MeasureSet
}

func NewRegistry(sets ...MeasureSet) *Registry {
	r := &Registry{sets: make(map[string]MeasureSet, len(sets))}
	for _, s := range sets {
		r.sets[s.Name()] = s
	}
	return r
}

// DefaultRegistry knows every built-in measure set.
func DefaultRegistry() *Registry {
	return NewRegistry(NewCPUUsage(), NewDiskIO(), NewFileIO(), NewGPUUsage(), NewMemSet())
}

func (r *Registry) Lookup(name string) (MeasureSet, bool) {
	s, ok := r.sets[name]
	return s, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select resolves names in order. Duplicates are ignored.
func (r *Registry) Select(names []string) ([]MeasureSet, error) {
	seen := make(map[string]bool, len(names))
	out := make([]MeasureSet, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		s, ok := r.sets[name]
		if !ok {
			return nil, fmt.Errorf("unknown measure set %q, known: %s", name, strings.Join(r.Names(), ", "))
		}
		seen[name] = true
		out = append(out, s)
	}
	return out, nil
}

// DuplicateMetricError reports metrics a measure set emitted that were already present.
type DuplicateMetricError struct {
	Set     string
	Metrics []string
}

func (e *DuplicateMetricError) Error() string {
	return fmt.Sprintf("measure set %s emitted metrics already present: %s", e.Set, strings.Join(e.Metrics, ", "))
}

// Merge copies src into dst. Keys already in dst keep their value and are
// reported in a *DuplicateMetricError.
func Merge(dst, src Metrics, set string) error {
	var duplicates []string
	for key, value := range src {
		if _, exists := dst[key]; exists {
			duplicates = append(duplicates, key)
			continue
		}
		dst[key] = value
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return &DuplicateMetricError{Set: set, Metrics: duplicates}
	}
	return nil
}
