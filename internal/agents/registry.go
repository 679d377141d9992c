package agents

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the known analyzers. Registration happens at startup;
// lookups are read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Analyzer
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]Analyzer)}
}

// Register adds an analyzer. Duplicate IDs are a programming error.
func (r *Registry) Register(a Analyzer) error {
	id := a.Spec().ID
	if id == "" {
		return fmt.Errorf("analyzer with empty ID")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("analyzer %q already registered", id)
	}
	r.agents[id] = a
	return nil
}

// Get returns the analyzer with the given ID.
func (r *Registry) Get(id string) (Analyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// IDs returns all registered agent IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Select resolves the requested IDs (all registered agents when ids is
// empty) plus their transitive dependencies, returning them grouped into
// waves: every agent's dependencies live in an earlier wave.
func (r *Registry) Select(ids []string) ([][]Analyzer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(ids) == 0 {
		ids = make([]string, 0, len(r.agents))
		for id := range r.agents {
			ids = append(ids, id)
		}
	}

	// Pull in transitive dependencies.
	wanted := make(map[string]Analyzer)
	var add func(id string) error
	add = func(id string) error {
		if _, done := wanted[id]; done {
			return nil
		}
		a, ok := r.agents[id]
		if !ok {
			return fmt.Errorf("unknown analyzer %q", id)
		}
		wanted[id] = a
		for _, dep := range a.Spec().DependsOn {
			if err := add(dep); err != nil {
				return fmt.Errorf("dependency of %q: %w", id, err)
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := add(id); err != nil {
			return nil, err
		}
	}

	// Kahn layering into waves.
	depth := make(map[string]int, len(wanted))
	var depthOf func(id string, trail map[string]bool) (int, error)
	depthOf = func(id string, trail map[string]bool) (int, error) {
		if d, ok := depth[id]; ok {
			return d, nil
		}
		if trail[id] {
			return 0, fmt.Errorf("dependency cycle through %q", id)
		}
		trail[id] = true
		defer delete(trail, id)
		max := 0
		for _, dep := range wanted[id].Spec().DependsOn {
			d, err := depthOf(dep, trail)
			if err != nil {
				return 0, err
			}
			if d+1 > max {
				max = d + 1
			}
		}
		depth[id] = max
		return max, nil
	}
	maxDepth := 0
	for id := range wanted {
		d, err := depthOf(id, map[string]bool{})
		if err != nil {
			return nil, err
		}
		if d > maxDepth {
			maxDepth = d
		}
	}

	waves := make([][]Analyzer, maxDepth+1)
	names := make([]string, 0, len(wanted))
	for id := range wanted {
		names = append(names, id)
	}
	sort.Strings(names)
	for _, id := range names {
		d := depth[id]
		waves[d] = append(waves[d], wanted[id])
	}
	return waves, nil
}
