// Package graph plans work-item execution order from declared dependencies.
// Planning is pure and deterministic: identical input always yields
// identical layers.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/specflow/specflow/pkg/models"
)

// UnknownDependencyError indicates an item references a nonexistent item id.
type UnknownDependencyError struct {
	// ItemID is the item carrying the bad reference.
	ItemID string
	// Dependency is the id that does not exist.
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("work item %s depends on unknown item %s", e.ItemID, e.Dependency)
}

// CycleError indicates the dependency graph contains a cycle.
// Members lists every item involved in cyclic dependencies, sorted by id.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle involving: %s", strings.Join(e.Members, ", "))
}

// Graph is a validated dependency graph over work items, with execution
// layers precomputed by Kahn's algorithm. Every item's dependencies lie in
// a strictly earlier layer than the item itself.
type Graph struct {
	// deps maps item id to the ids it depends on.
	deps map[string][]string
	// dependents maps item id to the ids that depend on it.
	dependents map[string][]string
	// layers holds item ids per execution layer, sorted within each layer.
	layers [][]string
	// layerOf maps item id to its layer index.
	layerOf map[string]int
}

// Build validates the dependency graph of the given items and computes
// execution layers. It fails before any execution begins: with
// *UnknownDependencyError for a dangling reference, or with *CycleError
// naming every item involved in a cycle.
func Build(items []*models.WorkItem) (*Graph, error) {
	g := &Graph{
		deps:       make(map[string][]string, len(items)),
		dependents: make(map[string][]string, len(items)),
		layerOf:    make(map[string]int, len(items)),
	}

	for _, item := range items {
		g.deps[item.ID] = nil
	}
	for _, item := range items {
		for _, dep := range item.Dependencies {
			if _, ok := g.deps[dep]; !ok {
				return nil, &UnknownDependencyError{ItemID: item.ID, Dependency: dep}
			}
			g.deps[item.ID] = append(g.deps[item.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], item.ID)
		}
	}

	if err := g.computeLayers(); err != nil {
		return nil, err
	}
	return g, nil
}

// computeLayers runs Kahn's algorithm: repeatedly collect every item with
// zero unresolved dependencies into the next layer, then remove them. If no
// such item remains while unprocessed items do, the leftovers contain a
// cycle.
func (g *Graph) computeLayers() error {
	remaining := make(map[string]int, len(g.deps))
	for id, deps := range g.deps {
		remaining[id] = len(deps)
	}

	for len(remaining) > 0 {
		var layer []string
		for id, degree := range remaining {
			if degree == 0 {
				layer = append(layer, id)
			}
		}
		if len(layer) == 0 {
			return &CycleError{Members: g.cycleMembers(remaining)}
		}
		sort.Strings(layer)

		index := len(g.layers)
		g.layers = append(g.layers, layer)
		for _, id := range layer {
			g.layerOf[id] = index
			delete(remaining, id)
			for _, dependent := range g.dependents[id] {
				if _, ok := remaining[dependent]; ok {
					remaining[dependent]--
				}
			}
		}
	}
	return nil
}

// cycleMembers trims the leftover set down to the items actually on cycles.
// Kahn's leftovers also include items that merely depend on a cycle; those
// fall away once chains with no dependents inside the set are pruned.
func (g *Graph) cycleMembers(remaining map[string]int) []string {
	inSet := make(map[string]bool, len(remaining))
	for id := range remaining {
		inSet[id] = true
	}

	for changed := true; changed; {
		changed = false
		for id := range inSet {
			hasDependent := false
			for _, dependent := range g.dependents[id] {
				if inSet[dependent] {
					hasDependent = true
					break
				}
			}
			if !hasDependent {
				delete(inSet, id)
				changed = true
			}
		}
	}

	members := make([]string, 0, len(inSet))
	for id := range inSet {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}

// Layers returns the execution layers. The result is a copy; callers may
// not mutate the graph through it.
func (g *Graph) Layers() [][]string {
	out := make([][]string, len(g.layers))
	for i, layer := range g.layers {
		out[i] = append([]string(nil), layer...)
	}
	return out
}

// LayerOf returns the layer index assigned to the given item.
// The second return value is false for unknown ids.
func (g *Graph) LayerOf(id string) (int, bool) {
	index, ok := g.layerOf[id]
	return index, ok
}

// Dependencies returns the ids the given item depends on.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the ids that depend on the given item.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// Size returns the number of items in the graph.
func (g *Graph) Size() int {
	return len(g.deps)
}
