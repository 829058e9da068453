// Package depgraph orders units by their start-after dependencies.
package depgraph

import (
	"sort"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

// Graph is a resolved, acyclic dependency graph partitioned into tiers.
// Tier k holds only nodes whose dependencies all lie in tiers < k, and
// each tier is sorted by name. A Graph is read-only and safe for
// concurrent use.
type Graph struct {
	tiers      [][]string
	tierOf     map[string]int
	deps       map[string][]string
	dependents map[string][]string
}

// Resolve builds the graph from a node -> dependencies map. Every
// dependency must itself be a key of deps. Fails with a cycle error
// naming one cycle when no tiering exists.
func Resolve(deps map[string][]string) (*Graph, error) {
	g := &Graph{
		tierOf:     make(map[string]int, len(deps)),
		deps:       make(map[string][]string, len(deps)),
		dependents: make(map[string][]string, len(deps)),
	}

	for node, nodeDeps := range deps {
		seen := make(map[string]bool, len(nodeDeps))
		for _, dep := range nodeDeps {
			if _, ok := deps[dep]; !ok {
				return nil, errors.NewConfigError("depends on unknown unit: "+dep, nil).WithContext("unit", node)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[node] = append(g.deps[node], dep)
			g.dependents[dep] = append(g.dependents[dep], node)
		}
	}
	for _, list := range g.deps {
		sort.Strings(list)
	}
	for _, list := range g.dependents {
		sort.Strings(list)
	}

	// Kahn's algorithm, one layer at a time
	remaining := make(map[string]int, len(deps))
	var ready []string
	for node := range deps {
		remaining[node] = len(g.deps[node])
		if remaining[node] == 0 {
			ready = append(ready, node)
		}
	}

	placed := 0
	for len(ready) > 0 {
		sort.Strings(ready)
		tier := ready
		ready = nil
		for _, node := range tier {
			g.tierOf[node] = len(g.tiers)
			for _, dependent := range g.dependents[node] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					ready = append(ready, dependent)
				}
			}
		}
		g.tiers = append(g.tiers, tier)
		placed += len(tier)
	}

	if placed < len(deps) {
		return nil, errors.NewCycleError(g.findCycle(remaining))
	}

	return g, nil
}

// findCycle walks unplaced nodes along their first unplaced dependency.
// Every unplaced node has one, so the walk must revisit a node.
func (g *Graph) findCycle(remaining map[string]int) []string {
	var unplaced []string
	for node, count := range remaining {
		if count > 0 {
			unplaced = append(unplaced, node)
		}
	}
	sort.Strings(unplaced)

	visitedAt := make(map[string]int)
	var path []string
	node := unplaced[0]
	for {
		if i, ok := visitedAt[node]; ok {
			return rotateCycle(path[i:])
		}
		visitedAt[node] = len(path)
		path = append(path, node)

		for _, dep := range g.deps[node] {
			if remaining[dep] > 0 {
				node = dep
				break
			}
		}
	}
}

// rotateCycle starts the cycle at its lexically smallest member and
// repeats that member at the end: [b c a] becomes [a b c a]
func rotateCycle(members []string) []string {
	start := 0
	for i, member := range members {
		if member < members[start] {
			start = i
		}
	}
	cycle := make([]string, 0, len(members)+1)
	cycle = append(cycle, members[start:]...)
	cycle = append(cycle, members[:start]...)
	return append(cycle, members[start])
}

// Tiers returns a copy of the start tiers, first tier first
func (g *Graph) Tiers() [][]string {
	tiers := make([][]string, len(g.tiers))
	for i, tier := range g.tiers {
		tiers[i] = append([]string(nil), tier...)
	}
	return tiers
}

// TierOf returns the tier index of a node
func (g *Graph) TierOf(node string) (int, bool) {
	tier, ok := g.tierOf[node]
	return tier, ok
}

// Dependencies returns the nodes that must be ready before node starts
func (g *Graph) Dependencies(node string) []string {
	return append([]string(nil), g.deps[node]...)
}

// Dependents returns the nodes that start after node
func (g *Graph) Dependents(node string) []string {
	return append([]string(nil), g.dependents[node]...)
}

// Nodes returns all nodes in start order
func (g *Graph) Nodes() []string {
	var nodes []string
	for _, tier := range g.tiers {
		nodes = append(nodes, tier...)
	}
	return nodes
}

func (g *Graph) Len() int {
	return len(g.tierOf)
}
