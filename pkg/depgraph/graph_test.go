package depgraph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
)

func TestResolve_EmsysTopology(t *testing.T) {
	g, err := Resolve(map[string][]string{
		"starter":    nil,
		"rnbo-query": {"starter"},
		"emsys-app":  {"starter"},
	})
	require.NoError(t, err)

	want := [][]string{
		{"starter"},
		{"emsys-app", "rnbo-query"},
	}
	if diff := cmp.Diff(want, g.Tiers()); diff != "" {
		t.Errorf("tiers mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []string{"emsys-app", "rnbo-query"}, g.Dependents("starter"))
	assert.Equal(t, []string{"starter"}, g.Dependencies("emsys-app"))
	assert.Empty(t, g.Dependencies("starter"))
	assert.Equal(t, []string{"starter", "emsys-app", "rnbo-query"}, g.Nodes())

	tier, ok := g.TierOf("rnbo-query")
	require.True(t, ok)
	assert.Equal(t, 1, tier)
	_, ok = g.TierOf("ghost")
	assert.False(t, ok)
}

func TestResolve_Tiers(t *testing.T) {
	tests := []struct {
		name string
		deps map[string][]string
		want [][]string
	}{
		{
			name: "empty",
			deps: map[string][]string{},
			want: [][]string{},
		},
		{
			name: "independent units share a tier in name order",
			deps: map[string][]string{"c": nil, "a": nil, "b": nil},
			want: [][]string{{"a", "b", "c"}},
		},
		{
			name: "chain",
			deps: map[string][]string{"c": {"b"}, "b": {"a"}, "a": nil},
			want: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "diamond",
			deps: map[string][]string{"d": {"b", "c"}, "b": {"a"}, "c": {"a"}, "a": nil},
			want: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "unit waits for its deepest dependency",
			deps: map[string][]string{"x": {"a", "c"}, "c": {"b"}, "b": {"a"}, "a": nil},
			want: [][]string{{"a"}, {"b"}, {"c"}, {"x"}},
		},
		{
			name: "duplicate edges are ignored",
			deps: map[string][]string{"b": {"a", "a"}, "a": nil},
			want: [][]string{{"a"}, {"b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Resolve(tt.deps)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, g.Tiers()); diff != "" {
				t.Errorf("tiers mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_Cycles(t *testing.T) {
	tests := []struct {
		name  string
		deps  map[string][]string
		cycle []string
	}{
		{
			name:  "self dependency",
			deps:  map[string][]string{"a": {"a"}},
			cycle: []string{"a", "a"},
		},
		{
			name:  "two units",
			deps:  map[string][]string{"a": {"b"}, "b": {"a"}},
			cycle: []string{"a", "b", "a"},
		},
		{
			name:  "cycle behind an acyclic prefix",
			deps:  map[string][]string{"root": nil, "x": {"root", "z"}, "y": {"x"}, "z": {"y"}, "tail": {"z"}},
			cycle: []string{"x", "z", "y", "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Resolve(tt.deps)
			require.Error(t, err)
			assert.Nil(t, g)
			assert.True(t, errors.IsCycleError(err))

			cycle, ok := errors.Cycle(err)
			require.True(t, ok)
			if diff := cmp.Diff(tt.cycle, cycle); diff != "" {
				t.Errorf("cycle mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolve_UnknownDependency(t *testing.T) {
	_, err := Resolve(map[string][]string{"a": {"ghost"}})
	require.Error(t, err)
	assert.True(t, errors.IsConfigError(err))
}

func TestResolve_TiersAreDefensiveCopies(t *testing.T) {
	g, err := Resolve(map[string][]string{"a": nil, "b": {"a"}})
	require.NoError(t, err)

	tiers := g.Tiers()
	tiers[0][0] = "mutated"
	g.Dependencies("b")[0] = "mutated"

	assert.Equal(t, [][]string{{"a"}, {"b"}}, g.Tiers())
	assert.Equal(t, []string{"a"}, g.Dependencies("b"))
}

// randomDAG only draws edges from higher to lower indices, so it is acyclic
func randomDAG(r *rand.Rand, n int) map[string][]string {
	deps := make(map[string][]string, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("u%02d", i)
		deps[name] = nil
		for j := 0; j < i; j++ {
			if r.Intn(4) == 0 {
				deps[name] = append(deps[name], fmt.Sprintf("u%02d", j))
			}
		}
	}
	return deps
}

func TestResolve_PropertyDependenciesInEarlierTiers(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for iteration := 0; iteration < 200; iteration++ {
		deps := randomDAG(r, 1+r.Intn(20))

		g, err := Resolve(deps)
		require.NoError(t, err)
		require.Equal(t, len(deps), g.Len())

		for node, nodeDeps := range deps {
			tier, ok := g.TierOf(node)
			require.True(t, ok)

			maxDepTier := -1
			for _, dep := range nodeDeps {
				depTier, _ := g.TierOf(dep)
				assert.Less(t, depTier, tier, "%s must start after %s", node, dep)
				if depTier > maxDepTier {
					maxDepTier = depTier
				}
			}
			// Nothing waits longer than its dependencies require
			assert.Equal(t, maxDepTier+1, tier, node)
		}

		for _, tier := range g.Tiers() {
			assert.IsIncreasing(t, tier)
		}
	}
}

func TestResolve_PropertyCyclesAreReported(t *testing.T) {
	r := rand.New(rand.NewSource(11))

	for iteration := 0; iteration < 200; iteration++ {
		n := 2 + r.Intn(15)
		deps := randomDAG(r, n)

		// Close a cycle through a chain low -> ... -> high -> low
		low, high := r.Intn(n-1), 0
		high = low + 1 + r.Intn(n-low-1)
		for i := low + 1; i <= high; i++ {
			name := fmt.Sprintf("u%02d", i)
			deps[name] = append(deps[name], fmt.Sprintf("u%02d", i-1))
		}
		lowName := fmt.Sprintf("u%02d", low)
		deps[lowName] = append(deps[lowName], fmt.Sprintf("u%02d", high))

		_, err := Resolve(deps)
		require.Error(t, err)
		require.True(t, errors.IsCycleError(err))

		cycle, ok := errors.Cycle(err)
		require.True(t, ok)
		require.GreaterOrEqual(t, len(cycle), 2)
		assert.Equal(t, cycle[0], cycle[len(cycle)-1])
		for i := 0; i+1 < len(cycle); i++ {
			assert.Contains(t, deps[cycle[i]], cycle[i+1], "cycle edge %s -> %s", cycle[i], cycle[i+1])
		}
	}
}
