// Package graph builds the dependency graph over declared resources
// and fixes the deterministic order every later stage relies on.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/varunnarsana/stratus/types"
)

// CycleError reports a dependency cycle with the actual path, not just
// the fact that one exists.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Graph is an immutable dependency graph over a set of ResourceSpecs.
// Construction fails for cyclic input; a Graph that exists always has
// a topological order.
type Graph struct {
	specs         map[string]types.ResourceSpec
	deps          map[string][]string
	dependents    map[string][]string
	order         []string
	reverseOrder  []string
	depths        map[string]int
	reverseDepths map[string]int
	waves         [][]string
	reverseWaves  [][]string
}

// Build validates the declared specs and derives the graph. Duplicate ids and
// references to undeclared resources are plain validation errors;
// cycles come back as *CycleError.
func Build(specs []types.ResourceSpec) (*Graph, error) {
	g := &Graph{
		specs:         make(map[string]types.ResourceSpec, len(specs)),
		deps:          make(map[string][]string, len(specs)),
		dependents:    make(map[string][]string, len(specs)),
		depths:        make(map[string]int, len(specs)),
		reverseDepths: make(map[string]int, len(specs)),
	}

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.specs[spec.ID]; exists {
			return nil, fmt.Errorf("duplicate resource id %q", spec.ID)
		}
		spec.NormalizeDeps()
		g.specs[spec.ID] = spec
	}

	for id, spec := range g.specs {
		for _, dep := range spec.DependsOn {
			if _, ok := g.specs[dep]; !ok {
				return nil, fmt.Errorf("resource %s depends on undeclared resource %q", id, dep)
			}
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	for id := range g.deps {
		sort.Strings(g.deps[id])
	}
	for id := range g.dependents {
		sort.Strings(g.dependents[id])
	}

	if err := g.sortTopologically(); err != nil {
		return nil, err
	}
	g.sortForTeardown()
	g.computeWaves()
	return g, nil
}

// sortTopologically runs Kahn's algorithm. The candidate queue is kept
// in ascending id order, so two builds of the same spec set always
// yield the same sequence.
func (g *Graph) sortTopologically() error {
	inDegree := make(map[string]int, len(g.specs))
	for id := range g.specs {
		inDegree[id] = len(g.deps[id])
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(g.specs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dependent := range g.dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = insertSorted(queue, dependent)
			}
		}
	}

	if len(order) != len(g.specs) {
		return &CycleError{Path: g.findCycle(inDegree)}
	}
	g.order = order
	return nil
}

// sortForTeardown runs Kahn's algorithm over the inverted edges: nodes
// nothing depends on come first, so dependents always precede their
// dependencies. Ties still break by ascending id, which a plain
// reversal of the creation order would flip. Cannot fail: the forward
// sort already proved the graph acyclic.
func (g *Graph) sortForTeardown() {
	outDegree := make(map[string]int, len(g.specs))
	for id := range g.specs {
		outDegree[id] = len(g.dependents[id])
	}

	var queue []string
	for id, deg := range outDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(g.specs))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		for _, dep := range g.deps[id] {
			outDegree[dep]--
			if outDegree[dep] == 0 {
				queue = insertSorted(queue, dep)
			}
		}
	}
	g.reverseOrder = order
}

// findCycle walks the nodes Kahn could not process and returns one
// concrete cycle, starting from the smallest remaining id.
func (g *Graph) findCycle(inDegree map[string]int) []string {
	remaining := make(map[string]bool)
	var start []string
	for id, deg := range inDegree {
		if deg > 0 {
			remaining[id] = true
			start = append(start, id)
		}
	}
	sort.Strings(start)

	for _, root := range start {
		onPath := make(map[string]int)
		path := []string{}
		if cycle := g.walkCycle(root, remaining, onPath, path); cycle != nil {
			return cycle
		}
	}
	return start // unreachable once remaining is non-empty, kept as a fallback
}

func (g *Graph) walkCycle(id string, remaining map[string]bool, onPath map[string]int, path []string) []string {
	if pos, seen := onPath[id]; seen {
		cycle := append([]string{}, path[pos:]...)
		return append(cycle, id)
	}
	onPath[id] = len(path)
	path = append(path, id)
	for _, dep := range g.deps[id] {
		if !remaining[dep] {
			continue
		}
		if cycle := g.walkCycle(dep, remaining, onPath, path); cycle != nil {
			return cycle
		}
	}
	delete(onPath, id)
	return nil
}

// computeWaves groups nodes by topological depth: depth 0 has no
// dependencies, depth n+1 depends on something at depth n. Every wave
// is sorted ascending.
func (g *Graph) computeWaves() {
	for _, id := range g.order {
		depth := 0
		for _, dep := range g.deps[id] {
			if d := g.depths[dep] + 1; d > depth {
				depth = d
			}
		}
		g.depths[id] = depth
	}

	maxDepth := -1
	for _, d := range g.depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	g.waves = make([][]string, maxDepth+1)
	for _, id := range g.order {
		d := g.depths[id]
		g.waves[d] = append(g.waves[d], id)
	}
	for _, wave := range g.waves {
		sort.Strings(wave)
	}

	// Teardown depth mirrors the computation over dependent edges.
	for _, id := range g.reverseOrder {
		depth := 0
		for _, dependent := range g.dependents[id] {
			if d := g.reverseDepths[dependent] + 1; d > depth {
				depth = d
			}
		}
		g.reverseDepths[id] = depth
	}

	maxDepth = -1
	for _, d := range g.reverseDepths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	g.reverseWaves = make([][]string, maxDepth+1)
	for _, id := range g.reverseOrder {
		d := g.reverseDepths[id]
		g.reverseWaves[d] = append(g.reverseWaves[d], id)
	}
	for _, wave := range g.reverseWaves {
		sort.Strings(wave)
	}
}

// Order returns node ids in creation order.
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// ReverseOrder returns node ids in teardown order: dependents before
// their dependencies, ties ascending.
func (g *Graph) ReverseOrder() []string {
	return append([]string(nil), g.reverseOrder...)
}

// Waves returns node ids grouped by topological depth; nodes within a
// wave share no dependency path and may run concurrently.
func (g *Graph) Waves() [][]string {
	return copyWaves(g.waves)
}

// ReverseWaves groups nodes by teardown depth: wave 0 holds nodes
// nothing depends on, later waves their dependencies.
func (g *Graph) ReverseWaves() [][]string {
	return copyWaves(g.reverseWaves)
}

func copyWaves(waves [][]string) [][]string {
	out := make([][]string, len(waves))
	for i, wave := range waves {
		out[i] = append([]string(nil), wave...)
	}
	return out
}

// Depth returns the topological depth of a node.
func (g *Graph) Depth(id string) int {
	return g.depths[id]
}

// Spec returns the declared spec for id.
func (g *Graph) Spec(id string) (types.ResourceSpec, bool) {
	spec, ok := g.specs[id]
	return spec, ok
}

// Specs returns every declared spec in creation order.
func (g *Graph) Specs() []types.ResourceSpec {
	out := make([]types.ResourceSpec, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.specs[id])
	}
	return out
}

// Contains reports whether id is declared in this graph.
func (g *Graph) Contains(id string) bool {
	_, ok := g.specs[id]
	return ok
}

// Len returns the number of declared resources.
func (g *Graph) Len() int {
	return len(g.specs)
}

// Dependencies returns the direct dependencies of id, ascending.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the direct dependents of id, ascending.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// TransitiveDependents returns every node reachable from id along
// dependent edges, ascending. Used to cascade skips after a failure.
func (g *Graph) TransitiveDependents(id string) []string {
	return g.collect(id, g.dependents)
}

// TransitiveDependencies returns everything id depends on, directly or
// not, ascending.
func (g *Graph) TransitiveDependencies(id string) []string {
	return g.collect(id, g.deps)
}

func (g *Graph) collect(id string, edges map[string][]string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), edges[id]...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[next] {
			continue
		}
		seen[next] = true
		stack = append(stack, edges[next]...)
	}
	out := make([]string, 0, len(seen))
	for node := range seen {
		out = append(out, node)
	}
	sort.Strings(out)
	return out
}

func insertSorted(queue []string, id string) []string {
	i := sort.SearchStrings(queue, id)
	queue = append(queue, "")
	copy(queue[i+1:], queue[i:])
	queue[i] = id
	return queue
}
