package cellsheet

import "slices"

type addressSet map[Address]struct{}

// DependencyGraph tracks which cells read which other cells. Forward
// edges run from a dependent to its dependencies; reverse edges are
// the mirror image. The dirty set marks cells whose cached value is
// stale.
//
// Invariants kept by every public mutation:
//   - a in forward[b] iff b in reverse[a]
//   - empty edge sets are removed from the maps
//   - no forward path leads from a cell back to itself
type DependencyGraph struct {
	forward map[Address]addressSet
	reverse map[Address]addressSet
	dirty   addressSet
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		forward: make(map[Address]addressSet),
		reverse: make(map[Address]addressSet),
		dirty:   make(addressSet),
	}
}

// AddEdge records that dependent reads dependency. When the insertion
// would close a cycle the edge is rolled back and the discovered path
// is returned; both maps are left exactly as they were.
func (g *DependencyGraph) AddEdge(dependent, dependency Address) *CircularRefError {
	if _, ok := g.forward[dependent][dependency]; ok {
		return nil
	}
	insert(g.forward, dependent, dependency)
	insert(g.reverse, dependency, dependent)
	if path := g.findPath(dependency, dependent); path != nil {
		remove(g.forward, dependent, dependency)
		remove(g.reverse, dependency, dependent)
		return &CircularRefError{Path: append([]Address{dependent}, path...)}
	}
	log.Debugf("dep edge %s -> %s", dependent.Label(), dependency.Label())
	return nil
}

// RemoveCell drops the forward edges originating at k. Reverse edges
// are preserved unless dropReverse is set, so downstream invalidation
// still reaches dependents of a rewritten cell.
func (g *DependencyGraph) RemoveCell(k Address, dropReverse bool) {
	for dependency := range g.forward[k] {
		remove(g.reverse, dependency, k)
	}
	delete(g.forward, k)
	if dropReverse {
		for dependent := range g.reverse[k] {
			remove(g.forward, dependent, k)
		}
		delete(g.reverse, k)
	}
}

// MarkDirty marks k and everything that transitively depends on it.
func (g *DependencyGraph) MarkDirty(k Address) {
	stack := []Address{k}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := g.dirty[next]; done {
			continue
		}
		g.dirty[next] = struct{}{}
		for dependent := range g.reverse[next] {
			stack = append(stack, dependent)
		}
	}
}

func (g *DependencyGraph) ClearDirty(k Address) {
	delete(g.dirty, k)
}

func (g *DependencyGraph) IsDirty(k Address) bool {
	_, ok := g.dirty[k]
	return ok
}

func (g *DependencyGraph) AllDirty() []Address {
	return sortedAddresses(g.dirty)
}

// TransitiveDeps returns the closure of k over forward edges.
func (g *DependencyGraph) TransitiveDeps(k Address) []Address {
	seen := make(addressSet)
	stack := make([]Address, 0, len(g.forward[k]))
	for dep := range g.forward[k] {
		stack = append(stack, dep)
	}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[next]; done {
			continue
		}
		seen[next] = struct{}{}
		for dep := range g.forward[next] {
			stack = append(stack, dep)
		}
	}
	return sortedAddresses(seen)
}

// Dependencies returns the direct forward edge set of k.
func (g *DependencyGraph) Dependencies(k Address) []Address {
	return sortedAddresses(g.forward[k])
}

// Dependents returns the direct reverse edge set of k.
func (g *DependencyGraph) Dependents(k Address) []Address {
	return sortedAddresses(g.reverse[k])
}

// findPath runs a depth-first search over forward edges from start,
// returning the path start..target when target is reachable.
func (g *DependencyGraph) findPath(start, target Address) []Address {
	type frame struct {
		at   Address
		path []Address
	}
	visited := make(addressSet)
	stack := []frame{{at: start, path: []Address{start}}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.at == target {
			return f.path
		}
		if _, done := visited[f.at]; done {
			continue
		}
		visited[f.at] = struct{}{}
		for next := range g.forward[f.at] {
			stack = append(stack, frame{at: next, path: append(slices.Clone(f.path), next)})
		}
	}
	return nil
}

func insert(edges map[Address]addressSet, from, to Address) {
	set, ok := edges[from]
	if !ok {
		set = make(addressSet)
		edges[from] = set
	}
	set[to] = struct{}{}
}

func remove(edges map[Address]addressSet, from, to Address) {
	set, ok := edges[from]
	if !ok {
		return
	}
	delete(set, to)
	if len(set) == 0 {
		delete(edges, from)
	}
}

func sortedAddresses(set addressSet) []Address {
	result := make([]Address, 0, len(set))
	for a := range set {
		result = append(result, a)
	}
	slices.SortFunc(result, compareAddresses)
	return result
}

func compareAddresses(a, b Address) int {
	if a.Sheet != b.Sheet {
		return a.Sheet - b.Sheet
	}
	if a.Row != b.Row {
		return a.Row - b.Row
	}
	return a.Col - b.Col
}
