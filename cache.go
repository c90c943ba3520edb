package cellsheet

// SmartCache stores computed cell values. Validity is gated entirely
// by the dependency graph's dirty set: an entry is usable only when
// its cell and every transitive forward dependency are clean. Stale
// entries are kept around for debugging rather than removed.
type SmartCache struct {
	entries map[Address]Value
}

func NewSmartCache() *SmartCache {
	return &SmartCache{entries: make(map[Address]Value)}
}

// Get returns a deep clone of the cached value for k, or false when
// there is no usable entry. The clone keeps later mutations of the
// returned value from corrupting the cache; values that cannot be
// cloned come back shared as Opaque.
func (c *SmartCache) Get(k Address, graph *DependencyGraph) (Value, bool) {
	v, ok := c.entries[k]
	if !ok {
		return nil, false
	}
	if !c.usable(k, graph, make(addressSet)) {
		log.Debugf("cache stale for %s", k.Label())
		return nil, false
	}
	clone, _ := CloneValue(v)
	return clone, true
}

// Put stores v for k and clears k from the dirty set.
func (c *SmartCache) Put(k Address, v Value, graph *DependencyGraph) {
	c.entries[k] = v
	graph.ClearDirty(k)
}

// Invalidate marks k and its transitive dependents dirty. The stored
// value stays put; validity is gated solely by dirty.
func (c *SmartCache) Invalidate(k Address, graph *DependencyGraph) {
	graph.MarkDirty(k)
}

// Drop removes the stored entry for k outright.
func (c *SmartCache) Drop(k Address) {
	delete(c.entries, k)
}

// Clear removes every entry.
func (c *SmartCache) Clear() {
	c.entries = make(map[Address]Value)
}

// Raw returns the stored entry without a validity check or clone.
func (c *SmartCache) Raw(k Address) (Value, bool) {
	v, ok := c.entries[k]
	return v, ok
}

func (c *SmartCache) usable(k Address, graph *DependencyGraph, visiting addressSet) bool {
	if graph.IsDirty(k) {
		return false
	}
	if _, ok := visiting[k]; ok {
		return true
	}
	visiting[k] = struct{}{}
	for _, dep := range graph.Dependencies(k) {
		if !c.usable(dep, graph, visiting) {
			return false
		}
	}
	return true
}
