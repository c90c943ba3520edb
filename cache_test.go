package cellsheet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhntr/cellsheet"
)

func TestSmartCache(t *testing.T) {
	t.Run("miss on absent entry", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()

		_, ok := c.Get(cellsheet.At("A1"), g)
		assert.False(t, ok)
	})
	t.Run("put then get", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()

		c.Put(cellsheet.At("A1"), cellsheet.Scalar{V: 7}, g)

		v, ok := c.Get(cellsheet.At("A1"), g)
		require.True(t, ok)
		assert.Equal(t, cellsheet.Scalar{V: 7}, v)
	})
	t.Run("put clears dirty", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()
		g.MarkDirty(cellsheet.At("A1"))

		c.Put(cellsheet.At("A1"), cellsheet.Scalar{V: 1}, g)

		assert.False(t, g.IsDirty(cellsheet.At("A1")))
	})
	t.Run("dirty entry is unusable", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()
		c.Put(cellsheet.At("A1"), cellsheet.Scalar{V: 1}, g)

		c.Invalidate(cellsheet.At("A1"), g)

		_, ok := c.Get(cellsheet.At("A1"), g)
		assert.False(t, ok)
		_, stored := c.Raw(cellsheet.At("A1"))
		assert.True(t, stored, "the stale entry stays stored")
	})
	t.Run("dirty dependency poisons the entry", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()
		require.Nil(t, g.AddEdge(cellsheet.At("A2"), cellsheet.At("A1")))
		c.Put(cellsheet.At("A1"), cellsheet.Scalar{V: 1}, g)
		c.Put(cellsheet.At("A2"), cellsheet.Scalar{V: 2}, g)

		g.MarkDirty(cellsheet.At("A1"))

		_, ok := c.Get(cellsheet.At("A2"), g)
		assert.False(t, ok)
	})
	t.Run("invalidation reaches transitive dependents", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()
		require.Nil(t, g.AddEdge(cellsheet.At("A2"), cellsheet.At("A1")))
		require.Nil(t, g.AddEdge(cellsheet.At("A3"), cellsheet.At("A2")))
		c.Put(cellsheet.At("A3"), cellsheet.Scalar{V: 3}, g)

		c.Invalidate(cellsheet.At("A1"), g)

		_, ok := c.Get(cellsheet.At("A3"), g)
		assert.False(t, ok)
	})
	t.Run("returned value is a clone", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()
		c.Put(cellsheet.At("A1"), cellsheet.Scalar{V: map[string]any{"n": int64(1)}}, g)

		v, ok := c.Get(cellsheet.At("A1"), g)
		require.True(t, ok)
		v.(cellsheet.Scalar).V.(map[string]any)["n"] = int64(99)

		again, ok := c.Get(cellsheet.At("A1"), g)
		require.True(t, ok)
		assert.EqualValues(t, int64(1), again.(cellsheet.Scalar).V.(map[string]any)["n"])
	})
	t.Run("drop removes the entry", func(t *testing.T) {
		c := cellsheet.NewSmartCache()
		g := cellsheet.NewDependencyGraph()
		c.Put(cellsheet.At("A1"), cellsheet.Scalar{V: 1}, g)

		c.Drop(cellsheet.At("A1"))

		_, ok := c.Get(cellsheet.At("A1"), g)
		assert.False(t, ok)
	})
}
