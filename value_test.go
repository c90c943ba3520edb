package cellsheet_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhntr/cellsheet"
)

func TestWrap(t *testing.T) {
	assert.Equal(t, cellsheet.Empty, cellsheet.Wrap(nil))
	assert.Equal(t, cellsheet.Scalar{V: 5}, cellsheet.Wrap(5))
	assert.Equal(t, cellsheet.Scalar{V: "hi"}, cellsheet.Wrap("hi"))

	r := cellsheet.Range{Cells: []cellsheet.Value{cellsheet.Empty}, Width: 1}
	assert.Equal(t, r, cellsheet.Wrap(r), "values pass through unchanged")
}

func TestUnwrap(t *testing.T) {
	assert.Equal(t, 0, cellsheet.Unwrap(cellsheet.Empty), "empty reads as zero")
	assert.Equal(t, 5, cellsheet.Unwrap(cellsheet.Scalar{V: 5}))

	ch := make(chan int)
	assert.Equal(t, ch, cellsheet.Unwrap(cellsheet.Opaque{V: ch}))
}

func TestCloneValue(t *testing.T) {
	t.Run("empty clones to itself", func(t *testing.T) {
		clone, ok := cellsheet.CloneValue(cellsheet.Empty)
		assert.True(t, ok)
		assert.Equal(t, cellsheet.Empty, clone)
	})
	t.Run("scalar clone is independent", func(t *testing.T) {
		original := cellsheet.Scalar{V: []any{1, 2, 3}}

		clone, ok := cellsheet.CloneValue(original)
		require.True(t, ok)

		cloned := clone.(cellsheet.Scalar).V.([]any)
		cloned[0] = 99
		assert.EqualValues(t, 1, original.V.([]any)[0])
	})
	t.Run("uncloneable scalar comes back opaque", func(t *testing.T) {
		ch := make(chan int)

		clone, ok := cellsheet.CloneValue(cellsheet.Scalar{V: ch})
		assert.False(t, ok)
		assert.Equal(t, cellsheet.Opaque{V: ch}, clone)
	})
	t.Run("range clones each cell", func(t *testing.T) {
		r := cellsheet.Range{
			Cells: []cellsheet.Value{cellsheet.Scalar{V: 1}, cellsheet.Empty},
			Width: 2,
		}

		clone, ok := cellsheet.CloneValue(r)
		assert.True(t, ok)
		assert.Equal(t, r, clone)
	})
}

func TestRange(t *testing.T) {
	r := cellsheet.Range{
		Cells: []cellsheet.Value{
			cellsheet.Scalar{V: 1}, cellsheet.Scalar{V: 2},
			cellsheet.Scalar{V: 3}, cellsheet.Empty,
		},
		Width: 2,
	}

	assert.Equal(t, 2, r.Height())
	assert.Equal(t, []any{1, 2}, r.Row(0))
	assert.Equal(t, []any{3, 0}, r.Row(1))
	assert.Equal(t, [][]any{{1, 2}, {3, 0}}, r.Rows())
	assert.Equal(t, []any{1, 2, 3}, r.Flatten(), "flatten skips empty cells")
}

func TestSpillOutput(t *testing.T) {
	s := cellsheet.SpillOutput{
		Cells: []cellsheet.Value{
			cellsheet.Scalar{V: "a"}, cellsheet.Scalar{V: "b"},
			cellsheet.Scalar{V: "c"}, cellsheet.Scalar{V: "d"},
		},
		Width:  2,
		Height: 2,
	}

	assert.Equal(t, []any{"a", "b"}, s.Row(0))
	assert.Equal(t, []any{"c", "d"}, s.Row(1))
	assert.Equal(t, []any{"a", "b", "c", "d"}, s.Flatten())
}

func TestDisplay(t *testing.T) {
	assert.Equal(t, "", cellsheet.Display(cellsheet.Empty))
	assert.Equal(t, "", cellsheet.Display(nil))
	assert.Equal(t, "42", cellsheet.Display(cellsheet.Scalar{V: 42}))
	assert.Equal(t, "hi", cellsheet.Display(cellsheet.Scalar{V: "hi"}))
	assert.Equal(t, "EvalError", cellsheet.Display(cellsheet.ErrorValue{Kind: "EvalError", Detail: "boom"}))
	assert.Equal(t, "help(C)", cellsheet.Display(cellsheet.HelpText{Query: "help(C)", Body: "..."}))

	spill := cellsheet.SpillOutput{
		Cells:  []cellsheet.Value{cellsheet.Empty, cellsheet.Scalar{V: 9}},
		Width:  2,
		Height: 1,
	}
	assert.Equal(t, "9", cellsheet.Display(spill), "the first non-empty cell represents a spill")
}

func TestTooltip(t *testing.T) {
	assert.Equal(t, "Empty", cellsheet.Tooltip(cellsheet.Empty))
	assert.Equal(t, "int", cellsheet.Tooltip(cellsheet.Scalar{V: 42}))
	assert.Equal(t, "boom", cellsheet.Tooltip(cellsheet.ErrorValue{Kind: "EvalError", Detail: "boom"}))
	assert.Equal(t, "2x3 range", cellsheet.Tooltip(cellsheet.Range{
		Cells: make([]cellsheet.Value, 6), Width: 3,
	}))
}
