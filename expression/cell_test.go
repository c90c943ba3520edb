package expression_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crhntr/cellsheet/expression"
)

func TestLabel(t *testing.T) {
	for _, tt := range []struct {
		row, column int
		label       string
	}{
		{1, 1, "A1"},
		{1, 2, "B1"},
		{4, 1, "A4"},
		{27, 26, "Z27"},
		{1, 27, "AA1"},
		{10, 52, "AZ10"},
		{10, 53, "BA10"},
		{99, 702, "ZZ99"},
		{99, 703, "AAA99"},
	} {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.label, expression.Label(tt.row, tt.column))

			row, column, err := expression.Coord(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.row, row)
			assert.Equal(t, tt.column, column)
		})
	}
}

func TestCoord(t *testing.T) {
	t.Run("lowercase", func(t *testing.T) {
		row, column, err := expression.Coord("aa27")
		require.NoError(t, err)
		assert.Equal(t, 27, row)
		assert.Equal(t, 27, column)
	})
	t.Run("id prefix", func(t *testing.T) {
		row, column, err := expression.Coord("cell-B3")
		require.NoError(t, err)
		assert.Equal(t, 3, row)
		assert.Equal(t, 2, column)
	})
	t.Run("malformed", func(t *testing.T) {
		for _, label := range []string{"", "A", "1", "1A", "A1B", "A-1", "peach"} {
			_, _, err := expression.Coord(label)
			assert.Error(t, err, label)
		}
	})
	t.Run("row zero", func(t *testing.T) {
		_, _, err := expression.Coord("A0")
		assert.Error(t, err)
	})
}

func TestIsLabel(t *testing.T) {
	assert.True(t, expression.IsLabel("A1"))
	assert.True(t, expression.IsLabel("zz100"))
	assert.False(t, expression.IsLabel("A1B"))
	assert.False(t, expression.IsLabel("total"))
	assert.False(t, expression.IsLabel(""))
}
