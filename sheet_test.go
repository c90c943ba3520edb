package cellsheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSheetName(t *testing.T) {
	assert.NoError(t, ValidateSheetName("Sheet1"))
	assert.NoError(t, ValidateSheetName("My Totals"))
	assert.Error(t, ValidateSheetName(""))
	assert.Error(t, ValidateSheetName(" padded"))
	assert.Error(t, ValidateSheetName("padded "))
	assert.Error(t, ValidateSheetName("line\nbreak"))
}

func TestSheet_applyScript(t *testing.T) {
	t.Run("bindings accumulate", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)

		warnings, err := sheet.applyScript("x = 2\ny = x * 3")
		require.NoError(t, err)
		assert.Empty(t, warnings)

		v, ok := sheet.global("y")
		require.True(t, ok)
		assert.EqualValues(t, 6, v)
	})
	t.Run("comments and blank lines", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)

		_, err := sheet.applyScript("# rates\n\nrate = 0.2")
		require.NoError(t, err)

		v, ok := sheet.global("rate")
		require.True(t, ok)
		assert.Equal(t, 0.2, v)
	})
	t.Run("malformed line", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)

		_, err := sheet.applyScript("x = 1\nnot a binding")
		require.Error(t, err)
		assert.ErrorContains(t, err, "line 2")
	})
	t.Run("failure keeps previous globals", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)
		_, err := sheet.applyScript("x = 1")
		require.NoError(t, err)

		_, err = sheet.applyScript("x = undefinedName + )")
		require.Error(t, err)

		v, ok := sheet.global("x")
		require.True(t, ok)
		assert.EqualValues(t, 1, v)
	})
	t.Run("duplicate binding warns", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)

		warnings, err := sheet.applyScript("x = 1\nx = 2")
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "bound more than once")

		v, _ := sheet.global("x")
		assert.EqualValues(t, 2, v)
	})
	t.Run("label shaped name warns", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)

		warnings, err := sheet.applyScript("A1 = 10")
		require.NoError(t, err)
		require.Len(t, warnings, 1)
		assert.Contains(t, warnings[0], "shadows a cell label")
	})
	t.Run("copyable global resolves to a clone", func(t *testing.T) {
		sheet := newSheet("Sheet1", 0)
		_, err := sheet.applyScript("L = [3, 1, 2]")
		require.NoError(t, err)

		v, ok := sheet.global("L")
		require.True(t, ok)
		list := v.([]any)
		list[0] = int64(99)

		again, _ := sheet.global("L")
		assert.EqualValues(t, 3, again.([]any)[0])
	})
}

func TestSheet_drafts(t *testing.T) {
	sheet := newSheet("Sheet1", 0)
	_, err := sheet.applyScript("x = 1")
	require.NoError(t, err)

	sheet.SetDraft("x = 1")
	assert.False(t, sheet.draftDirty)

	sheet.SetDraft("x = 2")
	assert.True(t, sheet.draftDirty)
	assert.Equal(t, "x = 2", sheet.Draft())
	assert.Equal(t, "x = 1", sheet.Script())
}
