package cellsheet

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Value is the universe of cell results.
type Value interface{ isValue() }

type emptyValue struct{}

// Empty is the singleton value of an unset cell. It deep-clones to
// itself and is neutral in arithmetic through the accessor boundary.
var Empty Value = emptyValue{}

func (emptyValue) isValue() {}

// Scalar wraps any host value that survives a deep-clone round trip.
type Scalar struct {
	V any
}

func (Scalar) isValue() {}

// Range is a rectangular region presented as a row-major flat list
// plus its width.
type Range struct {
	Cells      []Value
	Width      int
	TopLeftRow int
	TopLeftCol int
}

func (Range) isValue() {}

func (r Range) Height() int {
	if r.Width == 0 {
		return 0
	}
	return (len(r.Cells) + r.Width - 1) / r.Width
}

// Row returns row i as unwrapped host values, deep-cloned per access.
func (r Range) Row(i int) []any {
	return rangeRow(r.Cells, r.Width, i)
}

func (r Range) Rows() [][]any {
	return rangeRows(r.Cells, r.Width, r.Height())
}

// Flatten returns the non-empty elements in row-major order.
func (r Range) Flatten() []any {
	return flatten(r.Cells)
}

// SpillOutput is a range whose producer wants to fan out over its
// neighbors.
type SpillOutput struct {
	Cells      []Value
	Width      int
	Height     int
	TopLeftRow int
	TopLeftCol int
}

func (SpillOutput) isValue() {}

func (s SpillOutput) Row(i int) []any {
	return rangeRow(s.Cells, s.Width, i)
}

func (s SpillOutput) Rows() [][]any {
	return rangeRows(s.Cells, s.Width, s.Height)
}

func (s SpillOutput) Flatten() []any {
	return flatten(s.Cells)
}

// cell returns the (dr, dc) slot of the spill, Empty when the flat
// list is short.
func (s SpillOutput) cell(dr, dc int) Value {
	i := dr*s.Width + dc
	if i < 0 || i >= len(s.Cells) {
		return Empty
	}
	return s.Cells[i]
}

// HelpText is the result of introspection via HELP.
type HelpText struct {
	Query string
	Body  string
}

func (HelpText) isValue() {}

// ErrorValue represents a computation failure. It flows through the
// grid like any other value; the kind is displayed in the cell and the
// detail in the tooltip.
type ErrorValue struct {
	Kind   string
	Detail string
}

func (ErrorValue) isValue() {}

func (e ErrorValue) Error() string {
	return e.Kind + ": " + e.Detail
}

// Opaque carries a value that failed the deep-clone probe. It is
// shared by reference; the engine records a warning wherever one is
// produced.
type Opaque struct {
	V any
}

func (Opaque) isValue() {}

// Wrap lifts a host value into the value model.
func Wrap(v any) Value {
	switch t := v.(type) {
	case nil:
		return Empty
	case Value:
		return t
	default:
		return Scalar{V: v}
	}
}

// Unwrap lowers a value to its host form for use inside expressions.
// Empty lowers to 0 so that arithmetic over unset cells stays neutral.
func Unwrap(v Value) any {
	switch t := v.(type) {
	case emptyValue:
		return 0
	case Scalar:
		return t.V
	case Opaque:
		return t.V
	default:
		return t
	}
}

// CloneValue deep-clones a value. The second return reports whether
// the clone is independent; values that fail the probe come back as
// Opaque sharing the original.
func CloneValue(v Value) (Value, bool) {
	switch t := v.(type) {
	case emptyValue:
		return Empty, true
	case Scalar:
		c, err := cloneAny(t.V)
		if err != nil {
			return Opaque{V: t.V}, false
		}
		return Scalar{V: c}, true
	case Range:
		cells, ok := cloneCells(t.Cells)
		return Range{Cells: cells, Width: t.Width, TopLeftRow: t.TopLeftRow, TopLeftCol: t.TopLeftCol}, ok
	case SpillOutput:
		cells, ok := cloneCells(t.Cells)
		return SpillOutput{Cells: cells, Width: t.Width, Height: t.Height, TopLeftRow: t.TopLeftRow, TopLeftCol: t.TopLeftCol}, ok
	case Opaque:
		return t, false
	default:
		return v, true
	}
}

func cloneCells(cells []Value) ([]Value, bool) {
	result := make([]Value, len(cells))
	ok := true
	for i, c := range cells {
		clone, copyable := CloneValue(c)
		result[i] = clone
		ok = ok && copyable
	}
	return result, ok
}

func rangeRow(cells []Value, width, i int) []any {
	row := make([]any, 0, width)
	for j := i * width; j < (i+1)*width && j < len(cells); j++ {
		clone, _ := CloneValue(cells[j])
		row = append(row, Unwrap(clone))
	}
	return row
}

func rangeRows(cells []Value, width, height int) [][]any {
	rows := make([][]any, 0, height)
	for i := 0; i < height; i++ {
		rows = append(rows, rangeRow(cells, width, i))
	}
	return rows
}

func flatten(cells []Value) []any {
	result := make([]any, 0, len(cells))
	for _, c := range cells {
		if c == Empty {
			continue
		}
		clone, _ := CloneValue(c)
		result = append(result, Unwrap(clone))
	}
	return result
}

var cborDecMode = func() cbor.DecMode {
	mode, err := cbor.DecOptions{
		IntDec:         cbor.IntDecConvertSigned,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decode mode: %s", err))
	}
	return mode
}()

// cloneAny is the canonical clone path: a round trip through the
// serialization codec. Immutable kinds pass through unchanged. Values
// the codec cannot represent are reported uncopyable.
func cloneAny(v any) (any, error) {
	switch v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v, nil
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := cborDecMode.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// copyable is the deep-clone probe used when partitioning sheet
// globals.
func copyable(v any) bool {
	_, err := cloneAny(v)
	return err == nil
}
