package cellsheet

import (
	"fmt"

	"github.com/crhntr/cellsheet/expression"
)

// Address identifies one cell in a workbook. Row and Col are 1-based;
// Sheet is the index of the owning sheet.
type Address struct {
	Row, Col, Sheet int
}

func (a Address) Label() string {
	return expression.Label(a.Row, a.Col)
}

func (a Address) String() string {
	return fmt.Sprintf("sheet %d %s", a.Sheet, a.Label())
}

// Label formats a 1-based (row, col) pair as a spreadsheet label.
func Label(row, col int) string {
	return expression.Label(row, col)
}

// Coord parses a label like "AA27" into its 1-based (row, col) pair.
// Malformed input yields an error with the RefSyntaxError kind.
func Coord(label string) (int, int, error) {
	row, col, err := expression.Coord(label)
	if err != nil {
		return 0, 0, &RefSyntaxError{Label: label, Cause: err}
	}
	return row, col, nil
}
