package expression

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var labelPattern = regexp.MustCompile(`^(?P<column>[A-Za-z]+)(?P<row>[0-9]+)$`)

// Label formats a 1-based (row, column) pair as a spreadsheet label
// such as "A1" or "AA27". Columns use bijective base-26 notation.
func Label(row, column int) string {
	return ColumnLabel(column) + strconv.Itoa(row)
}

// Coord parses a spreadsheet label back into its 1-based (row, column)
// pair. Letters are case-insensitive.
func Coord(label string) (int, int, error) {
	label = strings.TrimPrefix(label, "cell-")
	parts := labelPattern.FindStringSubmatch(label)
	if parts == nil {
		return 0, 0, fmt.Errorf("malformed cell label %q: expected something like A4", label)
	}
	columnName := strings.ToUpper(parts[labelPattern.SubexpIndex("column")])
	row, err := strconv.Atoi(parts[labelPattern.SubexpIndex("row")])
	if err != nil {
		return 0, 0, fmt.Errorf("failed to parse row number in %q: %w", label, err)
	}
	if row < 1 {
		return 0, 0, fmt.Errorf("row number in %q must be at least 1", label)
	}
	return row, columnNumber(columnName), nil
}

// IsLabel reports whether in has the shape of a cell label.
func IsLabel(in string) bool {
	return labelPattern.MatchString(in)
}

func columnNumber(label string) int {
	result := 0
	for _, char := range label {
		result = result*26 + int(char) - 64
	}
	return result
}

// ColumnLabel formats a 1-based column number in bijective base-26.
func ColumnLabel(n int) string {
	result := ""
	for n > 0 {
		n--
		result = fmt.Sprintf("%c", n%26+65) + result
		n /= 26
	}
	return result
}
