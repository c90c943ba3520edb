package expression

import (
	"fmt"
	"strconv"
	"strings"
)

// Rewriter turns bare spreadsheet references inside a code string into
// explicit accessor calls. Tokens inside string literals and comments
// are left untouched, as is attribute access like foo.A1. Labels that
// fall outside the grid bounds are treated as plain identifiers.
type Rewriter struct {
	MaxRow, MaxColumn int
}

// Rewrite scans code and replaces cell references:
//
//	A1          -> C("A1")
//	A1:B2       -> R("A1","B2")
//	"Sheet"!A1  -> Sh("Sheet").C("A1")
//	"Sheet"!x   -> Sh("Sheet").G("x")
//
// The returned string is what the evaluator compiles.
func (rw Rewriter) Rewrite(code string) (string, error) {
	var out strings.Builder
	prev := byte(0)
	i := 0
	for i < len(code) {
		c := code[i]
		switch {
		case c == '#':
			end := lineEnd(code, i)
			out.WriteString(code[i:end])
			i = end
		case c == '/' && i+1 < len(code) && code[i+1] == '/':
			end := lineEnd(code, i)
			out.WriteString(code[i:end])
			i = end
		case c == '/' && i+1 < len(code) && code[i+1] == '*':
			end := strings.Index(code[i+2:], "*/")
			if end < 0 {
				out.WriteString(code[i:])
				i = len(code)
				break
			}
			end += i + 2 + 2
			out.WriteString(code[i:end])
			i = end
		case c == '`':
			end := strings.IndexByte(code[i+1:], '`')
			if end < 0 {
				out.WriteString(code[i:])
				i = len(code)
				break
			}
			end += i + 1 + 1
			out.WriteString(code[i:end])
			prev = '`'
			i = end
		case c == '\'' || c == '"':
			lit, next := scanQuoted(code, i)
			if next < len(code) && code[next] == '!' {
				rewritten, end, err := rw.rewriteSheetRef(code, lit, next+1)
				if err != nil {
					return "", err
				}
				out.WriteString(rewritten)
				prev = ')'
				i = end
				break
			}
			out.WriteString(lit)
			prev = c
			i = next
		case isDigit(c):
			end := i + 1
			for end < len(code) && (isAlnum(code[end]) || code[end] == '.') {
				end++
			}
			out.WriteString(code[i:end])
			prev = code[end-1]
			i = end
		case isIdentStart(c):
			ident, next := scanIdent(code, i)
			if prev == '.' || !rw.isBoundedLabel(ident) || callFollows(code, next) {
				out.WriteString(ident)
				prev = ident[len(ident)-1]
				i = next
				break
			}
			if second, end, ok := rw.rangeTail(code, next); ok {
				fmt.Fprintf(&out, "R(%q,%q)", normalizeLabel(ident), normalizeLabel(second))
				prev = ')'
				i = end
				break
			}
			fmt.Fprintf(&out, "C(%q)", normalizeLabel(ident))
			prev = ')'
			i = next
		default:
			out.WriteByte(c)
			if !isSpace(c) {
				prev = c
			}
			i++
		}
	}
	return out.String(), nil
}

// rewriteSheetRef handles the tail of a `"Sheet"!target` reference.
// start indexes the first byte after the '!'.
func (rw Rewriter) rewriteSheetRef(code, quoted string, start int) (string, int, error) {
	name, err := unquote(quoted)
	if err != nil {
		return "", 0, err
	}
	if start >= len(code) || !isIdentStart(code[start]) {
		return "", 0, fmt.Errorf("sheet reference %s! is missing a cell or name target", quoted)
	}
	ident, next := scanIdent(code, start)
	if !rw.isBoundedLabel(ident) {
		return fmt.Sprintf("Sh(%q).G(%q)", name, ident), next, nil
	}
	if second, end, ok := rw.rangeTail(code, next); ok {
		return fmt.Sprintf("Sh(%q).R(%q,%q)", name, normalizeLabel(ident), normalizeLabel(second)), end, nil
	}
	return fmt.Sprintf("Sh(%q).C(%q)", name, normalizeLabel(ident)), next, nil
}

// rangeTail reports whether a `:label` tail follows at position i,
// returning the second label and the index just past it.
func (rw Rewriter) rangeTail(code string, i int) (string, int, bool) {
	j := skipSpaces(code, i)
	if j >= len(code) || code[j] != ':' {
		return "", 0, false
	}
	j = skipSpaces(code, j+1)
	if j >= len(code) || !isIdentStart(code[j]) {
		return "", 0, false
	}
	ident, next := scanIdent(code, j)
	if !rw.isBoundedLabel(ident) {
		return "", 0, false
	}
	return ident, next, true
}

func (rw Rewriter) isBoundedLabel(ident string) bool {
	if !IsLabel(ident) {
		return false
	}
	row, column, err := Coord(ident)
	if err != nil {
		return false
	}
	if rw.MaxRow > 0 && row > rw.MaxRow {
		return false
	}
	if rw.MaxColumn > 0 && column > rw.MaxColumn {
		return false
	}
	return true
}

func normalizeLabel(label string) string {
	return strings.ToUpper(label)
}

func callFollows(code string, i int) bool {
	j := skipSpaces(code, i)
	return j < len(code) && code[j] == '('
}

func scanIdent(code string, i int) (string, int) {
	end := i
	for end < len(code) && (isAlnum(code[end]) || code[end] == '_') {
		end++
	}
	return code[i:end], end
}

// scanQuoted returns the literal including its quotes and the index
// just past the closing quote. Backslash escapes are honored.
func scanQuoted(code string, i int) (string, int) {
	quote := code[i]
	j := i + 1
	for j < len(code) {
		if code[j] == '\\' && j+1 < len(code) {
			j += 2
			continue
		}
		if code[j] == quote {
			return code[i : j+1], j + 1
		}
		j++
	}
	return code[i:], len(code)
}

func unquote(quoted string) (string, error) {
	if len(quoted) < 2 {
		return "", fmt.Errorf("malformed sheet name literal %s", quoted)
	}
	body := quoted[1 : len(quoted)-1]
	if quoted[0] == '\'' {
		body = strings.ReplaceAll(body, `\'`, `'`)
		body = strings.ReplaceAll(body, `\\`, `\`)
		return body, nil
	}
	unquoted, err := strconv.Unquote(quoted)
	if err != nil {
		return "", fmt.Errorf("malformed sheet name literal %s: %w", quoted, err)
	}
	return unquoted, nil
}

func lineEnd(code string, i int) int {
	end := strings.IndexByte(code[i:], '\n')
	if end < 0 {
		return len(code)
	}
	return i + end
}

func skipSpaces(code string, i int) int {
	for i < len(code) && (code[i] == ' ' || code[i] == '\t') {
		i++
	}
	return i
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
