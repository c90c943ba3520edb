package cellsheet

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/crhntr/cellsheet/expression"
)

// The persisted form is a sectioned UTF-8 text file. The dependency
// graph and cache are not stored; both rebuild lazily as cells are
// read back.

type loadError struct {
	Line  int
	Cause error
}

func (e *loadError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Cause)
}

func (e *loadError) Unwrap() error { return e.Cause }

// Open reads a workbook file from disk.
func Open(path string) (*Workbook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	wb, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wb, nil
}

var scriptHeaderPattern = regexp.MustCompile(`^\(sheet_script:(.+)\)\s+(\d+)$`)

// Read parses the sectioned workbook format. Sheet scripts are applied
// as part of loading; a script that fails to apply keeps its source
// and logs the failure instead of aborting the load.
func Read(r io.Reader) (*Workbook, error) {
	p := &fileParser{scanner: bufio.NewScanner(r)}
	p.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	type gridEntry struct {
		k    Address
		text string
	}
	type attrEntry struct {
		k   Address
		bag AttributeBag
	}
	type scriptEntry struct {
		name   string
		source string
	}

	var (
		shape       []int
		sheetNames  = map[int]string{}
		grid        []gridEntry
		attrs       []attrEntry
		scripts     []scriptEntry
		mode        expression.Mode
		modeSeen    bool
		section     string
		sectionSeen = map[string]bool{}
	)

	for p.next() {
		line := p.line
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section = strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
			if sectionSeen[section] {
				return nil, p.fail(fmt.Errorf("duplicate section [%s]", section))
			}
			sectionSeen[section] = true
			continue
		}
		switch section {
		case "shape":
			if shape != nil {
				return nil, p.fail(fmt.Errorf("extra line in [shape]"))
			}
			fields := strings.Fields(trimmed)
			if len(fields) != 3 {
				return nil, p.fail(fmt.Errorf("expected %q", "rows cols sheets"))
			}
			shape = make([]int, 3)
			for i, f := range fields {
				n, err := strconv.Atoi(f)
				if err != nil || n < 1 {
					return nil, p.fail(fmt.Errorf("shape value %q is not a positive integer", f))
				}
				shape[i] = n
			}
		case "sheet_names":
			index, rest, ok := strings.Cut(trimmed, " ")
			if !ok {
				return nil, p.fail(fmt.Errorf("expected %q", "index name"))
			}
			i, err := strconv.Atoi(index)
			if err != nil || i < 0 {
				return nil, p.fail(fmt.Errorf("sheet index %q is not a non-negative integer", index))
			}
			name := rest
			if err := ValidateSheetName(name); err != nil {
				return nil, p.fail(err)
			}
			sheetNames[i] = name
		case "grid":
			k, quoted, err := parseAddressedLine(trimmed)
			if err != nil {
				return nil, p.fail(err)
			}
			text, err := unquoteCellText(quoted)
			if err != nil {
				return nil, p.fail(err)
			}
			grid = append(grid, gridEntry{k: k, text: text})
		case "attributes":
			k, quoted, err := parseAddressedLine(trimmed)
			if err != nil {
				return nil, p.fail(err)
			}
			raw, err := unquoteCellText(quoted)
			if err != nil {
				return nil, p.fail(err)
			}
			var bag AttributeBag
			if err := json.Unmarshal([]byte(raw), &bag); err != nil {
				return nil, p.fail(fmt.Errorf("attribute record: %w", err))
			}
			attrs = append(attrs, attrEntry{k: k, bag: bag})
		case "sheet_scripts":
			parts := scriptHeaderPattern.FindStringSubmatch(trimmed)
			if parts == nil {
				return nil, p.fail(fmt.Errorf("expected a header like %s", "(sheet_script:'Name') linecount"))
			}
			ident := parts[1]
			if _, err := strconv.Atoi(ident); err == nil {
				return nil, p.fail(fmt.Errorf("numeric sheet script identifier %s is no longer supported; use the sheet name", ident))
			}
			if len(ident) < 2 || ident[0] != '\'' || ident[len(ident)-1] != '\'' {
				return nil, p.fail(fmt.Errorf("sheet script identifier %s must be a quoted sheet name", ident))
			}
			name, err := unquoteCellText(ident)
			if err != nil {
				return nil, p.fail(err)
			}
			count, err := strconv.Atoi(parts[2])
			if err != nil || count < 0 {
				return nil, p.fail(fmt.Errorf("script line count %q is not a non-negative integer", parts[2]))
			}
			var lines []string
			for i := 0; i < count; i++ {
				if !p.next() {
					return nil, p.fail(fmt.Errorf("script for sheet %q is truncated: expected %d lines", name, count))
				}
				lines = append(lines, p.line)
			}
			scripts = append(scripts, scriptEntry{name: name, source: strings.Join(lines, "\n")})
		case "parser_settings":
			key, value, ok := strings.Cut(trimmed, "=")
			if !ok {
				return nil, p.fail(fmt.Errorf("expected %q", "key = value"))
			}
			key = strings.TrimSpace(key)
			value = strings.TrimSpace(value)
			if key != "mode" {
				return nil, p.fail(fmt.Errorf("unknown parser setting %q", key))
			}
			m, err := expression.ParseMode(value)
			if err != nil {
				return nil, p.fail(err)
			}
			mode = m
			modeSeen = true
		case "":
			return nil, p.fail(fmt.Errorf("content before the first section header"))
		default:
			return nil, p.fail(fmt.Errorf("unknown section [%s]", section))
		}
	}
	if err := p.scanner.Err(); err != nil {
		return nil, err
	}
	if shape == nil {
		return nil, fmt.Errorf("missing [shape] section")
	}

	wb := New(shape[0], shape[1], shape[2])
	for i, name := range sheetNames {
		if i >= len(wb.sheets) {
			return nil, fmt.Errorf("sheet name entry %d %q is out of range", i, name)
		}
		for j, sheet := range wb.sheets {
			if j != i && sheet.Name == name {
				return nil, fmt.Errorf("sheet name %q is already in use", name)
			}
		}
		wb.sheets[i].Name = name
	}
	if modeSeen {
		wb.mode = mode
	}
	for _, e := range grid {
		if err := wb.checkAddress(e.k); err != nil {
			return nil, fmt.Errorf("grid entry %s: %w", e.k, err)
		}
		wb.sheets[e.k.Sheet].setText(cellKey{Row: e.k.Row, Col: e.k.Col}, e.text)
	}
	for _, e := range attrs {
		if err := wb.checkAddress(e.k); err != nil {
			return nil, fmt.Errorf("attribute entry %s: %w", e.k, err)
		}
		bag := e.bag
		if bag.Props == nil {
			bag.Props = make(map[string]any)
		}
		wb.sheets[e.k.Sheet].attrs[cellKey{Row: e.k.Row, Col: e.k.Col}] = &bag
	}
	for _, e := range scripts {
		sheet, ok := wb.SheetByName(e.name)
		if !ok {
			return nil, fmt.Errorf("script for unknown sheet %q", e.name)
		}
		if _, err := sheet.applyScript(e.source); err != nil {
			sheet.script = e.source
			log.Errorf("script for sheet %q failed to apply: %s", e.name, err)
		}
		sheet.draft = sheet.script
		sheet.draftDirty = false
	}
	return wb, nil
}

type fileParser struct {
	scanner *bufio.Scanner
	line    string
	lineNo  int
}

func (p *fileParser) next() bool {
	if !p.scanner.Scan() {
		return false
	}
	p.line = p.scanner.Text()
	p.lineNo++
	return true
}

func (p *fileParser) fail(err error) error {
	return &loadError{Line: p.lineNo, Cause: err}
}

func parseAddressedLine(line string) (Address, string, error) {
	fields := strings.SplitN(line, " ", 4)
	if len(fields) != 4 {
		return Address{}, "", fmt.Errorf("expected %q", "row col sheet 'text'")
	}
	row, err := strconv.Atoi(fields[0])
	if err != nil {
		return Address{}, "", fmt.Errorf("row %q is not an integer", fields[0])
	}
	col, err := strconv.Atoi(fields[1])
	if err != nil {
		return Address{}, "", fmt.Errorf("column %q is not an integer", fields[1])
	}
	sheet, err := strconv.Atoi(fields[2])
	if err != nil {
		return Address{}, "", fmt.Errorf("sheet %q is not an integer", fields[2])
	}
	return Address{Row: row, Col: col, Sheet: sheet}, strings.TrimSpace(fields[3]), nil
}

// quoteCellText wraps s in single quotes, doubling embedded quotes and
// escaping backslashes and newlines so every record stays one line.
func quoteCellText(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString("''")
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func unquoteCellText(quoted string) (string, error) {
	if len(quoted) < 2 || quoted[0] != '\'' || quoted[len(quoted)-1] != '\'' {
		return "", fmt.Errorf("text %s is not single-quoted", quoted)
	}
	body := quoted[1 : len(quoted)-1]
	var b strings.Builder
	for i := 0; i < len(body); i++ {
		switch body[i] {
		case '\'':
			if i+1 >= len(body) || body[i+1] != '\'' {
				return "", fmt.Errorf("stray quote inside %s", quoted)
			}
			b.WriteByte('\'')
			i++
		case '\\':
			if i+1 >= len(body) {
				return "", fmt.Errorf("dangling escape inside %s", quoted)
			}
			switch body[i+1] {
			case '\\':
				b.WriteByte('\\')
			case 'n':
				b.WriteByte('\n')
			default:
				return "", fmt.Errorf("unknown escape \\%c inside %s", body[i+1], quoted)
			}
			i++
		default:
			b.WriteByte(body[i])
		}
	}
	return b.String(), nil
}

// Save writes the workbook to path. Dirty drafts are not persisted;
// each one is logged so the edit is not silently lost.
func (wb *Workbook) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := wb.Write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

// Write serializes the workbook in section order: shape, sheet names,
// grid, attributes, sheet scripts, parser settings.
func (wb *Workbook) Write(w io.Writer) error {
	wb.mut.Lock()
	defer wb.mut.Unlock()

	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "[shape]\n%d %d %d\n", wb.rows, wb.cols, len(wb.sheets))

	fmt.Fprintf(bw, "\n[sheet_names]\n")
	for i, sheet := range wb.sheets {
		fmt.Fprintf(bw, "%d %s\n", i, sheet.Name)
	}

	fmt.Fprintf(bw, "\n[grid]\n")
	for _, k := range wb.cellsWithText() {
		text, _ := wb.sheets[k.Sheet].text(cellKey{Row: k.Row, Col: k.Col})
		fmt.Fprintf(bw, "%d %d %d %s\n", k.Row, k.Col, k.Sheet, quoteCellText(text))
	}

	fmt.Fprintf(bw, "\n[attributes]\n")
	for i, sheet := range wb.sheets {
		keys := make(addressSet)
		for key := range sheet.attrs {
			keys[Address{Row: key.Row, Col: key.Col, Sheet: i}] = struct{}{}
		}
		for _, k := range sortedAddresses(keys) {
			bag := sheet.attrs[cellKey{Row: k.Row, Col: k.Col}]
			if len(bag.Props) == 0 && len(bag.Warnings) == 0 {
				continue
			}
			raw, err := json.Marshal(bag)
			if err != nil {
				log.Warningf("attributes at %s on sheet %q do not serialize and were dropped: %s", k.Label(), sheet.Name, err)
				continue
			}
			fmt.Fprintf(bw, "%d %d %d %s\n", k.Row, k.Col, k.Sheet, quoteCellText(string(raw)))
		}
	}

	fmt.Fprintf(bw, "\n[sheet_scripts]\n")
	for _, sheet := range wb.sheets {
		if sheet.draftDirty {
			log.Warningf("sheet %q has unsaved script edits; saving the applied script", sheet.Name)
		}
		if sheet.script == "" {
			continue
		}
		lines := strings.Split(sheet.script, "\n")
		fmt.Fprintf(bw, "(sheet_script:%s) %d\n", quoteCellText(sheet.Name), len(lines))
		for _, line := range lines {
			fmt.Fprintf(bw, "%s\n", line)
		}
	}

	fmt.Fprintf(bw, "\n[parser_settings]\nmode = %s\n", wb.mode)
	return bw.Flush()
}
