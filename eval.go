package cellsheet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/crhntr/cellsheet/expression"
)

// eval computes the value at k, consulting the cache first. Callers
// hold the workbook mutex. Nested accessor calls re-enter eval through
// evalScope.resolve, pushing tracker frames as they go.
func (wb *Workbook) eval(ctx context.Context, k Address) Value {
	if v, ok := wb.cache.Get(k, wb.graph); ok {
		log.Debugf("cache hit for %s", k.Label())
		return v
	}
	sheet := wb.sheets[k.Sheet]
	key := cellKey{Row: k.Row, Col: k.Col}
	text, ok := sheet.text(key)
	if !ok || text == "" {
		wb.cache.Put(k, Empty, wb.graph)
		return Empty
	}
	sheet.clearWarnings(key)

	var code string
	if _, spillSlot := wb.spills[k]; spillSlot {
		// Synthetic spill slots are code in every expression mode.
		code = text
	} else {
		classified := wb.mode.Classify(text)
		if !classified.IsCode {
			v := Wrap(classified.Literal)
			if v == Empty {
				sheet.warn(key, "non-empty cell text produced an empty value")
			}
			wb.graph.RemoveCell(k, false)
			wb.cache.Put(k, v, wb.graph)
			clone, _ := CloneValue(v)
			return clone
		}
		code = classified.Code
	}

	rewriter := expression.Rewriter{MaxRow: wb.rows, MaxColumn: wb.cols}
	rewritten, err := rewriter.Rewrite(code)
	if err != nil {
		v := errValue(KindRefSyntax, "%s", err)
		wb.graph.RemoveCell(k, false)
		wb.cache.Put(k, v, wb.graph)
		return v
	}

	for _, active := range wb.tracker {
		if active == k {
			return errValue(KindCircularRef, "cell %s is already being evaluated", k.Label())
		}
	}
	wb.tracker = append(wb.tracker, k)
	defer func() {
		wb.tracker = wb.tracker[:len(wb.tracker)-1]
	}()

	// Forward edges are re-learned during execution; reverse edges
	// stay so dependents of k keep their upstream set.
	wb.graph.RemoveCell(k, false)

	scope := &evalScope{wb: wb, ctx: ctx, cell: k, sheet: sheet}
	env := sheet.clonedGlobals()
	scope.bind(env)

	var result any
	program, err := expr.Compile(rewritten, expr.Env(env), expr.AllowUndefinedVariables(), expr.Optimize(false))
	if err == nil {
		result, err = runProgram(program, env)
	}

	var v Value
	switch {
	case scope.failure != nil && isCancellation(scope.failure):
		wb.cache.Drop(k)
		wb.graph.MarkDirty(k)
		return errValue(KindCancelled, "evaluation of %s was interrupted", k.Label())
	case scope.failure != nil:
		v = errValueFrom(scope.failure)
	case err != nil:
		v = errValue(KindEval, "%s", err)
	default:
		v = Wrap(result)
	}

	if spill, ok := v.(SpillOutput); ok {
		v = wb.applySpill(k, spill)
	}

	wb.cache.Put(k, v, wb.graph)
	clone, copyableResult := CloneValue(v)
	if !copyableResult {
		sheet.warn(key, "value cannot be deep-cloned; the cache shares it by reference")
	}
	return clone
}

func runProgram(program *vm.Program, env map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	return expr.Run(program, env)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// evalScope is the tracker frame for one cell evaluation. The accessor
// closures bound into the expression environment capture it, so every
// reference made by the cell's code is observed here.
type evalScope struct {
	wb    *Workbook
	ctx   context.Context
	cell  Address
	sheet *Sheet

	failure error
}

func (s *evalScope) bind(env map[string]any) {
	env["C"] = s.cellRef
	env["cell_single_ref"] = s.cellRef
	env["R"] = s.rangeRef
	env["cell_range_ref"] = s.rangeRef
	env["G"] = s.globalRef
	env["global_var"] = s.globalRef
	env["Sh"] = s.sheetRef
	env["sheet_ref"] = s.sheetRef
	env["CR"] = s.dynamicRef
	env["cell_ref"] = s.dynamicRef
	env["CM"] = s.cellMeta
	env["cell_meta"] = s.cellMeta
	env["HELP"] = helpFor
	env["OFFSET"] = s.offset
	env["Range"] = newRange
	env["SpillOutput"] = newSpillOutput
	env["Empty"] = Empty
}

// fail aborts the current execution. The panic unwinds through the
// expression VM; eval inspects failure afterwards to pick the error
// kind.
func (s *evalScope) fail(err error) {
	s.failure = err
	panic(err)
}

func (s *evalScope) checkInterrupt() {
	if s.ctx == nil {
		return
	}
	if err := s.ctx.Err(); err != nil {
		s.fail(err)
	}
}

// resolve evaluates target on behalf of the current cell: it records
// the dependency edge, recurses into eval, and hands back an
// independent clone.
func (s *evalScope) resolve(target Address) Value {
	s.checkInterrupt()
	if cycleErr := s.wb.graph.AddEdge(s.cell, target); cycleErr != nil {
		s.fail(cycleErr)
	}
	v := s.wb.eval(s.ctx, target)
	clone, _ := CloneValue(v)
	return clone
}

func (s *evalScope) coord(label string) (int, int) {
	row, col, err := Coord(label)
	if err != nil {
		s.fail(err)
	}
	if err := s.wb.checkShape(row, col); err != nil {
		s.fail(&RefSyntaxError{Label: label, Cause: err})
	}
	return row, col
}

func (s *evalScope) cellRef(label string) any {
	return s.cellOnSheet(s.cell.Sheet, label)
}

func (s *evalScope) cellOnSheet(sheetIndex int, label string) any {
	r, c := s.coord(label)
	return Unwrap(s.resolve(Address{Row: r, Col: c, Sheet: sheetIndex}))
}

func (s *evalScope) rangeRef(first, second string) any {
	return s.rangeOnSheet(s.cell.Sheet, first, second)
}

func (s *evalScope) rangeOnSheet(sheetIndex int, first, second string) any {
	row1, col1 := s.coord(first)
	row2, col2 := s.coord(second)
	if row2 < row1 {
		row1, row2 = row2, row1
	}
	if col2 < col1 {
		col1, col2 = col2, col1
	}
	width := col2 - col1 + 1
	cells := make([]Value, 0, width*(row2-row1+1))
	for r := row1; r <= row2; r++ {
		for c := col1; c <= col2; c++ {
			cells = append(cells, s.resolve(Address{Row: r, Col: c, Sheet: sheetIndex}))
		}
	}
	return Range{Cells: cells, Width: width, TopLeftRow: row1, TopLeftCol: col1}
}

func (s *evalScope) globalRef(name string) any {
	v, ok := s.sheet.global(name)
	if !ok {
		return nil
	}
	return v
}

// SheetRef gives cell code access to another sheet. Globals on the
// other sheet are reachable only through G, never as bare names.
type SheetRef struct {
	scope *evalScope
	sheet *Sheet
}

func (ref SheetRef) C(label string) any {
	return ref.scope.cellOnSheet(ref.sheet.index, label)
}

func (ref SheetRef) R(first, second string) any {
	return ref.scope.rangeOnSheet(ref.sheet.index, first, second)
}

func (ref SheetRef) G(name string) any {
	v, _ := ref.sheet.global(name)
	return v
}

func (s *evalScope) sheetRef(name string) SheetRef {
	sheet, ok := s.wb.SheetByName(name)
	if !ok {
		s.fail(fmt.Errorf("unknown sheet %q", name))
	}
	return SheetRef{scope: s, sheet: sheet}
}

// dynamicRef is the CR accessor: a runtime-parsed reference for
// dynamically built strings.
func (s *evalScope) dynamicRef(v any) any {
	switch ref := v.(type) {
	case string:
		if first, second, isRange := strings.Cut(ref, ":"); isRange {
			return s.rangeRef(strings.TrimSpace(first), strings.TrimSpace(second))
		}
		return s.cellRef(strings.TrimSpace(ref))
	default:
		return v
	}
}

// CellMeta exposes a cell's raw text and attribute bag without forcing
// evaluation.
type CellMeta struct {
	Code       string
	Attributes map[string]any
	Warnings   []string
}

func (s *evalScope) cellMeta(refs ...string) CellMeta {
	target := s.cell
	if len(refs) > 0 {
		r, c := s.coord(refs[0])
		target = Address{Row: r, Col: c, Sheet: s.cell.Sheet}
	}
	sheet := s.wb.sheets[target.Sheet]
	key := cellKey{Row: target.Row, Col: target.Col}
	text, _ := sheet.text(key)
	meta := CellMeta{Code: text, Attributes: map[string]any{}}
	if bag, ok := sheet.attrs[key]; ok {
		for name, v := range bag.Props {
			if clone, err := cloneAny(v); err == nil {
				meta.Attributes[name] = clone
				continue
			}
			meta.Attributes[name] = v
		}
		meta.Warnings = append(meta.Warnings, bag.Warnings...)
	}
	return meta
}

func newRange(cells []any, width int) Range {
	wrapped := make([]Value, 0, len(cells))
	for _, c := range cells {
		wrapped = append(wrapped, Wrap(c))
	}
	return Range{Cells: wrapped, Width: width}
}

func newSpillOutput(cells []any, width, height int) SpillOutput {
	wrapped := make([]Value, 0, len(cells))
	for _, c := range cells {
		wrapped = append(wrapped, Wrap(c))
	}
	return SpillOutput{Cells: wrapped, Width: width, Height: height}
}

var helpTopics = map[string]string{
	"C":           `C("A1") reads one cell on the current sheet.`,
	"R":           `R("A1","B2") reads a rectangular range on the current sheet.`,
	"Sh":          `Sh("Name") selects another sheet; chain .C, .R, or .G.`,
	"CR":          `CR(x) parses x at runtime as a cell or range reference.`,
	"G":           `G("name") reads a global bound by the sheet script.`,
	"CM":          `CM() exposes the current cell's raw text and attributes; CM("A1") another cell's.`,
	"OFFSET":      `OFFSET(dr,dc) reads one slot of the spill covering this cell.`,
	"Range":       `Range(cells, width) builds a rectangular value.`,
	"SpillOutput": `SpillOutput(cells, width, height) builds a value that fans out over neighbor cells.`,
}

func helpFor(args ...any) HelpText {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	query := fmt.Sprintf("help(%s)", strings.Join(parts, ", "))
	if len(args) == 0 {
		topics := make([]string, 0, len(helpTopics))
		for name := range helpTopics {
			topics = append(topics, name)
		}
		return HelpText{Query: query, Body: "Known topics: " + strings.Join(sortedStrings(topics), ", ")}
	}
	if name, ok := args[0].(string); ok {
		if body, known := helpTopics[name]; known {
			return HelpText{Query: query, Body: body}
		}
	}
	return HelpText{Query: query, Body: fmt.Sprintf("no help recorded for %v", args[0])}
}

func sortedStrings(in []string) []string {
	slices.Sort(in)
	return in
}
