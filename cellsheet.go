package cellsheet

import (
	"context"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/crhntr/cellsheet/expression"
)

var log = commonlog.GetLogger("cellsheet")

// Workbook is the top-level handle: the raw text store, per-sheet
// script environments, the dependency graph, and the value cache. One
// evaluator is active at a time; the mutex covers each high-level
// operation.
type Workbook struct {
	mut sync.Mutex

	rows, cols int
	sheets     []*Sheet
	mode       expression.Mode

	graph  *DependencyGraph
	cache  *SmartCache
	spills map[Address]Address

	tracker  []Address
	safeMode bool
}

// New creates an in-memory workbook with the given grid shape. Sheets
// are named Sheet1, Sheet2, and so on.
func New(rows, cols, sheetCount int) *Workbook {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	if sheetCount < 1 {
		sheetCount = 1
	}
	wb := &Workbook{
		rows:   rows,
		cols:   cols,
		graph:  NewDependencyGraph(),
		cache:  NewSmartCache(),
		spills: make(map[Address]Address),
	}
	for i := 0; i < sheetCount; i++ {
		wb.sheets = append(wb.sheets, newSheet(fmt.Sprintf("Sheet%d", i+1), i))
	}
	return wb
}

// Shape returns (rows, cols, sheets).
func (wb *Workbook) Shape() (int, int, int) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	return wb.rows, wb.cols, len(wb.sheets)
}

func (wb *Workbook) Mode() expression.Mode {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	return wb.mode
}

// SetMode switches the expression mode. Every cell with text becomes
// dirty since its classification may have changed.
func (wb *Workbook) SetMode(mode expression.Mode) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if wb.mode == mode {
		return
	}
	wb.mode = mode
	wb.markAllDirty()
}

// SetSafeMode toggles safe-mode reads: evaluation is suppressed and
// Value returns the raw cell text.
func (wb *Workbook) SetSafeMode(on bool) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	wb.safeMode = on
}

func (wb *Workbook) SafeMode() bool {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	return wb.safeMode
}

// Sheet returns the sheet at index i.
func (wb *Workbook) Sheet(i int) (*Sheet, error) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if i < 0 || i >= len(wb.sheets) {
		return nil, fmt.Errorf("sheet index %d out of range", i)
	}
	return wb.sheets[i], nil
}

// SheetByName resolves a sheet by its unique name.
func (wb *Workbook) SheetByName(name string) (*Sheet, bool) {
	for _, sheet := range wb.sheets {
		if sheet.Name == name {
			return sheet, true
		}
	}
	return nil, false
}

// RenameSheet validates and applies a new sheet name.
func (wb *Workbook) RenameSheet(i int, name string) error {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if i < 0 || i >= len(wb.sheets) {
		return fmt.Errorf("sheet index %d out of range", i)
	}
	if err := ValidateSheetName(name); err != nil {
		return err
	}
	for j, sheet := range wb.sheets {
		if j != i && sheet.Name == name {
			return fmt.Errorf("sheet name %q is already in use", name)
		}
	}
	wb.sheets[i].Name = name
	return nil
}

// Text returns the raw text at k, empty string for unset cells.
func (wb *Workbook) Text(k Address) string {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if err := wb.checkAddress(k); err != nil {
		return ""
	}
	text, _ := wb.sheets[k.Sheet].text(cellKey{Row: k.Row, Col: k.Col})
	return text
}

// SetText writes raw text at k. The cell's forward edges are dropped,
// reverse edges kept, and k plus its transitive dependents are marked
// dirty before the store is updated. Writing the text a cell already
// holds is a no-op. Empty text unsets the cell.
func (wb *Workbook) SetText(k Address, text string) error {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if err := wb.checkAddress(k); err != nil {
		return err
	}
	sheet := wb.sheets[k.Sheet]
	key := cellKey{Row: k.Row, Col: k.Col}
	old, _ := sheet.text(key)
	if old == text {
		return nil
	}
	if producer, spilled := wb.spills[k]; spilled {
		delete(wb.spills, k)
		wb.cache.Invalidate(producer, wb.graph)
	}
	wb.graph.RemoveCell(k, false)
	wb.cache.Invalidate(k, wb.graph)
	sheet.setText(key, text)
	sheet.clearWarnings(key)
	log.Debugf("set %s to %q", k.Label(), text)
	return nil
}

// Value evaluates the cell at k on demand. In safe mode the raw text
// is returned without evaluation.
func (wb *Workbook) Value(ctx context.Context, k Address) Value {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if err := wb.checkAddress(k); err != nil {
		return errValueFrom(err)
	}
	if wb.safeMode {
		text, ok := wb.sheets[k.Sheet].text(cellKey{Row: k.Row, Col: k.Col})
		if !ok {
			return Empty
		}
		return Scalar{V: text}
	}
	return wb.eval(ctx, k)
}

// ApplyScript runs the sheet's init script and, on success, rebuilds
// its globals and invalidates every cell on the sheet.
func (wb *Workbook) ApplyScript(sheetIndex int, source string) ([]string, error) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if sheetIndex < 0 || sheetIndex >= len(wb.sheets) {
		return nil, fmt.Errorf("sheet index %d out of range", sheetIndex)
	}
	sheet := wb.sheets[sheetIndex]
	warnings, err := sheet.applyScript(source)
	if err != nil {
		return nil, err
	}
	sheet.draft = source
	sheet.draftDirty = false
	for key := range sheet.texts {
		wb.cache.Invalidate(Address{Row: key.Row, Col: key.Col, Sheet: sheetIndex}, wb.graph)
	}
	return warnings, nil
}

// Script returns the applied script source for a sheet.
func (wb *Workbook) Script(sheetIndex int) string {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if sheetIndex < 0 || sheetIndex >= len(wb.sheets) {
		return ""
	}
	return wb.sheets[sheetIndex].Script()
}

// Draft returns the unsaved script buffer for a sheet.
func (wb *Workbook) Draft(sheetIndex int) string {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if sheetIndex < 0 || sheetIndex >= len(wb.sheets) {
		return ""
	}
	return wb.sheets[sheetIndex].Draft()
}

// SetDraft stores unsaved edits to a sheet's script source.
func (wb *Workbook) SetDraft(sheetIndex int, source string) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if sheetIndex < 0 || sheetIndex >= len(wb.sheets) {
		return
	}
	wb.sheets[sheetIndex].SetDraft(source)
}

// DirtyDrafts names the sheets whose draft buffer differs from the
// applied script.
func (wb *Workbook) DirtyDrafts() []string {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	var names []string
	for _, sheet := range wb.sheets {
		if sheet.draftDirty {
			names = append(names, sheet.Name)
		}
	}
	return names
}

// RecalcAll marks every cell with text dirty and evaluates each one in
// address order. It returns the number of cells evaluated. No
// topological order is promised.
func (wb *Workbook) RecalcAll(ctx context.Context) int {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	wb.markAllDirty()
	count := 0
	for _, k := range wb.cellsWithText() {
		wb.eval(ctx, k)
		count++
	}
	return count
}

// DirtyCells enumerates the addresses currently marked dirty.
func (wb *Workbook) DirtyCells() []Address {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	return wb.graph.AllDirty()
}

// CellMeta returns a cell's raw text and attribute bag without
// forcing evaluation.
func (wb *Workbook) CellMeta(k Address) CellMeta {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if err := wb.checkAddress(k); err != nil {
		return CellMeta{}
	}
	scope := evalScope{wb: wb, cell: k, sheet: wb.sheets[k.Sheet]}
	return scope.cellMeta()
}

// Warnings returns the warnings recorded on a cell during its last
// evaluation or script apply.
func (wb *Workbook) Warnings(k Address) []string {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if err := wb.checkAddress(k); err != nil {
		return nil
	}
	bag, ok := wb.sheets[k.Sheet].attrs[cellKey{Row: k.Row, Col: k.Col}]
	if !ok {
		return nil
	}
	return append([]string(nil), bag.Warnings...)
}

// SetAttribute stores a display property on a cell. Attribute writes
// do not invalidate dependents.
func (wb *Workbook) SetAttribute(k Address, name string, value any) error {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	if err := wb.checkAddress(k); err != nil {
		return err
	}
	wb.sheets[k.Sheet].bag(cellKey{Row: k.Row, Col: k.Col}).Props[name] = value
	return nil
}

// Dependencies exposes the forward edge set of k, mostly for tests
// and debugging surfaces.
func (wb *Workbook) Dependencies(k Address) []Address {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	return wb.graph.Dependencies(k)
}

func (wb *Workbook) markAllDirty() {
	for _, k := range wb.cellsWithText() {
		wb.graph.MarkDirty(k)
	}
}

func (wb *Workbook) cellsWithText() []Address {
	set := make(addressSet)
	for i, sheet := range wb.sheets {
		for key := range sheet.texts {
			set[Address{Row: key.Row, Col: key.Col, Sheet: i}] = struct{}{}
		}
	}
	return sortedAddresses(set)
}

func (wb *Workbook) checkShape(row, col int) error {
	if row < 1 || row > wb.rows {
		return fmt.Errorf("row %d out of range of the workbook", row)
	}
	if col < 1 || col > wb.cols {
		return fmt.Errorf("column %d out of range of the workbook", col)
	}
	return nil
}

func (wb *Workbook) checkAddress(k Address) error {
	if k.Sheet < 0 || k.Sheet >= len(wb.sheets) {
		return fmt.Errorf("sheet index %d out of range", k.Sheet)
	}
	return wb.checkShape(k.Row, k.Col)
}

// At builds an address on sheet 0 from a label, panicking on bad
// input. It keeps call sites in tests readable.
func At(label string) Address {
	row, col, err := Coord(label)
	if err != nil {
		panic(err)
	}
	return Address{Row: row, Col: col}
}
