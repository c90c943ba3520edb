package cellsheet

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"

	"github.com/crhntr/cellsheet/expression"
)

//go:embed index.html.template
var indexHTMLTemplate string

// Templates parses the embedded page templates.
func Templates() *template.Template {
	return template.Must(template.New("index.html.template").Parse(indexHTMLTemplate))
}

// Server exposes a workbook over HTTP. The workbook carries its own
// mutex; handlers call the workbook API and never hold extra locks
// across renders.
type Server struct {
	wb        *Workbook
	templates *template.Template
}

func NewServer(wb *Workbook) *Server {
	return &Server{wb: wb, templates: Templates()}
}

func (server *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /", server.index)
	mux.HandleFunc("GET /table.json", server.getTableJSON)
	mux.HandleFunc("POST /table.json", server.postTableJSON)
	mux.HandleFunc("GET /cell/{id}", server.getCellEdit)
	mux.HandleFunc("PATCH /table", server.patchTable)
	mux.HandleFunc("POST /sheet/{index}/script", server.postSheetScript)

	return mux
}

func (server *Server) render(res http.ResponseWriter, _ *http.Request, name string, status int, data any) {
	var buf bytes.Buffer
	if err := server.templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(res, err.Error(), http.StatusInternalServerError)
		return
	}
	header := res.Header()
	header.Set("content-type", "text/html")
	res.WriteHeader(status)
	_, _ = res.Write(buf.Bytes())
}

// CellView is the per-cell template payload.
type CellView struct {
	Row, Col int
	Sheet    int
	Display  string
	Tooltip  string
	Text     string
	Flagged  bool
	IsError  bool
}

func (cell CellView) IDPathParam() string {
	return Label(cell.Row, cell.Col)
}

func (cell CellView) ID() string {
	return "cell-" + cell.IDPathParam()
}

type ColumnView struct {
	Number int
}

func (column ColumnView) Label() string {
	return expression.ColumnLabel(column.Number)
}

type RowView struct {
	Number int
	Cells  []CellView
}

func (row RowView) Label() string {
	return strconv.Itoa(row.Number)
}

// TableView is the full grid payload for one sheet.
type TableView struct {
	SheetIndex int
	SheetName  string
	SheetNames []string
	Safe       bool
	Columns    []ColumnView
	Rows       []RowView
	Script     string
	Warnings   []string
}

func (server *Server) tableView(req *http.Request) (TableView, error) {
	sheetIndex := 0
	if raw := req.URL.Query().Get("sheet"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil {
			return TableView{}, fmt.Errorf("sheet query parameter %q is not an integer", raw)
		}
		sheetIndex = i
	}
	sheet, err := server.wb.Sheet(sheetIndex)
	if err != nil {
		return TableView{}, err
	}
	safe := req.URL.Query().Get("safe") == "1"

	rows, cols, sheetCount := server.wb.Shape()
	view := TableView{
		SheetIndex: sheetIndex,
		SheetName:  sheet.Name,
		Safe:       safe,
		Script:     server.wb.Script(sheetIndex),
	}
	for i := 0; i < sheetCount; i++ {
		s, err := server.wb.Sheet(i)
		if err != nil {
			return TableView{}, err
		}
		view.SheetNames = append(view.SheetNames, s.Name)
	}
	for c := 1; c <= cols; c++ {
		view.Columns = append(view.Columns, ColumnView{Number: c})
	}
	for r := 1; r <= rows; r++ {
		row := RowView{Number: r}
		for c := 1; c <= cols; c++ {
			k := Address{Row: r, Col: c, Sheet: sheetIndex}
			row.Cells = append(row.Cells, server.cellView(req, k, safe))
		}
		view.Rows = append(view.Rows, row)
	}
	return view, nil
}

func (server *Server) cellView(req *http.Request, k Address, safe bool) CellView {
	cell := CellView{Row: k.Row, Col: k.Col, Sheet: k.Sheet, Text: server.wb.Text(k)}
	if safe {
		cell.Display = cell.Text
		cell.Tooltip = "evaluation suppressed"
		return cell
	}
	v := server.wb.Value(req.Context(), k)
	cell.Display = Display(v)
	cell.Tooltip = Tooltip(v)
	if _, isErr := v.(ErrorValue); isErr {
		cell.IsError = true
		cell.Flagged = true
	}
	if len(server.wb.Warnings(k)) > 0 {
		cell.Flagged = true
	}
	return cell
}

func (server *Server) index(res http.ResponseWriter, req *http.Request) {
	view, err := server.tableView(req)
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	server.render(res, req, "index.html.template", http.StatusOK, view)
}

func (server *Server) getCellEdit(res http.ResponseWriter, req *http.Request) {
	row, col, err := Coord(req.PathValue("id"))
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	sheetIndex := 0
	if raw := req.URL.Query().Get("sheet"); raw != "" {
		if sheetIndex, err = strconv.Atoi(raw); err != nil {
			http.Error(res, err.Error(), http.StatusBadRequest)
			return
		}
	}
	k := Address{Row: row, Col: col, Sheet: sheetIndex}
	if err := server.wb.checkAddressLocked(k); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	cell := CellView{Row: row, Col: col, Sheet: sheetIndex, Text: server.wb.Text(k)}
	server.render(res, req, "edit-cell", http.StatusOK, cell)
}

func (server *Server) patchTable(res http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	sheetIndex := 0
	if raw := req.FormValue("sheet"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(res, err.Error(), http.StatusBadRequest)
			return
		}
		sheetIndex = i
	}
	for key, values := range req.Form {
		if len(key) <= len("cell-") || key[:len("cell-")] != "cell-" {
			continue
		}
		row, col, err := Coord(key)
		if err != nil {
			http.Error(res, err.Error(), http.StatusBadRequest)
			return
		}
		k := Address{Row: row, Col: col, Sheet: sheetIndex}
		if err := server.wb.SetText(k, values[0]); err != nil {
			http.Error(res, err.Error(), http.StatusBadRequest)
			return
		}
	}
	view, err := server.tableView(req)
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	server.render(res, req, "table", http.StatusOK, view)
}

func (server *Server) postSheetScript(res http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	sheetIndex, err := strconv.Atoi(req.PathValue("index"))
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	source := req.FormValue("source")
	server.wb.SetDraft(sheetIndex, source)
	warnings, err := server.wb.ApplyScript(sheetIndex, source)
	if err != nil {
		http.Error(res, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	view, viewErr := server.tableView(req)
	if viewErr != nil {
		http.Error(res, viewErr.Error(), http.StatusBadRequest)
		return
	}
	view.Warnings = warnings
	server.render(res, req, "table", http.StatusOK, view)
}

// EncodedCell is one grid entry in the JSON surface.
type EncodedCell struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type EncodedSheet struct {
	Name   string        `json:"name"`
	Cells  []EncodedCell `json:"cells,omitempty"`
	Script string        `json:"script,omitempty"`
}

type EncodedWorkbook struct {
	Rows   int            `json:"rows"`
	Cols   int            `json:"columns"`
	Mode   string         `json:"mode"`
	Sheets []EncodedSheet `json:"sheets"`
}

func (server *Server) getTableJSON(res http.ResponseWriter, _ *http.Request) {
	encoded := server.wb.encode()
	buf, err := json.MarshalIndent(encoded, "", "\t")
	if err != nil {
		http.Error(res, err.Error(), http.StatusInternalServerError)
		return
	}
	h := res.Header()
	h.Set("content-type", "application/json")
	h.Set("content-length", strconv.Itoa(len(buf)))
	res.WriteHeader(http.StatusOK)
	_, _ = res.Write(buf)
}

func (server *Server) postTableJSON(res http.ResponseWriter, req *http.Request) {
	if err := req.ParseMultipartForm((1 << 10) * 10); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	headers, ok := req.MultipartForm.File["table.json"]
	if !ok || len(headers) == 0 {
		http.Error(res, "expected table.json file", http.StatusBadRequest)
		return
	}
	f, err := headers[0].Open()
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	defer closeAndIgnoreError(f)
	raw, err := io.ReadAll(f)
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	var encoded EncodedWorkbook
	if err := json.Unmarshal(raw, &encoded); err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	wb, err := decodeWorkbook(encoded)
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	server.wb.replaceWith(wb)
	view, err := server.tableView(req)
	if err != nil {
		http.Error(res, err.Error(), http.StatusBadRequest)
		return
	}
	server.render(res, req, "table", http.StatusOK, view)
}

func closeAndIgnoreError(c io.Closer) {
	_ = c.Close()
}

func (wb *Workbook) encode() EncodedWorkbook {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	encoded := EncodedWorkbook{Rows: wb.rows, Cols: wb.cols, Mode: wb.mode.String()}
	for i, sheet := range wb.sheets {
		es := EncodedSheet{Name: sheet.Name, Script: sheet.script}
		keys := make(addressSet)
		for key := range sheet.texts {
			keys[Address{Row: key.Row, Col: key.Col, Sheet: i}] = struct{}{}
		}
		for _, k := range sortedAddresses(keys) {
			text, _ := sheet.text(cellKey{Row: k.Row, Col: k.Col})
			es.Cells = append(es.Cells, EncodedCell{ID: k.Label(), Text: text})
		}
		encoded.Sheets = append(encoded.Sheets, es)
	}
	return encoded
}

func decodeWorkbook(encoded EncodedWorkbook) (*Workbook, error) {
	mode, err := expression.ParseMode(encoded.Mode)
	if err != nil {
		return nil, err
	}
	wb := New(encoded.Rows, encoded.Cols, max(len(encoded.Sheets), 1))
	wb.mode = mode
	for i, es := range encoded.Sheets {
		if err := wb.RenameSheet(i, es.Name); err != nil {
			return nil, err
		}
		for _, cell := range es.Cells {
			row, col, err := Coord(cell.ID)
			if err != nil {
				return nil, fmt.Errorf("cell %q: %w", cell.ID, err)
			}
			if err := wb.SetText(Address{Row: row, Col: col, Sheet: i}, cell.Text); err != nil {
				return nil, err
			}
		}
		if es.Script != "" {
			if _, err := wb.ApplyScript(i, es.Script); err != nil {
				return nil, fmt.Errorf("script for sheet %q: %w", es.Name, err)
			}
		}
	}
	return wb, nil
}

// replaceWith swaps in another workbook's state. The receiver identity
// is stable so existing handlers keep working.
func (wb *Workbook) replaceWith(other *Workbook) {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	other.mut.Lock()
	defer other.mut.Unlock()
	wb.rows, wb.cols = other.rows, other.cols
	wb.sheets = other.sheets
	wb.mode = other.mode
	wb.graph = other.graph
	wb.cache = other.cache
	wb.spills = other.spills
	wb.tracker = nil
}

func (wb *Workbook) checkAddressLocked(k Address) error {
	wb.mut.Lock()
	defer wb.mut.Unlock()
	return wb.checkAddress(k)
}
