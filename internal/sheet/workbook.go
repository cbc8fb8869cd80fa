package sheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/epiworldlab/epirunner/internal/model"
)

const (
	paramNameCol  = "F"
	paramValueCol = "G"
	paramStartRow = 3
)

// Workbook wraps one worksheet of an xlsx file. Not safe for concurrent
// use; each run opens its own copy.
type Workbook struct {
	f     *excelize.File
	sheet string
}

// OpenWorkbook opens the named sheet, or the first sheet when name is "".
func OpenWorkbook(path, sheetName string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	if sheetName == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, fmt.Errorf("open workbook: %s has no sheets", path)
		}
		sheetName = sheets[0]
	}
	if idx, err := f.GetSheetIndex(sheetName); err != nil || idx < 0 {
		f.Close()
		return nil, fmt.Errorf("open workbook: sheet %q not found", sheetName)
	}
	return &Workbook{f: f, sheet: sheetName}, nil
}

func (w *Workbook) Close() error {
	return w.f.Close()
}

// CellString returns the raw cell text. Unknown refs come back empty.
func (w *Workbook) CellString(ref string) string {
	v, err := w.f.GetCellValue(w.sheet, normalizeRef(ref))
	if err != nil {
		return ""
	}
	return v
}

// CellFormula returns the cell formula without its leading '=', or ""
// for plain cells.
func (w *Workbook) CellFormula(ref string) string {
	v, err := w.f.GetCellFormula(w.sheet, normalizeRef(ref))
	if err != nil {
		return ""
	}
	return v
}

// SetCell overwrites a cell with a literal value. Numeric strings become
// numbers so dependent formulas see them as such.
func (w *Workbook) SetCell(ref, value string) error {
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
		return w.f.SetCellValue(w.sheet, normalizeRef(ref), f)
	}
	return w.f.SetCellValue(w.sheet, normalizeRef(ref), value)
}

// MaxRow reports the last row of the used range.
func (w *Workbook) MaxRow() int {
	dim, err := w.f.GetSheetDimension(w.sheet)
	if err == nil {
		if _, end, ok := strings.Cut(dim, ":"); ok {
			if _, row, ok := splitRef(end); ok {
				return row
			}
		}
	}
	rows, err := w.f.GetRows(w.sheet)
	if err != nil {
		return 0
	}
	return len(rows)
}

// IndentLevel reports the cell's alignment indent, falling back to
// leading spaces in the text (two per level).
func (w *Workbook) IndentLevel(ref string) int {
	ref = normalizeRef(ref)
	styleID, err := w.f.GetCellStyle(w.sheet, ref)
	if err == nil {
		style, err := w.f.GetStyle(styleID)
		if err == nil && style != nil && style.Alignment != nil && style.Alignment.Indent > 0 {
			return style.Alignment.Indent
		}
	}
	text := w.CellString(ref)
	leading := len(text) - len(strings.TrimLeft(text, " "))
	return leading / 2
}

// ApplyParams writes parameter values into the editable value column,
// matched by the label in the name column. Section headers and blank
// values are skipped.
func (w *Workbook) ApplyParams(params model.Params) error {
	lookup := make(map[string]string)
	for _, it := range params.Items() {
		if it.Section {
			continue
		}
		label := strings.TrimSpace(it.Label)
		if label == "" || strings.TrimSpace(it.Value) == "" {
			continue
		}
		lookup[label] = it.Value
	}

	maxRow := w.MaxRow()
	for r := paramStartRow; r <= maxRow; r++ {
		name := strings.TrimSpace(w.CellString(fmt.Sprintf("%s%d", paramNameCol, r)))
		if name == "" {
			continue
		}
		if v, ok := lookup[name]; ok {
			if err := w.SetCell(fmt.Sprintf("%s%d", paramValueCol, r), v); err != nil {
				return fmt.Errorf("apply params: row %d: %w", r, err)
			}
		}
	}
	return nil
}

// EditableDefaults walks the parameter block and returns the ordered
// labels with their current values. Rows with no value become section
// headers; formula-backed values are evaluated first.
func (w *Workbook) EditableDefaults(engine *Engine) model.Params {
	var params model.Params
	maxRow := w.MaxRow()
	for r := paramStartRow; r <= maxRow; r++ {
		nameRef := fmt.Sprintf("%s%d", paramNameCol, r)
		valueRef := fmt.Sprintf("%s%d", paramValueCol, r)

		name := strings.TrimSpace(w.CellString(nameRef))
		if name == "" {
			continue
		}
		level := w.IndentLevel(nameRef)

		if w.CellFormula(valueRef) != "" {
			v := engine.CellValue(valueRef)
			params.Append(model.Param{
				Label:  name,
				Value:  strconv.FormatFloat(v, 'f', -1, 64),
				Indent: level,
			})
			continue
		}

		raw := strings.TrimSpace(w.CellString(valueRef))
		if raw == "" {
			params.Append(model.Param{Label: name, Indent: level, Section: true})
			continue
		}
		params.Append(model.Param{Label: name, Value: raw, Indent: level})
	}
	return params
}

// ScenarioHeaders reads the outcome header row and returns the labels in
// the scenario columns, keyed by column letter.
func (w *Workbook) ScenarioHeaders() map[string]string {
	headerRow := w.findOutcomeHeaderRow()
	if headerRow == 0 {
		headerRow = 1
	}
	headers := make(map[string]string)
	for _, col := range scenarioColumns() {
		v := strings.TrimSpace(w.CellString(fmt.Sprintf("%s%d", col, headerRow)))
		if v != "" {
			headers[col] = v
		}
	}
	return headers
}

// scenarioColumns is the span between the label column and the parameter
// block: B through E.
func scenarioColumns() []string {
	var cols []string
	for i := colToIndex("B"); i < colToIndex(paramNameCol); i++ {
		cols = append(cols, indexToCol(i))
	}
	return cols
}

// findOutcomeHeaderRow locates the outcome table header: the first
// non-empty cell in column A from row 2 down. Zero means no table.
func (w *Workbook) findOutcomeHeaderRow() int {
	maxRow := w.MaxRow()
	for r := 2; r <= maxRow; r++ {
		if strings.TrimSpace(w.CellString(fmt.Sprintf("A%d", r))) != "" {
			return r
		}
	}
	return 0
}
