package sheet

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/epiworldlab/epirunner/internal/model"
)

const (
	genericScanMaxRows = 250
	blankStreakLimit   = 3
)

// formatNumber renders an evaluated cell for display: whole numbers
// above magnitude 10, two decimals otherwise.
func formatNumber(v float64) string {
	if math.Abs(v) > 10 {
		return strconv.FormatFloat(math.RoundToEven(v), 'f', 0, 64)
	}
	return strconv.FormatFloat(math.RoundToEven(v*100)/100, 'f', -1, 64)
}

// hasContent reports whether a cell holds anything: a value or a formula.
func (w *Workbook) hasContent(ref string) bool {
	return strings.TrimSpace(w.CellString(ref)) != "" || w.CellFormula(ref) != ""
}

// numberish reports whether a cell should display as a number: formulas
// and parseable values qualify.
func (w *Workbook) numberish(ref string) bool {
	if w.CellFormula(ref) != "" {
		return true
	}
	s := strings.TrimSpace(w.CellString(ref))
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

// outcomeRows walks down from the header collecting populated rows,
// stopping after three blank rows in a row.
func (w *Workbook) outcomeRows(headerRow int, scenarioCols []string) []int {
	var rows []int
	blankStreak := 0
	maxRow := w.MaxRow()
	for r := headerRow + 1; r <= maxRow; r++ {
		hasAny := w.hasContent(fmt.Sprintf("A%d", r))
		if !hasAny {
			for _, col := range scenarioCols {
				if w.hasContent(fmt.Sprintf("%s%d", col, r)) {
					hasAny = true
					break
				}
			}
		}
		if !hasAny {
			blankStreak++
			if blankStreak >= blankStreakLimit {
				break
			}
			continue
		}
		blankStreak = 0
		rows = append(rows, r)
	}
	return rows
}

// activeScenarioColumns filters to columns that carry a header or data.
func (w *Workbook) activeScenarioColumns(headerRow int, scenarioCols []string, rows []int) []string {
	var active []string
	for _, col := range scenarioCols {
		if w.hasContent(fmt.Sprintf("%s%d", col, headerRow)) {
			active = append(active, col)
			continue
		}
		for _, r := range rows {
			if w.hasContent(fmt.Sprintf("%s%d", col, r)) {
				active = append(active, col)
				break
			}
		}
	}
	return active
}

// buildOutcomeSections extracts the labeled outcome tables below the
// header row. A populated label with all-blank scenario cells starts a
// new section titled by that label.
func buildOutcomeSections(w *Workbook, engine *Engine, headerRow int, labelOverrides map[string]string) []model.Section {
	allCols := scenarioColumns()
	rows := w.outcomeRows(headerRow, allCols)
	cols := w.activeScenarioColumns(headerRow, allCols, rows)

	firstColTitle := strings.TrimSpace(w.CellString(fmt.Sprintf("A%d", headerRow)))
	if firstColTitle == "" {
		firstColTitle = "Outcome"
	}

	colTitles := make(map[string]string, len(cols))
	for _, col := range cols {
		if v, ok := labelOverrides[col]; ok && strings.TrimSpace(v) != "" {
			colTitles[col] = strings.TrimSpace(v)
			continue
		}
		v := strings.TrimSpace(w.CellString(fmt.Sprintf("%s%d", col, headerRow)))
		if v == "" {
			v = col
		}
		colTitles[col] = v
	}

	columns := make([]string, 0, len(cols)+1)
	columns = append(columns, firstColTitle)
	for _, col := range cols {
		columns = append(columns, colTitles[col])
	}

	var sections []model.Section
	var currentTitle string
	var currentRows [][]string

	flush := func() {
		if currentTitle != "" && len(currentRows) > 0 {
			sections = append(sections, model.Section{
				Title:  currentTitle,
				Blocks: []model.Block{{Table: &model.Table{Columns: columns, Rows: currentRows}}},
			})
		}
		currentRows = nil
	}

	for _, r := range rows {
		label := strings.TrimSpace(w.CellString(fmt.Sprintf("A%d", r)))
		if label == "" {
			continue
		}

		allBlank := true
		for _, col := range cols {
			if w.hasContent(fmt.Sprintf("%s%d", col, r)) {
				allBlank = false
				break
			}
		}
		if allBlank {
			flush()
			currentTitle = label
			continue
		}

		row := []string{label}
		for _, col := range cols {
			row = append(row, formatNumber(engine.CellValue(fmt.Sprintf("%s%d", col, r))))
		}
		currentRows = append(currentRows, row)
	}
	flush()

	if len(sections) == 0 && len(currentRows) > 0 {
		sections = []model.Section{{
			Title:  "Results",
			Blocks: []model.Block{{Table: &model.Table{Columns: columns, Rows: currentRows}}},
		}}
	}
	return sections
}

type tableBounds struct {
	top, left, bottom, right int
}

func (t tableBounds) area() int {
	return (t.bottom - t.top + 1) * (t.right - t.left + 1)
}

// buildGenericSections is the fallback when no outcome header exists: it
// scans columns A-E for the largest label-plus-numbers block and renders
// it as a single table, dropping columns that are entirely blank or zero.
func buildGenericSections(w *Workbook, engine *Engine) []model.Section {
	maxRows := w.MaxRow()
	if maxRows > genericScanMaxRows {
		maxRows = genericScanMaxRows
	}
	maxCols := colToIndex("E")

	var tables []tableBounds
	for top := 1; top <= maxRows; top++ {
		for left := 1; left < maxCols-1; left++ {
			if !w.hasContent(cellRef(left, top)) {
				continue
			}

			numericCols := 0
			for j := left + 1; j <= maxCols; j++ {
				if w.numberish(cellRef(j, top)) {
					numericCols++
				}
			}
			if numericCols < 2 {
				continue
			}

			bottom := top
			for bottom+1 <= maxRows {
				if !w.hasContent(cellRef(left, bottom+1)) {
					break
				}
				hasNum := false
				for j := left + 1; j <= maxCols; j++ {
					if w.numberish(cellRef(j, bottom+1)) {
						hasNum = true
						break
					}
				}
				if !hasNum {
					break
				}
				bottom++
			}

			right := left
			for j := left + 1; j <= maxCols; j++ {
				for r := top; r <= bottom; r++ {
					if w.hasContent(cellRef(j, r)) {
						right = j
						break
					}
				}
			}

			if bottom-top+1 >= 2 && right-left >= 1 {
				tables = append(tables, tableBounds{top: top, left: left, bottom: bottom, right: right})
			}
		}
	}

	if len(tables) == 0 {
		return []model.Section{{
			Title:  "Outputs",
			Blocks: []model.Block{{Text: "No outcome table detected in columns A-E."}},
		}}
	}

	best := tables[0]
	for _, t := range tables[1:] {
		if t.area() > best.area() {
			best = t
		}
	}

	headers := make([]string, 0, best.right-best.left+1)
	for c := best.left; c <= best.right; c++ {
		h := strings.TrimSpace(w.CellString(cellRef(c, best.top)))
		if h == "" {
			h = indexToCol(c)
		}
		headers = append(headers, h)
	}

	var rows [][]string
	for r := best.top + 1; r <= best.bottom; r++ {
		row := make([]string, 0, len(headers))
		for c := best.left; c <= best.right; c++ {
			row = append(row, w.cellDisplay(engine, cellRef(c, r)))
		}
		rows = append(rows, row)
	}

	keep := make([]bool, len(headers))
	for i := range headers {
		for _, row := range rows {
			if !effectivelyEmpty(row[i]) {
				keep[i] = true
				break
			}
		}
	}

	var outCols []string
	for i, h := range headers {
		if keep[i] {
			outCols = append(outCols, h)
		}
	}
	var outRows [][]string
	for _, row := range rows {
		out := make([]string, 0, len(outCols))
		for i := range headers {
			if keep[i] {
				out = append(out, row[i])
			}
		}
		outRows = append(outRows, out)
	}

	return []model.Section{{
		Title:  "Outputs",
		Blocks: []model.Block{{Table: &model.Table{Columns: outCols, Rows: outRows}}},
	}}
}

// cellDisplay renders a cell: numberish cells evaluate and round, text
// passes through trimmed.
func (w *Workbook) cellDisplay(engine *Engine, ref string) string {
	if w.numberish(ref) {
		return formatNumber(engine.CellValue(ref))
	}
	return strings.TrimSpace(w.CellString(ref))
}

func effectivelyEmpty(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return false
	}
	return math.Abs(f) <= 1e-12
}

func cellRef(colIdx, row int) string {
	return fmt.Sprintf("%s%d", indexToCol(colIdx), row)
}
