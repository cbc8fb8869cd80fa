package sheet

import (
	"fmt"

	"github.com/expr-lang/expr"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/model"
)

// Engine evaluates workbook formulas on demand with per-cell caching.
// A cell already being evaluated reads as zero, which breaks reference
// cycles instead of recursing forever.
type Engine struct {
	wb    *Workbook
	env   map[string]any
	opts  []expr.Option
	cache map[string]float64
	busy  map[string]bool
	log   *zap.Logger

	cells  int64
	errors int64
}

func NewEngine(wb *Workbook, log *zap.Logger) *Engine {
	e := &Engine{
		wb:    wb,
		cache: make(map[string]float64),
		busy:  make(map[string]bool),
		log:   log,
	}
	e.env = formulaEnv(e)
	e.opts = append(operatorOptions(), expr.Env(e.env))
	return e
}

// Stats reports how many cells were evaluated and how many formulas
// failed since the engine was created.
func (e *Engine) Stats() model.EvalStats {
	return model.EvalStats{Cells: e.cells, Errors: e.errors}
}

// CellValue resolves a cell to a number: formulas are evaluated, plain
// values parsed, blanks and text read as zero.
func (e *Engine) CellValue(ref string) float64 {
	ref = normalizeRef(ref)
	if v, ok := e.cache[ref]; ok {
		return v
	}
	if e.busy[ref] {
		return 0
	}
	e.busy[ref] = true
	defer delete(e.busy, ref)

	var val float64
	if formula := e.wb.CellFormula(ref); formula != "" {
		out, err := e.evalFormula(formula)
		if err != nil {
			e.errors++
			e.log.Warn("formula evaluation failed",
				zap.String("cell", ref),
				zap.String("formula", formula),
				zap.Error(err))
			out = 0
		}
		val = out
	} else {
		val = toFloat(e.wb.CellString(ref))
	}

	e.cells++
	e.cache[ref] = val
	return val
}

// rangeValues resolves a rectangular range row-major into a list.
func (e *Engine) rangeValues(startRef, endRef string) Value {
	startCol, startRow, ok1 := splitRef(startRef)
	endCol, endRow, ok2 := splitRef(endRef)
	if !ok1 || !ok2 {
		return list(nil)
	}
	c1, c2 := colToIndex(startCol), colToIndex(endCol)
	if c2 < c1 {
		c1, c2 = c2, c1
	}
	if endRow < startRow {
		startRow, endRow = endRow, startRow
	}
	var out []float64
	for r := startRow; r <= endRow; r++ {
		for c := c1; c <= c2; c++ {
			out = append(out, e.CellValue(fmt.Sprintf("%s%d", indexToCol(c), r)))
		}
	}
	return list(out)
}

// evalFormula rewrites and evaluates one formula. Range results collapse
// to the sum of their elements, matching what a single cell displays.
func (e *Engine) evalFormula(formula string) (float64, error) {
	src := rewriteFormula(formula)
	program, err := expr.Compile(src, e.opts...)
	if err != nil {
		return 0, fmt.Errorf("compile %q: %w", src, err)
	}
	out, err := expr.Run(program, e.env)
	if err != nil {
		return 0, fmt.Errorf("run %q: %w", src, err)
	}
	return toFloat(out), nil
}
