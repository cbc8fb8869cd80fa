package sheet

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/model"
)

// SheetModel runs a workbook as a model: parameter overrides go into the
// editable block, the formula graph is evaluated, and whatever outcome
// tables the sheet defines come back as sections. Each Run opens a fresh
// copy of the file, so concurrent runs never share engine state.
type SheetModel struct {
	path      string
	sheetName string
	id        string
	log       *zap.Logger
}

// NewModel validates that the workbook opens and returns a model for it.
// The model ID is the file stem.
func NewModel(path string, log *zap.Logger) (*SheetModel, error) {
	wb, err := OpenWorkbook(path, "")
	if err != nil {
		return nil, err
	}
	if err := wb.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	base := filepath.Base(path)
	id := strings.TrimSuffix(base, filepath.Ext(base))
	return &SheetModel{path: path, id: id, log: log.With(zap.String("model", id))}, nil
}

func (m *SheetModel) ID() string    { return m.id }
func (m *SheetModel) Kind() string  { return model.KindSheet }
func (m *SheetModel) Title() string { return m.id }

func (m *SheetModel) Description() string { return "Spreadsheet-driven model" }

func (m *SheetModel) Defaults(ctx context.Context) (model.Params, error) {
	if err := ctx.Err(); err != nil {
		return model.Params{}, err
	}
	wb, err := OpenWorkbook(m.path, m.sheetName)
	if err != nil {
		return model.Params{}, err
	}
	defer wb.Close()

	engine := NewEngine(wb, m.log)
	return wb.EditableDefaults(engine), nil
}

// ScenarioHeaders exposes the current outcome column labels so callers
// can offer label overrides.
func (m *SheetModel) ScenarioHeaders() (map[string]string, error) {
	wb, err := OpenWorkbook(m.path, m.sheetName)
	if err != nil {
		return nil, err
	}
	defer wb.Close()
	return wb.ScenarioHeaders(), nil
}

func (m *SheetModel) Run(ctx context.Context, params model.Params, labels map[string]string) (model.Result, error) {
	if err := ctx.Err(); err != nil {
		return model.Result{}, err
	}
	wb, err := OpenWorkbook(m.path, m.sheetName)
	if err != nil {
		return model.Result{}, err
	}
	defer wb.Close()

	if err := wb.ApplyParams(params); err != nil {
		return model.Result{}, err
	}

	engine := NewEngine(wb, m.log)

	var sections []model.Section
	if headerRow := wb.findOutcomeHeaderRow(); headerRow > 0 {
		sections = buildOutcomeSections(wb, engine, headerRow, labels)
	} else {
		sections = buildGenericSections(wb, engine)
	}

	stats := engine.Stats()
	m.log.Debug("workbook evaluated",
		zap.Int64("cells", stats.Cells),
		zap.Int64("errors", stats.Errors),
		zap.Int("sections", len(sections)))

	return model.Result{
		Title:       m.id,
		Description: m.Description(),
		Sections:    sections,
		Stats:       stats,
	}, nil
}
