package sheet

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/epiworldlab/epirunner/internal/model"
)

// outcomeTestFile builds a workbook in the layout the runner expects:
// outcome rows in A-E, editable parameters in F-G from row 3.
func outcomeTestFile(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	sheet := f.GetSheetList()[0]
	set := func(ref string, v any) {
		require.NoError(t, f.SetCellValue(sheet, ref, v))
	}
	formula := func(ref, src string) {
		require.NoError(t, f.SetCellFormula(sheet, ref, src))
	}

	// Header row and two titled outcome groups.
	set("A2", "Outcome")
	set("B2", "Baseline")
	set("C2", "Intervention")

	set("A3", "Direct costs")
	set("A4", "Hospital days")
	formula("B4", "G3*G4")
	formula("C4", "G3*G4*0.5")

	set("A6", "Productivity")
	set("A7", "Missed work")
	formula("B7", "G5*8")
	formula("C7", "G5*4")

	// Editable parameter block.
	set("F3", "Cost per day")
	set("G3", 100)
	set("F4", "Days in hospital")
	set("G4", 4)
	set("F5", "Hourly wage")
	set("G5", 25)
	set("F6", "Derived total")
	formula("G6", "G3*G4")

	path := filepath.Join(t.TempDir(), "cost_model.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func TestSheetModelDefaults(t *testing.T) {
	t.Parallel()

	m, err := NewModel(outcomeTestFile(t), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "cost_model", m.ID())
	assert.Equal(t, model.KindSheet, m.Kind())

	params, err := m.Defaults(context.Background())
	require.NoError(t, err)

	items := params.Items()
	require.Len(t, items, 4)
	assert.Equal(t, "Cost per day", items[0].Label)
	assert.Equal(t, "100", items[0].Value)
	assert.Equal(t, "Days in hospital", items[1].Label)
	assert.Equal(t, "4", items[1].Value)
	// Formula-backed defaults come back evaluated.
	assert.Equal(t, "Derived total", items[3].Label)
	assert.Equal(t, "400", items[3].Value)
}

func TestSheetModelRunBuildsTitledSections(t *testing.T) {
	t.Parallel()

	m, err := NewModel(outcomeTestFile(t), zap.NewNop())
	require.NoError(t, err)

	params, err := m.Defaults(context.Background())
	require.NoError(t, err)

	res, err := m.Run(context.Background(), params, nil)
	require.NoError(t, err)

	require.Len(t, res.Sections, 2)
	assert.Equal(t, "Direct costs", res.Sections[0].Title)
	assert.Equal(t, "Productivity", res.Sections[1].Title)

	direct := res.Sections[0].Blocks[0].Table
	require.NotNil(t, direct)
	assert.Equal(t, []string{"Outcome", "Baseline", "Intervention"}, direct.Columns)
	require.Len(t, direct.Rows, 1)
	assert.Equal(t, []string{"Hospital days", "400", "200"}, direct.Rows[0])

	work := res.Sections[1].Blocks[0].Table
	require.NotNil(t, work)
	assert.Equal(t, []string{"Missed work", "200", "100"}, work.Rows[0])

	assert.Greater(t, res.Stats.Cells, int64(0))
	assert.Equal(t, int64(0), res.Stats.Errors)
}

func TestSheetModelRunAppliesOverridesAndLabels(t *testing.T) {
	t.Parallel()

	m, err := NewModel(outcomeTestFile(t), zap.NewNop())
	require.NoError(t, err)

	params := model.NewParams(model.Param{Label: "Cost per day", Value: "200"})
	res, err := m.Run(context.Background(), params, map[string]string{"B": "Status Quo"})
	require.NoError(t, err)

	direct := res.Sections[0].Blocks[0].Table
	assert.Equal(t, []string{"Outcome", "Status Quo", "Intervention"}, direct.Columns)
	assert.Equal(t, []string{"Hospital days", "800", "400"}, direct.Rows[0])
}

func TestSheetModelScenarioHeaders(t *testing.T) {
	t.Parallel()

	m, err := NewModel(outcomeTestFile(t), zap.NewNop())
	require.NoError(t, err)

	headers, err := m.ScenarioHeaders()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "Baseline", "C": "Intervention"}, headers)
}

func TestSheetModelGenericFallback(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	sheet := f.GetSheetList()[0]
	set := func(ref string, v any) {
		require.NoError(t, f.SetCellValue(sheet, ref, v))
	}
	// No column-A content below row 1, so outcome detection fails and the
	// generic scan must find this label+numbers block in B-D.
	set("B1", "Item")
	set("C1", 1)
	set("D1", 2)
	set("B2", "Widgets")
	set("C2", 10)
	set("D2", 20)
	set("B3", "Gadgets")
	set("C3", 30)
	set("D3", 40)

	path := filepath.Join(t.TempDir(), "generic.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	m, err := NewModel(path, zap.NewNop())
	require.NoError(t, err)

	res, err := m.Run(context.Background(), model.NewParams(), nil)
	require.NoError(t, err)

	require.Len(t, res.Sections, 1)
	assert.Equal(t, "Outputs", res.Sections[0].Title)
	tab := res.Sections[0].Blocks[0].Table
	require.NotNil(t, tab)
	assert.Equal(t, []string{"Item", "1", "2"}, tab.Columns)
	assert.Equal(t, [][]string{{"Widgets", "10", "20"}, {"Gadgets", "30", "40"}}, tab.Rows)
}

func TestSheetModelNoTablesAtAll(t *testing.T) {
	t.Parallel()

	f := excelize.NewFile()
	sheet := f.GetSheetList()[0]
	require.NoError(t, f.SetCellValue(sheet, "B1", "just a note"))

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	m, err := NewModel(path, zap.NewNop())
	require.NoError(t, err)

	res, err := m.Run(context.Background(), model.NewParams(), nil)
	require.NoError(t, err)

	require.Len(t, res.Sections, 1)
	require.Len(t, res.Sections[0].Blocks, 1)
	assert.Nil(t, res.Sections[0].Blocks[0].Table)
	assert.NotEmpty(t, res.Sections[0].Blocks[0].Text)
}
