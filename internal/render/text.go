package render

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/epiworldlab/epirunner/internal/model"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	sectionStyle = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

// Text renders a result for the terminal: section titles followed by
// bordered tables.
func Text(res model.Result) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(res.Title))
	b.WriteString("\n")
	if res.Description != "" {
		b.WriteString(res.Description)
		b.WriteString("\n")
	}

	for _, sec := range res.Sections {
		b.WriteString("\n")
		b.WriteString(sectionStyle.Render(sec.Title))
		b.WriteString("\n")
		for _, blk := range sec.Blocks {
			if blk.Table == nil {
				b.WriteString(blk.Text)
				b.WriteString("\n")
				continue
			}
			b.WriteString(renderTable(blk.Table))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderTable(tab *model.Table) string {
	rows := make([][]string, 0, len(tab.Rows))
	for _, row := range tab.Rows {
		out := make([]string, len(row))
		for i, cell := range row {
			if i == 0 {
				out[i] = cell
				continue
			}
			out[i] = Number(cell)
		}
		rows = append(rows, out)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(tab.Columns...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.Render()
}
