package report

import (
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/hupe1980/sessionmesh/core"
)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

// Render formats a report state as Markdown: one "## name" heading per
// section in order, its content, then its rows as a table or bullet list.
func Render(rs core.ReportState) string {
	sections := make([]string, 0, len(rs.Sections))
	for _, sec := range sortedSections(rs) {
		blocks := []string{"## " + sec.Name}
		// Leading whitespace is kept so indented code blocks survive.
		if content := strings.TrimRight(sec.Content, "\n"); strings.TrimSpace(content) != "" {
			blocks = append(blocks, content)
		}
		if len(sec.Rows) > 0 {
			if rs.Style == core.StyleList {
				blocks = append(blocks, renderList(sec.Rows))
			} else {
				blocks = append(blocks, renderTable(sec.Rows))
			}
		}
		sections = append(sections, strings.Join(blocks, "\n\n"))
	}
	return strings.Join(sections, "\n\n") + "\n"
}

func sortedSections(rs core.ReportState) []core.ReportSection {
	out := make([]core.ReportSection, len(rs.Sections))
	copy(out, rs.Sections)
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out
}

// columns returns field names in first-seen order across all rows.
func columns(rows []core.DataRow) []string {
	var cols []string
	seen := map[string]bool{}
	for _, row := range rows {
		for _, f := range row {
			if !seen[f.Name] {
				seen[f.Name] = true
				cols = append(cols, f.Name)
			}
		}
	}
	return cols
}

func cell(row core.DataRow, name string) string {
	for _, f := range row {
		if f.Name == name {
			return escapeCell(f.Value.String())
		}
	}
	return ""
}

// escapeCell keeps pipes and newlines from breaking the Markdown table.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func renderTable(rows []core.DataRow) string {
	cols := columns(rows)
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = escapeCell(c)
	}
	t := table.New().
		Border(lipgloss.MarkdownBorder()).
		BorderTop(false).
		BorderBottom(false).
		StyleFunc(func(row, col int) lipgloss.Style { return cellStyle }).
		Headers(headers...)
	for _, row := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = cell(row, c)
		}
		t.Row(cells...)
	}
	return strings.TrimRight(t.Render(), "\n")
}

func renderList(rows []core.DataRow) string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		parts := make([]string, 0, len(row))
		for _, f := range row {
			parts = append(parts, "**"+f.Name+"**: "+f.Value.String())
		}
		lines = append(lines, "- "+strings.Join(parts, ", "))
	}
	return strings.Join(lines, "\n")
}
