package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Color palette
var (
	accentColor = lipgloss.Color("#5FAFD7")
	mutedColor  = lipgloss.Color("#888888")
	errorColor  = lipgloss.Color("#D75F5F")
	textColor   = lipgloss.Color("#FFFFFF")
)

// Styles used for interactive output only; piped output stays plain
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Foreground(textColor).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(errorColor)
)

// renderTable draws rows under headers. Cells in the first column are muted.
func renderTable(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0:
				return mutedStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}
