package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// uiStyles holds the lipgloss styles used for human-readable output.
type uiStyles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

var styles = uiStyles{
	Title:   lipgloss.NewStyle().Bold(true),
	Header:  lipgloss.NewStyle().Bold(true).Underline(true),
	Muted:   lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
	Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
}

const tablePadding = 2

// renderTable lays out rows in columns sized by their rendered width so
// styled cells stay aligned.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			text := cell
			if style != nil {
				text = style.Render(cell)
			}
			b.WriteString(text)
			if i < len(cells)-1 {
				b.WriteString(strings.Repeat(" ", widths[i]-lipgloss.Width(cell)+tablePadding))
			}
		}
		b.WriteString("\n")
	}
	writeRow(headers, &styles.Header)
	for _, row := range rows {
		writeRow(row, nil)
	}
	return b.String()
}

func formatYesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
