package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)

	levelFatal = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	levelError = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	levelWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	levelInfo  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	levelDebug = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(true)
	return s
}

// LevelStyle returns the style used for a severity token of either
// platform.
func LevelStyle(level string) lipgloss.Style {
	switch level {
	case "F", "A", "Fault":
		return levelFatal
	case "E", "Error":
		return levelError
	case "W", "Warning":
		return levelWarn
	case "I", "Notice", "Info":
		return levelInfo
	default:
		return levelDebug
	}
}

// View renders the TUI.
func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "loading..."
	}

	title := titleStyle.Render(" " + a.title + " ")
	if a.onlyDisplay {
		title += dimStyle.Render(" [" + strings.Join(a.levels, ",") + "]")
	}

	var body string
	switch {
	case !a.loaded:
		body = dimStyle.Render("loading table...")
	case a.mode == ModeDetail:
		body = paneStyle.Width(a.width - 4).Render(a.renderDetail())
	default:
		body = a.table.View()
	}

	lines := []string{title, body}
	if a.mode == ModeSearch {
		lines = append(lines, a.search.View())
	}
	lines = append(lines, a.renderStatusBar())
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (a App) renderDetail() string {
	row := a.selected()
	if row == nil {
		return dimStyle.Render("no record selected")
	}

	width := 0
	for _, h := range a.data.Header {
		width = max(width, len(h))
	}

	var b strings.Builder
	for i, h := range a.data.Header {
		val := ""
		if i < len(row) {
			val = row[i]
		}
		if h == levelColumn {
			val = LevelStyle(val).Render(val)
		}
		fmt.Fprintf(&b, "%-*s  %s\n", width, h+":", val)
	}
	return b.String()
}

func (a App) renderStatusBar() string {
	left := a.statusMsg
	if counts := a.data.Counts(); len(counts) > 0 {
		left += "  " + renderCounts(counts)
	}
	if a.search.Value() != "" && a.mode != ModeSearch {
		left += dimStyle.Render("  /" + a.search.Value())
	}

	right := "j/k:nav enter:detail /:search f:severity r:reload q:quit"
	switch a.mode {
	case ModeSearch:
		right = "enter:apply esc:clear"
	case ModeDetail:
		right = "esc:back"
	}

	gap := a.width - lipgloss.Width(left) - len(right)
	if gap < 1 {
		gap = 1
	}
	return left + helpStyle.Render(strings.Repeat(" ", gap)+right)
}

func renderCounts(counts map[string]int) string {
	levels := make([]string, 0, len(counts))
	for l := range counts {
		levels = append(levels, l)
	}
	slices.Sort(levels)

	parts := make([]string, len(levels))
	for i, l := range levels {
		parts[i] = LevelStyle(l).Render(fmt.Sprintf("%s:%d", l, counts[l]))
	}
	return strings.Join(parts, " ")
}
