// Package tui renders the pipeline board and runs the operator console.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"dealflow/internal/analytics"
	"dealflow/internal/domain"
)

const (
	minColumnWidth = 18
	columnGap      = 1
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	statStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	cardStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)
)

// RenderBoard draws one column per stage with its deals, plus a stats header.
func RenderBoard(deals []domain.Deal, width int) string {
	stages := domain.Stages()
	colWidth := minColumnWidth
	if width > 0 {
		if w := (width - columnGap*(len(stages)-1)) / len(stages); w > colWidth {
			colWidth = w
		}
	}

	totals := analytics.Breakdown(deals)
	columns := make([]string, 0, len(stages))
	for i, st := range stages {
		if i > 0 {
			columns = append(columns, strings.Repeat(" ", columnGap))
		}
		columns = append(columns, renderColumn(st, totals[i], deals, colWidth))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(analytics.Summarize(deals)),
		"",
		lipgloss.JoinHorizontal(lipgloss.Top, columns...),
	)
}

func renderHeader(s analytics.Summary) string {
	stats := []string{
		fmt.Sprintf("%d deals", s.Count),
		"Pipeline " + analytics.FormatUSD(s.TotalValue),
		"Active " + analytics.FormatUSD(s.ActiveValue),
		"Won " + analytics.FormatUSD(s.WonValue),
		fmt.Sprintf("Win rate %d%%", s.WinRate),
	}
	return headerStyle.Render("💼 Sales Pipeline") + "  " + statStyle.Render(strings.Join(stats, " · "))
}

func renderColumn(st domain.Stage, total analytics.StageTotal, deals []domain.Deal, width int) string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(st.Color())).
		Width(width).
		Render(fmt.Sprintf("%s %s (%d)", st.Emoji(), st.Label(), total.Count))
	sub := mutedStyle.Width(width).Render(analytics.FormatUSD(total.Value))

	parts := []string{title, sub}
	inner := width - 4
	if inner < 1 {
		inner = 1
	}
	for _, d := range deals {
		if d.Stage != st {
			continue
		}
		body := lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().Bold(true).Render(truncate(d.Name, inner)),
			mutedStyle.Render(truncate(d.Company, inner)),
			analytics.FormatUSD(d.Value),
		)
		parts = append(parts, cardStyle.BorderForeground(lipgloss.Color(st.Color())).Width(width-2).Render(body))
	}
	if total.Count == 0 {
		parts = append(parts, mutedStyle.Width(width).Render("No deals"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
