package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/ensemble/pkg/models"
)

// TurnView renders a TurnState.
type TurnView struct {
	width int

	headerStyle   lipgloss.Style
	labelStyle    lipgloss.Style
	valueStyle    lipgloss.Style
	progressFull  lipgloss.Style
	progressEmpty lipgloss.Style
	modeStyle     lipgloss.Style
	questionStyle lipgloss.Style
	summaryStyle  lipgloss.Style
	mutedStyle    lipgloss.Style
	skippedStyle  lipgloss.Style
	statusStyles  map[models.TaskStatus]lipgloss.Style
}

// NewTurnView creates a TurnView.
func NewTurnView() *TurnView {
	return &TurnView{
		width: 80,

		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("238")).
			MarginBottom(1),

		labelStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(12),

		valueStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Bold(true),

		progressFull:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		progressEmpty: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),

		modeStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true),

		questionStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),

		summaryStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("34")).
			Padding(0, 1),

		mutedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),

		skippedStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),

		statusStyles: map[models.TaskStatus]lipgloss.Style{
			models.TaskStatusPending:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
			models.TaskStatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
			models.TaskStatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
			models.TaskStatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
	}
}

// SetWidth sets the render width.
func (v *TurnView) SetWidth(w int) {
	if w > 0 {
		v.width = w
	}
}

// View renders the state.
func (v *TurnView) View(s *TurnState) string {
	var b strings.Builder

	title := fmt.Sprintf("Session %s", s.SessionID)
	if s.TurnIndex > 0 {
		title += fmt.Sprintf(" / turn %d", s.TurnIndex)
	}
	b.WriteString(v.headerStyle.Render(title))
	b.WriteString("\n")

	b.WriteString(v.labelStyle.Render("Cost:"))
	b.WriteString(v.valueStyle.Render(fmt.Sprintf("$%.4f", s.CostUSD)))
	b.WriteString(v.mutedStyle.Render(fmt.Sprintf("  (session $%.4f)", s.SessionCostUSD)))
	b.WriteString("\n")
	if s.Mode != "" {
		b.WriteString(v.labelStyle.Render("Mode:"))
		b.WriteString(v.modeStyle.Render(s.Mode))
		b.WriteString("\n")
	}

	done, total := s.Counts()
	if total > 0 {
		pct := float64(done) / float64(total) * 100
		b.WriteString(v.labelStyle.Render("Tasks:"))
		b.WriteString(v.valueStyle.Render(fmt.Sprintf("%d/%d", done, total)))
		b.WriteString("  ")
		b.WriteString(v.renderProgressBar(pct, 30))
		b.WriteString("\n")
		if s.Rationale != "" {
			b.WriteString(v.mutedStyle.Render("  " + truncate(s.Rationale, v.width-4)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		for _, t := range s.Tasks {
			b.WriteString(v.renderTask(t))
			b.WriteString("\n")
		}
	}

	if s.Question != "" {
		b.WriteString("\n")
		b.WriteString(v.questionStyle.Render("? " + s.Question))
		b.WriteString("\n")
	}
	if s.Summary != "" {
		b.WriteString("\n")
		b.WriteString(v.summaryStyle.Width(v.width - 4).Render(s.Summary))
		b.WriteString("\n")
	}
	return b.String()
}

func (v *TurnView) renderTask(t TaskLine) string {
	style, ok := v.statusStyles[t.Status]
	if !ok {
		style = v.mutedStyle
	}
	if t.Skipped() {
		style = v.skippedStyle
	}
	title := t.Title
	if title == "" {
		title = shortID(t.ID)
	}
	line := fmt.Sprintf("  %s %-12s %s", style.Render(statusIcon(t)), truncate(t.AgentID, 12), truncate(title, 48))
	if t.CostUSD > 0 {
		line += v.mutedStyle.Render(fmt.Sprintf("  $%.4f", t.CostUSD))
	}
	if t.Status == models.TaskStatusFailed && !t.Skipped() && t.Detail != "" {
		line += "\n      " + style.Render(truncate(t.Detail, v.width-8))
	}
	return line
}

func (v *TurnView) renderProgressBar(pct float64, width int) string {
	filled := int(pct / 100 * float64(width))
	if filled > width {
		filled = width
	}
	return v.progressFull.Render(strings.Repeat("█", filled)) +
		v.progressEmpty.Render(strings.Repeat("░", width-filled))
}

func statusIcon(t TaskLine) string {
	if t.Skipped() {
		return "↷"
	}
	switch t.Status {
	case models.TaskStatusInProgress:
		return "●"
	case models.TaskStatusCompleted:
		return "✓"
	case models.TaskStatusFailed:
		return "✗"
	default:
		return "○"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if n <= 3 || len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
