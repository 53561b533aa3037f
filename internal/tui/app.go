package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// EventMsg delivers one graph event.
type EventMsg struct {
	Event models.GraphEvent
}

// TurnStartedMsg marks a message handed to the orchestrator.
type TurnStartedMsg struct {
	Message string
}

// TurnDoneMsg carries a finished turn.
type TurnDoneMsg struct {
	Result *orchestrator.TurnResult
	Err    error
}

// App is the bubbletea model for ensemble run.
type App struct {
	state    TurnState
	view     *TurnView
	input    *InputField
	width    int
	height   int
	quitting bool
	// exitOnDone quits after the first turn that does not ask a question.
	exitOnDone bool

	onSubmit func(text string)
	onCancel func()

	logStyle     lipgloss.Style
	logTimeStyle lipgloss.Style
	kindStyle    lipgloss.Style
	errorStyle   lipgloss.Style
	doneStyle    lipgloss.Style
	hintStyle    lipgloss.Style
}

// NewApp creates an App for one session.
func NewApp(sessionID string) *App {
	return &App{
		state: TurnState{SessionID: sessionID},
		view:  NewTurnView(),
		input: NewInputField(),

		logStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		logTimeStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		kindStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Width(14),
		errorStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		doneStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("34")).Bold(true),
		hintStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// SetSubmitHandler sets the callback for submitted messages. It must not
// block; start the turn on its own goroutine.
func (a *App) SetSubmitHandler(fn func(text string)) {
	a.onSubmit = fn
}

// SetCancelHandler sets the callback for the cancel key.
func (a *App) SetCancelHandler(fn func()) {
	a.onCancel = fn
}

// SetExitOnDone makes the app quit once a turn completes without a question.
func (a *App) SetExitOnDone(v bool) {
	a.exitOnDone = v
}

// State returns the current turn state.
func (a *App) State() TurnState {
	return a.state
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.input.Focus()
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if a.state.Running && a.onCancel != nil {
				a.onCancel()
			}
			a.quitting = true
			return a, tea.Quit
		case "esc":
			if a.state.Running && a.onCancel != nil {
				a.onCancel()
				return a, nil
			}
			if !a.state.Running {
				a.quitting = true
				return a, tea.Quit
			}
			return a, nil
		}
		if a.state.Running {
			// Input is locked while a turn runs.
			return a, nil
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, cmd

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.view.SetWidth(msg.Width)
		a.input.SetWidth(msg.Width)

	case MessageSubmittedMsg:
		a.state.Begin()
		if a.onSubmit != nil {
			a.onSubmit(msg.Text)
		}

	case TurnStartedMsg:
		a.state.Begin()

	case EventMsg:
		a.state.Apply(msg.Event)

	case TurnDoneMsg:
		a.state.Finish(msg.Result, msg.Err)
		if a.state.Question != "" {
			a.input.SetPlaceholder("Answer the question and press Enter...")
		} else {
			a.input.SetPlaceholder("Send a follow-up, or Esc to quit...")
		}
		if a.exitOnDone && a.state.Question == "" {
			return a, tea.Quit
		}
	}
	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Render("=== ensemble ==="))
	b.WriteString("\n\n")
	b.WriteString(a.view.View(&a.state))
	b.WriteString("\n")
	b.WriteString(a.renderActivity())
	b.WriteString("\n")

	switch {
	case a.state.Running:
		b.WriteString(a.hintStyle.Render("Working... Esc cancels the turn, Ctrl+C quits"))
	case a.state.Err != "":
		b.WriteString(a.errorStyle.Render("Error: " + a.state.Err))
		b.WriteString("\n")
		b.WriteString(a.input.View())
	default:
		if a.state.TurnIndex > 0 && a.state.Question == "" {
			b.WriteString(a.doneStyle.Render(fmt.Sprintf("Turn %d complete.", a.state.TurnIndex)))
			b.WriteString("\n")
		}
		b.WriteString(a.input.View())
	}
	b.WriteString("\n")
	return b.String()
}

// renderActivity renders the most recent activity entries.
func (a *App) renderActivity() string {
	if len(a.state.Activity) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("252")).
		Render("Activity"))
	b.WriteString("\n")

	limit := 8
	if a.height > 30 {
		limit = a.height - 22
	}
	start := 0
	if len(a.state.Activity) > limit {
		start = len(a.state.Activity) - limit
	}
	for _, entry := range a.state.Activity[start:] {
		ts := a.logTimeStyle.Render(entry.Timestamp.Format("15:04:05"))
		kind := a.kindStyle.Render(string(entry.Kind))
		text := entry.Message
		if entry.AgentID != "" {
			text = entry.AgentID + ": " + text
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n", ts, kind, a.logStyle.Render(truncate(text, 72))))
	}
	return b.String()
}

// NewProgram creates the bubbletea program for an App.
func NewProgram(app *App) *tea.Program {
	return tea.NewProgram(app, tea.WithAltScreen())
}
