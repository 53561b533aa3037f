package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
)

func send(a *App, msg tea.Msg) tea.Cmd {
	_, cmd := a.Update(msg)
	return cmd
}

func TestApp_SubmitStartsTurn(t *testing.T) {
	app := NewApp("s1")
	var got string
	app.SetSubmitHandler(func(text string) { got = text })

	for _, r := range "plan a trip" {
		send(app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	cmd := send(app, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("enter should produce a submit command")
	}
	msg := cmd()
	submitted, ok := msg.(MessageSubmittedMsg)
	if !ok || submitted.Text != "plan a trip" {
		t.Fatalf("cmd() = %#v", msg)
	}

	send(app, submitted)
	if got != "plan a trip" {
		t.Errorf("handler got %q", got)
	}
	if !app.State().Running {
		t.Error("state should be running after submit")
	}
	if app.input.Value() != "" {
		t.Error("input should be cleared")
	}
}

func TestApp_InputLockedWhileRunning(t *testing.T) {
	app := NewApp("s1")
	send(app, TurnStartedMsg{Message: "x"})
	send(app, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'a'}})
	if app.input.Value() != "" {
		t.Errorf("input = %q, want empty while running", app.input.Value())
	}
}

func TestApp_EscCancelsRunningTurn(t *testing.T) {
	app := NewApp("s1")
	cancelled := 0
	app.SetCancelHandler(func() { cancelled++ })

	send(app, TurnStartedMsg{})
	if cmd := send(app, tea.KeyMsg{Type: tea.KeyEsc}); cmd != nil {
		t.Error("esc during a turn should not quit")
	}
	if cancelled != 1 {
		t.Errorf("cancel called %d times, want 1", cancelled)
	}

	send(app, TurnDoneMsg{Result: &orchestrator.TurnResult{TurnIndex: 1, Cancelled: true}})
	if cmd := send(app, tea.KeyMsg{Type: tea.KeyEsc}); cmd == nil {
		t.Error("esc when idle should quit")
	}
}

func TestApp_ExitOnDone(t *testing.T) {
	app := NewApp("s1")
	app.SetExitOnDone(true)

	send(app, TurnStartedMsg{})
	cmd := send(app, TurnDoneMsg{Result: &orchestrator.TurnResult{TurnIndex: 1, ShouldClarify: true, ClarificationQuestion: "which city?"}})
	if cmd != nil {
		t.Error("should keep running while a question is open")
	}
	if !strings.Contains(app.View(), "which city?") {
		t.Error("view should show the question")
	}

	send(app, TurnStartedMsg{})
	cmd = send(app, TurnDoneMsg{Result: &orchestrator.TurnResult{TurnIndex: 2, Success: true, Summary: "booked"}})
	if cmd == nil {
		t.Error("should quit after an answered turn")
	}
}

func TestApp_ViewShowsTasksAndCost(t *testing.T) {
	app := NewApp("s1")
	send(app, tea.WindowSizeMsg{Width: 100, Height: 40})
	send(app, TurnStartedMsg{})
	for _, e := range turnEvents() {
		send(app, EventMsg{Event: e})
	}

	view := app.View()
	for _, want := range []string{"Session s1", "gather", "$0.0100", "2/2", "all done", "researcher"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestApp_ViewShowsError(t *testing.T) {
	app := NewApp("s1")
	send(app, TurnDoneMsg{Result: &orchestrator.TurnResult{Error: "planning failed: no agents"}})
	if !strings.Contains(app.View(), "planning failed") {
		t.Error("view should show the error")
	}
}
