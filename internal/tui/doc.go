// Package tui provides the terminal interface for ensemble's run command.
//
// The App shows one session at a time: the planned task graph with live
// status, the running cost, recent activity and the turn summary. An input
// field at the bottom sends the next message, which is how clarifying
// questions get answered.
//
// Usage:
//
//	app := tui.NewApp(sessionID)
//	app.SetSubmitHandler(func(text string) { go runTurn(text) })
//	app.SetCancelHandler(func() { orch.Cancel(sessionID) })
//	program := tui.NewProgram(app)
//
//	// Forward orchestrator events
//	program.Send(tui.EventMsg{Event: e})
//
//	// Signal the end of a turn
//	program.Send(tui.TurnDoneMsg{Result: result, Err: err})
package tui
