package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/ShayCichocki/ensemble/internal/tui"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// runWithTUI runs the session in the full-screen view.
func runWithTUI(sess *turnSession, message string) (retErr error) {
	// Log output corrupts the display while the TUI is active.
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in TUI: %v", r)
		}
	}()

	app := tui.NewApp(sess.sessionID)
	program := tui.NewProgram(app)

	// turns serialises dispatches so the shared session state stays consistent.
	var turns sync.Mutex
	var wg sync.WaitGroup
	app.SetSubmitHandler(func(text string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turns.Lock()
			defer turns.Unlock()
			res, err := sess.dispatch(context.Background(), text, func(e models.GraphEvent) {
				program.Send(tui.EventMsg{Event: e})
			})
			program.Send(tui.TurnDoneMsg{Result: res, Err: err})
		}()
	})
	app.SetCancelHandler(func() {
		sess.orch.Cancel(sess.sessionID)
	})

	if message != "" {
		go program.Send(tui.MessageSubmittedMsg{Text: message})
	}

	_, err := program.Run()
	// A turn still running after quit was cancelled by the key handler.
	sess.orch.Cancel(sess.sessionID)
	wg.Wait()
	return err
}
