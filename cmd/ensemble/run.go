package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	runSessionID string
	runUserID    string
	runMode      string
	runPlainFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Send a message and watch the agents work",
	Long: `Send a message to a session and follow the turn as it runs.

Without a message, starts an interactive session. The full-screen view is
used when stdout is a terminal; --plain prints events as lines instead.
Clarifying questions are answered inline and the answer is sent as the
confirmed intent for the next turn.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "Session ID (default: new session)")
	runCmd.Flags().StringVar(&runUserID, "user", "", "User ID recorded on the turn (default: $USER)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "Execution mode: sequential, parallel or dynamic")
	runCmd.Flags().BoolVar(&runPlainFlag, "plain", false, "Print events as lines instead of the full-screen view")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// An empty mode leaves the choice to the configured default.
	var mode models.ExecutionMode
	if runMode != "" {
		m, ok := models.ParseExecutionMode(runMode)
		if !ok {
			return fmt.Errorf("%w: %q", orchestrator.ErrUnknownMode, runMode)
		}
		mode = m
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	sess := &turnSession{
		orch:      eng.orch,
		sessionID: runSessionID,
		userID:    runUserID,
		mode:      mode,
	}
	if sess.sessionID == "" {
		sess.sessionID = uuid.NewString()
	}
	if sess.userID == "" {
		sess.userID = os.Getenv("USER")
	}
	message := strings.TrimSpace(strings.Join(args, " "))

	if !runPlainFlag && isatty.IsTerminal(os.Stdout.Fd()) {
		return runWithTUI(sess, message)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return runPlain(ctx, sess, message, os.Stdin, cmd.OutOrStdout())
}

// turnSession carries what successive turns of one session share.
type turnSession struct {
	orch      *orchestrator.Orchestrator
	sessionID string
	userID    string
	mode      models.ExecutionMode

	// pending is the message that drew the open clarifying question.
	pending string
}

// request builds the next dispatch request. An answer to an open question
// is sent as the confirmed intent together with the original message.
func (s *turnSession) request(text string) orchestrator.DispatchRequest {
	req := orchestrator.DispatchRequest{
		SessionID: s.sessionID,
		UserID:    s.userID,
		Message:   text,
		Mode:      s.mode,
	}
	if s.pending != "" {
		req.ConfirmedIntent = s.pending + "\n\n" + text
	}
	return req
}

// settle records whether the finished turn left a question open.
func (s *turnSession) settle(text string, res *orchestrator.TurnResult) {
	switch {
	case res == nil:
	case res.ShouldClarify:
		if s.pending == "" {
			s.pending = text
		}
	default:
		s.pending = ""
	}
}

// dispatch runs one turn while forwarding its events to emit in order.
// Events the subscription missed after the last one seen are taken from the
// result.
func (s *turnSession) dispatch(ctx context.Context, text string, emit func(models.GraphEvent)) (*orchestrator.TurnResult, error) {
	events, unsubscribe := s.orch.Subscribe(s.sessionID)
	var lastSeq int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			emit(e)
			lastSeq = e.Seq
		}
	}()

	res, err := s.orch.Dispatch(ctx, s.request(text))
	unsubscribe()
	<-done

	if res != nil {
		for _, e := range res.Events {
			if e.Seq > lastSeq {
				emit(e)
			}
		}
	}
	if err == nil {
		s.settle(text, res)
	}
	return res, err
}

// runPlain runs the turn for message, then keeps reading from in while a
// question is open. With no message it reads turns from in until EOF.
func runPlain(ctx context.Context, sess *turnSession, message string, in io.Reader, out io.Writer) error {
	p := newEventPrinter(out)
	interactive := message == ""
	scanner := bufio.NewScanner(in)

	// Interrupts cancel the running turn; the turn itself finishes cleanly.
	turnCtx := context.WithoutCancel(ctx)
	go func() {
		<-ctx.Done()
		sess.orch.Cancel(sess.sessionID)
	}()

	fmt.Fprintf(out, "%s %s\n", color.New(color.Faint).Sprint("session"), sess.sessionID)
	for {
		if message == "" {
			if ctx.Err() != nil {
				return nil
			}
			if sess.pending != "" {
				fmt.Fprint(out, color.YellowString("answer> "))
			} else {
				fmt.Fprint(out, color.CyanString("> "))
			}
			if !scanner.Scan() {
				fmt.Fprintln(out)
				return scanner.Err()
			}
			message = strings.TrimSpace(scanner.Text())
			if message == "" {
				continue
			}
		}

		res, err := sess.dispatch(turnCtx, message, p.print)
		message = ""
		if err != nil {
			if errors.Is(err, orchestrator.ErrTurnInProgress) {
				p.warn("a turn is already running for this session")
				continue
			}
			return err
		}
		p.result(res)
		if !interactive && sess.pending == "" {
			return nil
		}
	}
}

// eventPrinter renders graph events as coloured lines.
type eventPrinter struct {
	out io.Writer

	plan    *color.Color
	start   *color.Color
	ok      *color.Color
	failed  *color.Color
	skipped *color.Color
	ask     *color.Color
	system  *color.Color
	faint   *color.Color
	bold    *color.Color
}

func newEventPrinter(out io.Writer) *eventPrinter {
	return &eventPrinter{
		out:     out,
		plan:    color.New(color.FgCyan, color.Bold),
		start:   color.New(color.FgBlue),
		ok:      color.New(color.FgGreen),
		failed:  color.New(color.FgRed, color.Bold),
		skipped: color.New(color.FgYellow),
		ask:     color.New(color.FgYellow, color.Bold),
		system:  color.New(color.FgMagenta),
		faint:   color.New(color.Faint),
		bold:    color.New(color.Bold),
	}
}

func (p *eventPrinter) print(e models.GraphEvent) {
	switch e.Type {
	case models.EventTasksCreated:
		n := metaCount(e.Metadata["task_count"])
		p.plan.Fprintf(p.out, "▸ plan (%d tasks): %s\n", n, e.Content)
	case models.EventTaskStart:
		p.start.Fprintf(p.out, "  → [%s] %s\n", e.AgentID, e.Content)
	case models.EventAgentReply:
		p.faint.Fprintf(p.out, "    %s\n", firstLine(e.Content, 100))
	case models.EventTaskDone:
		status, _ := e.Metadata[scheduler.MetaStatus].(string)
		kind, _ := e.Metadata[scheduler.MetaFailureKind].(string)
		cost, _ := e.Metadata[scheduler.MetaCostUSD].(float64)
		switch {
		case kind == string(models.FailureDependencySkipped):
			p.skipped.Fprintf(p.out, "  ↷ [%s] skipped: %s\n", e.AgentID, firstLine(e.Content, 80))
		case status == string(models.TaskStatusFailed):
			p.failed.Fprintf(p.out, "  ✗ [%s] %s\n", e.AgentID, firstLine(e.Content, 80))
		default:
			p.ok.Fprintf(p.out, "  ✓ [%s] done %s\n", e.AgentID, p.faint.Sprintf("$%.4f", cost))
		}
	case models.EventAskUser:
		p.ask.Fprintf(p.out, "? %s\n", e.Content)
	case models.EventSummary:
		fmt.Fprintln(p.out)
		p.bold.Fprintln(p.out, "Summary")
		fmt.Fprintln(p.out, e.Content)
	case models.EventFlowCancelled:
		p.skipped.Fprintf(p.out, "■ cancelled: %s\n", e.Content)
	case models.EventSystem:
		p.system.Fprintf(p.out, "! %s\n", e.Content)
	}
}

func (p *eventPrinter) result(res *orchestrator.TurnResult) {
	if res == nil || res.ShouldClarify {
		return
	}
	line := fmt.Sprintf("turn %d: %d tasks, $%.4f (session $%.4f)",
		res.TurnIndex, len(res.Tasks), res.CostUSD, res.SessionCostUSD)
	if res.Success {
		p.faint.Fprintln(p.out, line)
		return
	}
	if res.Error != "" {
		line += ": " + res.Error
	}
	p.failed.Fprintln(p.out, line)
}

func (p *eventPrinter) warn(msg string) {
	p.skipped.Fprintf(p.out, "! %s\n", msg)
}

// metaCount reads a count stored in-process as int or decoded from JSON.
func metaCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max-3] + "..."
	}
	return s
}
