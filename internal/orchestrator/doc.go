// Package orchestrator runs one user turn of a collaborative session.
//
// Each turn moves through the phases idle, clarifying, planning, dispatching,
// summarizing and back to idle:
//   - Clarifying: a Clarifier may stop the turn with one ask_user event.
//     A request carrying a ConfirmedIntent skips this phase.
//   - Planning: the Planner produces a validated task graph. Failures end
//     the turn with a system event.
//   - Dispatching: the Scheduler runs the graph. Cancel is observed at the
//     next readiness scan, after which a single flow_cancelled event ends
//     the turn.
//   - Summarizing: a Summarizer condenses results. Failure omits the summary.
//
// The per-session event log is append-only and authoritative. Every event
// gets a session-wide sequence number. Session state is persisted through a
// SessionStore at turn boundaries only.
//
// Example usage:
//
//	o := orchestrator.New(orchestrator.RequiredConfig{
//		Planner:   planner.New(reg, nil),
//		Scheduler: scheduler.New(invoker),
//	}, orchestrator.WithLimits(reg))
//	res, err := o.Dispatch(ctx, orchestrator.DispatchRequest{
//		SessionID: "s1",
//		Message:   "Research Go HTTP routers and summarize the tradeoffs",
//	})
package orchestrator
