package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/internal/observability"
	"github.com/ShayCichocki/ensemble/internal/planner"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// ErrSessionNotFound indicates a lookup for a session that was never seen.
var ErrSessionNotFound = errors.New("session not found")

// Orchestrator sequences clarification, planning, dispatch and
// summarization for every session it serves.
type Orchestrator struct {
	planner   Planner
	scheduler Scheduler
	opts      orchestratorOptions
	store     SessionStore
	hub       *subscriberHub

	// mu guards cache and active. Lock order: mu before session.mu.
	mu     sync.Mutex
	cache  *lru.Cache[string, *session]
	active map[string]*session
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) *Orchestrator {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.newID == nil {
		o.newID = func() string { return uuid.New().String() }
	}

	store := o.store
	if store == nil {
		store = NewMemorySessionStore()
	}

	// sessionCacheSize is always positive, so New cannot fail.
	cache, _ := lru.New[string, *session](o.sessionCacheSize)

	return &Orchestrator{
		planner:   req.Planner,
		scheduler: req.Scheduler,
		opts:      o,
		store:     store,
		hub:       newSubscriberHub(o.metrics.IncDroppedEvent),
		cache:     cache,
		active:    make(map[string]*session),
	}
}

// Dispatch runs one turn. Turn-level failures are reported in the result;
// the error is non-nil only when the turn was not accepted.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) (*TurnResult, error) {
	if req.SessionID == "" {
		return nil, ErrMissingSessionID
	}
	mode := req.Mode
	if mode == "" {
		mode = o.opts.defaultMode
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	s, err := o.find(ctx, req.SessionID, true)
	if err != nil {
		return nil, err
	}
	if err := o.beginTurn(s, req); err != nil {
		o.opts.metrics.IncTurn(observability.OutcomeRejected)
		s.mu.Lock()
		turn := s.state.TurnIndex
		s.mu.Unlock()
		return &TurnResult{SessionID: req.SessionID, TurnIndex: turn, Error: err.Error()}, err
	}
	defer o.endTurn(ctx, s)

	o.opts.metrics.TurnStarted()
	defer o.opts.metrics.TurnFinished()

	ctx, span := observability.StartSpan(ctx, observability.SpanDispatch,
		attribute.String(observability.AttrSessionID, req.SessionID),
		attribute.String(observability.AttrMode, string(mode)),
	)

	if req.MessageID == "" {
		req.MessageID = o.opts.newID()
	}
	result, outcome := o.runTurn(ctx, s, req, mode)

	o.opts.metrics.IncTurn(outcome)
	span.SetAttributes(
		attribute.Int(observability.AttrTurnIndex, result.TurnIndex),
		attribute.Int(observability.AttrTaskCount, len(result.Tasks)),
		attribute.Float64(observability.AttrCostUSD, result.CostUSD),
	)
	var spanErr error
	if result.Error != "" {
		spanErr = errors.New(result.Error)
	}
	observability.EndSpan(span, spanErr)

	o.opts.logger.Log("session %s turn %d finished: outcome=%s tasks=%d cost=$%.4f",
		req.SessionID, result.TurnIndex, outcome, len(result.Tasks), result.CostUSD)
	return result, nil
}

// runTurn walks the phases of one accepted turn.
func (o *Orchestrator) runTurn(ctx context.Context, s *session, req DispatchRequest, mode models.ExecutionMode) (*TurnResult, string) {
	history := o.history(s)

	intent := strings.TrimSpace(req.ConfirmedIntent)
	if intent == "" {
		intent = strings.TrimSpace(req.Message)
		if o.opts.clarifier != nil {
			cctx, span := observability.StartSpan(ctx, observability.SpanClarify)
			decision, err := o.opts.clarifier.Clarify(cctx, req.Message, history)
			observability.EndSpan(span, err)

			switch {
			case err != nil:
				// Clarification is advisory; continue to planning.
				o.emit(s, models.GraphEvent{
					Type:    models.EventSystem,
					Content: fmt.Sprintf("clarification unavailable, continuing without it: %v", err),
				})
			case decision.ShouldClarify:
				o.update(s, func(st *OrchestratorState) {
					st.ShouldClarify = true
					st.ClarificationQuestion = decision.Question
				})
				o.emit(s, models.GraphEvent{Type: models.EventAskUser, Content: decision.Question})
				return o.finishTurn(s, "", true, ""), observability.OutcomeClarify
			}
		}
	}

	if o.cancelled(s) {
		return o.cancelTurn(s), observability.OutcomeCancelled
	}

	o.setPhase(s, PhasePlanning)
	turnIndex := o.turnIndex(s)
	pctx, span := observability.StartSpan(ctx, observability.SpanPlan)
	plan, err := o.planner.Plan(pctx, intent, planner.PlanContext{
		SessionID: req.SessionID,
		TurnIndex: turnIndex,
		History:   history,
	})
	observability.EndSpan(span, err)
	if err != nil {
		msg := fmt.Sprintf("planning failed: %v", err)
		o.emit(s, models.GraphEvent{Type: models.EventSystem, Content: msg})
		return o.finishTurn(s, "", false, msg), observability.OutcomePlanningError
	}

	o.installPlan(s, plan)
	ids := make([]string, len(plan.Tasks))
	for i, t := range plan.Tasks {
		ids[i] = t.ID
	}
	o.emit(s, models.GraphEvent{
		Type:    models.EventTasksCreated,
		Content: plan.Rationale,
		Metadata: map[string]any{
			"task_count": len(plan.Tasks),
			"task_ids":   ids,
			"mode":       string(mode),
		},
	})

	o.setPhase(s, PhaseDispatching)
	var limits map[string]int
	if o.opts.limits != nil {
		limits = o.opts.limits.Limits()
	}
	sctx, span := observability.StartSpan(ctx, observability.SpanSchedule,
		attribute.String(observability.AttrMode, string(mode)),
		attribute.Int(observability.AttrTaskCount, len(plan.Tasks)),
	)
	outcome, err := o.scheduler.Run(sctx, plan.Tasks, scheduler.Options{
		Mode:        mode,
		Limits:      limits,
		TaskTimeout: o.opts.taskTimeout,
		Emit:        func(e models.GraphEvent) { o.emitTask(s, e) },
		Cancelled:   func() bool { return o.cancelled(s) },
		SessionID:   req.SessionID,
		MessageID:   req.MessageID,
	})
	observability.EndSpan(span, err)
	if err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		o.emit(s, models.GraphEvent{Type: models.EventSystem, Content: msg})
		return o.finishTurn(s, plan.Rationale, false, msg), observability.OutcomeError
	}

	o.update(s, func(st *OrchestratorState) {
		for i, t := range outcome.Tasks {
			st.Tasks[i] = t.Clone()
		}
		st.InFlight = make(map[string]*models.Task)
		st.Results = append([]models.Result(nil), outcome.Results...)
	})

	if outcome.Cancelled || !o.enterSummarizing(s) {
		return o.cancelTurn(s), observability.OutcomeCancelled
	}

	o.summarize(ctx, s, intent, outcome.Results)
	return o.finishTurn(s, plan.Rationale, true, ""), observability.OutcomeCompleted
}

func (o *Orchestrator) summarize(ctx context.Context, s *session, intent string, results []models.Result) {
	if o.opts.summarizer == nil || len(results) == 0 {
		return
	}
	if o.opts.summaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.summaryTimeout)
		defer cancel()
	}

	ctx, span := observability.StartSpan(ctx, observability.SpanSummarize)
	summary, err := o.opts.summarizer.Summarize(ctx, intent, results)
	observability.EndSpan(span, err)
	if err != nil {
		o.emit(s, models.GraphEvent{
			Type:    models.EventSystem,
			Content: fmt.Sprintf("summary unavailable: %v", err),
		})
		return
	}
	if summary == "" {
		return
	}
	o.update(s, func(st *OrchestratorState) { st.Summary = summary })
	o.emit(s, models.GraphEvent{Type: models.EventSummary, Content: summary})
}

func (o *Orchestrator) cancelTurn(s *session) *TurnResult {
	pending := 0
	o.update(s, func(st *OrchestratorState) {
		for _, t := range st.Tasks {
			if t.Status == models.TaskStatusPending {
				pending++
			}
		}
	})
	o.emit(s, models.GraphEvent{
		Type:     models.EventFlowCancelled,
		Content:  "turn cancelled",
		Metadata: map[string]any{"pending_tasks": pending},
	})
	res := o.finishTurn(s, "", false, "")
	res.Cancelled = true
	return res
}

// finishTurn records the turn in the session history and builds its result.
func (o *Orchestrator) finishTurn(s *session, rationale string, success bool, errMsg string) *TurnResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.state

	note := st.Summary
	if st.ShouldClarify {
		note = st.ClarificationQuestion
	}
	message := st.UserMessage
	if st.ConfirmedIntent != "" {
		message = st.ConfirmedIntent
	}
	st.History = append(st.History, clarify.Turn{UserMessage: message, Summary: note})

	tasks := make([]*models.Task, len(st.Tasks))
	for i, t := range st.Tasks {
		tasks[i] = t.Clone()
	}
	results := append(make([]models.Result, 0, len(st.Results)), st.Results...)

	return &TurnResult{
		Success:               success,
		SessionID:             st.SessionID,
		TurnIndex:             st.TurnIndex,
		ShouldClarify:         st.ShouldClarify,
		ClarificationQuestion: st.ClarificationQuestion,
		Summary:               st.Summary,
		Rationale:             rationale,
		Events:                s.turnEvents(),
		Tasks:                 tasks,
		Results:               results,
		CostUSD:               st.CostUSD,
		SessionCostUSD:        st.SessionCostUSD,
		Error:                 errMsg,
	}
}

// Cancel requests cancellation of the session's current turn. It reports
// whether the turn can still honour the request; once dispatch has finished
// and summarizing has begun, the turn runs to completion.
func (o *Orchestrator) Cancel(sessionID string) bool {
	s := o.lookup(sessionID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Phase == PhaseIdle || s.state.Phase == PhaseSummarizing {
		return false
	}
	if !s.state.IsCancelled {
		s.state.IsCancelled = true
		o.opts.logger.Log("session %s turn %d: cancellation requested", sessionID, s.state.TurnIndex)
	}
	return true
}

// Control applies an out-of-band action to a session.
func (o *Orchestrator) Control(_ context.Context, sessionID, userID, action string) (*Ack, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}
	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionCancel:
		ack := &Ack{SessionID: sessionID, Action: ActionCancel, Accepted: o.Cancel(sessionID)}
		if ack.Accepted {
			ack.Message = "cancellation requested"
		} else {
			ack.Message = "no cancellable turn in progress"
		}
		o.opts.logger.Log("control %s on %s by %q: accepted=%v", ActionCancel, sessionID, userID, ack.Accepted)
		return ack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// State returns a snapshot of a session's state.
func (o *Orchestrator) State(ctx context.Context, sessionID string) (*OrchestratorState, error) {
	s, err := o.find(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.snapshot(), nil
}

// Events returns a copy of a session's full event log.
func (o *Orchestrator) Events(ctx context.Context, sessionID string) ([]models.GraphEvent, error) {
	s, err := o.find(ctx, sessionID, false)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.GraphEvent(nil), s.state.Events...), nil
}

// Subscribe streams a session's events as they are appended. The returned
// function unsubscribes and closes the channel.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan models.GraphEvent, func()) {
	em, unsubscribe := o.hub.subscribe(sessionID, o.opts.subscriberBuffer)
	return em.Events(), unsubscribe
}

// find returns the session, loading it from the store if it is not cached.
// With create set, an unknown session is created.
func (o *Orchestrator) find(ctx context.Context, sessionID string, create bool) (*session, error) {
	if sessionID == "" {
		return nil, ErrMissingSessionID
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if s, ok := o.active[sessionID]; ok {
		return s, nil
	}
	if s, ok := o.cache.Get(sessionID); ok {
		return s, nil
	}

	rec, err := o.store.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if rec == nil && !create {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	s := newSession(sessionID, rec)
	o.cache.Add(sessionID, s)
	o.opts.metrics.SetSessions(o.cache.Len())
	return s, nil
}

// lookup returns an in-memory session without touching the store.
func (o *Orchestrator) lookup(sessionID string) *session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.active[sessionID]; ok {
		return s
	}
	if s, ok := o.cache.Peek(sessionID); ok {
		return s
	}
	return nil
}

func (o *Orchestrator) beginTurn(s *session, req DispatchRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.state
	if st.Phase != PhaseIdle {
		return ErrTurnInProgress
	}

	st.TurnIndex++
	st.Phase = PhaseClarifying
	st.UserMessage = req.Message
	st.ConfirmedIntent = req.ConfirmedIntent
	st.Tasks = nil
	st.InFlight = make(map[string]*models.Task)
	st.Results = nil
	st.Summary = ""
	st.CostUSD = 0
	st.ShouldClarify = false
	st.ClarificationQuestion = ""
	st.IsCancelled = false
	s.turnStart = len(st.Events)
	s.live = nil
	s.taskIndex = nil

	// Active sessions cannot be lost to cache eviction mid-turn.
	o.active[st.SessionID] = s
	return nil
}

// endTurn returns the session to idle and persists it.
func (o *Orchestrator) endTurn(ctx context.Context, s *session) {
	s.mu.Lock()
	s.state.Phase = PhaseIdle
	s.live = nil
	rec := s.record(o.opts.now())
	s.mu.Unlock()

	if err := o.store.SaveSession(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[orchestrator] warning: failed to persist session %s: %v", rec.SessionID, err)
		o.opts.logger.Log("persist session %s failed: %v", rec.SessionID, err)
	}

	o.mu.Lock()
	delete(o.active, rec.SessionID)
	o.cache.Add(rec.SessionID, s)
	o.opts.metrics.SetSessions(o.cache.Len())
	o.mu.Unlock()
}

func (o *Orchestrator) installPlan(s *session, plan *planner.TaskPlan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = make(map[string]*models.Task, len(plan.Tasks))
	s.taskIndex = make(map[string]int, len(plan.Tasks))
	s.state.Tasks = make([]*models.Task, len(plan.Tasks))
	for i, t := range plan.Tasks {
		s.live[t.ID] = t
		s.taskIndex[t.ID] = i
		s.state.Tasks[i] = t.Clone()
	}
}

// emitTask handles a scheduler event. It runs on the scheduler's
// coordinator goroutine, the only writer of the live tasks, so cloning them
// here cannot race.
func (o *Orchestrator) emitTask(s *session, e models.GraphEvent) {
	o.appendEvent(s, e, func(st *OrchestratorState) {
		live := s.live[e.TaskID]
		idx, ok := s.taskIndex[e.TaskID]
		if live == nil || !ok {
			return
		}
		clone := live.Clone()
		st.Tasks[idx] = clone

		switch e.Type {
		case models.EventTaskStart:
			st.InFlight[e.TaskID] = clone
		case models.EventTaskDone:
			delete(st.InFlight, e.TaskID)
			cost := metaFloat(e.Metadata, scheduler.MetaCostUSD)
			st.CostUSD += cost
			st.SessionCostUSD += cost
		}
	})

	if e.Type == models.EventTaskDone {
		status, _ := e.Metadata[scheduler.MetaStatus].(string)
		kind, _ := e.Metadata[scheduler.MetaFailureKind].(string)
		ms, _ := e.Metadata[scheduler.MetaDurationMs].(int64)
		o.opts.metrics.ObserveTask(e.AgentID, status, kind, time.Duration(ms)*time.Millisecond)
		o.opts.metrics.AddCost(metaFloat(e.Metadata, scheduler.MetaCostUSD))
	}
}

func (o *Orchestrator) emit(s *session, e models.GraphEvent) {
	o.appendEvent(s, e, nil)
}

// appendEvent assigns identity to e, applies mutate and appends e under one lock,
// then publishes e to live subscribers.
func (o *Orchestrator) appendEvent(s *session, e models.GraphEvent, mutate func(*OrchestratorState)) {
	s.mu.Lock()
	if mutate != nil {
		mutate(&s.state)
	}
	e.ID = o.opts.newID()
	e.Seq = s.nextSeq()
	if e.Timestamp.IsZero() {
		e.Timestamp = o.opts.now()
	}
	s.state.Events = append(s.state.Events, e)
	sessionID := s.state.SessionID
	s.mu.Unlock()

	o.opts.logger.Log("session %s event #%d %s task=%s agent=%s", sessionID, e.Seq, e.Type, e.TaskID, e.AgentID)
	o.hub.publish(sessionID, e)
}

func (o *Orchestrator) update(s *session, fn func(*OrchestratorState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (o *Orchestrator) setPhase(s *session, p Phase) {
	o.update(s, func(st *OrchestratorState) { st.Phase = p })
}

// enterSummarizing moves to PhaseSummarizing unless cancellation was already
// requested. Check and transition share one lock so Cancel cannot slip in
// between them.
func (o *Orchestrator) enterSummarizing(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsCancelled {
		return false
	}
	s.state.Phase = PhaseSummarizing
	return true
}

func (o *Orchestrator) cancelled(s *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.IsCancelled
}

func (o *Orchestrator) turnIndex(s *session) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TurnIndex
}

func (o *Orchestrator) history(s *session) []clarify.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]clarify.Turn(nil), s.state.History...)
}

func metaFloat(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
