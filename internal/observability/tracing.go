package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceScope is the instrumentation scope for every span this module starts.
const TraceScope = "ensemble"

// Span names.
const (
	SpanDispatch  = "ensemble.turn.dispatch"
	SpanClarify   = "ensemble.turn.clarify"
	SpanPlan      = "ensemble.turn.plan"
	SpanSchedule  = "ensemble.turn.schedule"
	SpanSummarize = "ensemble.turn.summarize"
)

// Span attribute keys.
const (
	AttrSessionID = "ensemble.session_id"
	AttrTurnIndex = "ensemble.turn_index"
	AttrMode      = "ensemble.mode"
	AttrTaskCount = "ensemble.task_count"
	AttrCostUSD   = "ensemble.cost_usd"
	AttrStatus    = "ensemble.status"
)

// StartSpan starts a span under the module's tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(TraceScope).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err (if any) on span, sets its status and ends it.
func EndSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrStatus, "error"))
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.String(AttrStatus, "success"))
	}
	span.End()
}
