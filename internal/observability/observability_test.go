package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)

	m.IncTurn(OutcomeCompleted)
	m.IncTurn(OutcomeCompleted)
	m.IncTurn(OutcomeCancelled)
	m.ObserveTask("researcher", "completed", "", 250*time.Millisecond)
	m.ObserveTask("researcher", "failed", "dependency_skipped", 0)
	m.AddCost(0.25)
	m.AddCost(-1)
	m.TurnStarted()
	m.TurnStarted()
	m.TurnFinished()
	m.SetSessions(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues(OutcomeCancelled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasks.WithLabelValues("researcher", "failed", "dependency_skipped")))
	assert.InDelta(t, 0.25, testutil.ToFloat64(m.costUSD), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeTurns))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.taskDuration))
}

func TestMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncTurn(OutcomeClarify)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.turns.WithLabelValues(OutcomeClarify)))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncTurn(OutcomeError)
		m.ObserveTask("a", "completed", "", time.Second)
		m.AddCost(1)
		m.TurnStarted()
		m.TurnFinished()
		m.SetSessions(1)
		m.IncDroppedEvent()
	})
}

func TestSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider()
	tp.RegisterSpanProcessor(recorder)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	_, ok := StartSpan(context.Background(), SpanDispatch, attribute.String(AttrSessionID, "s1"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), SpanPlan)
	EndSpan(failed, errors.New("cyclic"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanDispatch, spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
}

func TestSetupTracing_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()
	tp, err := SetupTracing(context.Background(), TracingConfig{})
	require.NoError(t, err)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, tp.Shutdown(context.Background()))

	var nilProvider *TracerProvider
	assert.NoError(t, nilProvider.Shutdown(context.Background()))
}

func TestSetupTracing_Enabled(t *testing.T) {
	before := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(before) })

	tp, err := SetupTracing(context.Background(), TracingConfig{Enabled: true, OTLPEndpoint: "127.0.0.1:1", Version: "test"})
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = tp.Shutdown(ctx)
}
