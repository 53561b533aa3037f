package orchestrator

import (
	"time"

	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/internal/observability"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// RequiredConfig contains the collaborators every Orchestrator needs.
type RequiredConfig struct {
	// Planner turns an intent into a validated task plan.
	Planner Planner
	// Scheduler runs the plan.
	Scheduler Scheduler
}

// Option configures an Orchestrator. Use With* functions to create Options.
type Option func(*orchestratorOptions)

// orchestratorOptions holds all optional configuration.
type orchestratorOptions struct {
	clarifier        clarify.Clarifier
	summarizer       Summarizer
	store            SessionStore
	limits           LimitSource
	defaultMode      models.ExecutionMode
	taskTimeout      time.Duration
	summaryTimeout   time.Duration
	sessionCacheSize int
	subscriberBuffer int
	metrics          *observability.Metrics
	logger           *logging.DebugLogger
	now              func() time.Time
	newID            func() string
}

func defaultOptions() orchestratorOptions {
	return orchestratorOptions{
		clarifier:        clarify.NewHeuristicClarifier(clarify.DefaultMinWords),
		summarizer:       DigestSummarizer{},
		defaultMode:      models.DefaultExecutionMode,
		sessionCacheSize: DefaultSessionCacheSize,
		subscriberBuffer: 256,
		now:              time.Now,
	}
}

// WithClarifier sets the clarifier. Nil disables clarification.
func WithClarifier(c clarify.Clarifier) Option {
	return func(o *orchestratorOptions) { o.clarifier = c }
}

// WithSummarizer sets the summarizer. Nil disables summaries.
func WithSummarizer(s Summarizer) Option {
	return func(o *orchestratorOptions) { o.summarizer = s }
}

// WithSessionStore sets where session state is persisted at turn boundaries.
func WithSessionStore(s SessionStore) Option {
	return func(o *orchestratorOptions) { o.store = s }
}

// WithLimits sets the source of per-agent concurrency limits.
func WithLimits(l LimitSource) Option {
	return func(o *orchestratorOptions) { o.limits = l }
}

// WithDefaultMode sets the execution mode used when a request names none.
func WithDefaultMode(m models.ExecutionMode) Option {
	return func(o *orchestratorOptions) {
		if m.Valid() {
			o.defaultMode = m
		}
	}
}

// WithTaskTimeout bounds every agent invocation.
func WithTaskTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.taskTimeout = d }
}

// WithSummaryTimeout bounds the summarizer call.
func WithSummaryTimeout(d time.Duration) Option {
	return func(o *orchestratorOptions) { o.summaryTimeout = d }
}

// WithSessionCacheSize sets how many sessions stay in memory.
func WithSessionCacheSize(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.sessionCacheSize = n
		}
	}
}

// WithSubscriberBuffer sets the channel size handed to live subscribers.
func WithSubscriberBuffer(n int) Option {
	return func(o *orchestratorOptions) {
		if n > 0 {
			o.subscriberBuffer = n
		}
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *orchestratorOptions) { o.metrics = m }
}

// WithLogger sets the debug logger.
func WithLogger(l *logging.DebugLogger) Option {
	return func(o *orchestratorOptions) { o.logger = l }
}

// WithClock sets the time source for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *orchestratorOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides event and message id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *orchestratorOptions) { o.newID = fn }
}
