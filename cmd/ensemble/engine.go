package main

import (
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/ensemble/internal/api"
	"github.com/ShayCichocki/ensemble/internal/clarify"
	"github.com/ShayCichocki/ensemble/internal/config"
	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/internal/metrics"
	"github.com/ShayCichocki/ensemble/internal/observability"
	"github.com/ShayCichocki/ensemble/internal/orchestrator"
	"github.com/ShayCichocki/ensemble/internal/planner"
	"github.com/ShayCichocki/ensemble/internal/registry"
	"github.com/ShayCichocki/ensemble/internal/scheduler"
	"github.com/ShayCichocki/ensemble/internal/state"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// engine holds the wired components behind every command that runs turns.
type engine struct {
	cfg     *config.Config
	logger  *logging.DebugLogger
	db      *state.DB
	tracker *metrics.Tracker
	reg     *registry.Registry
	orch    *orchestrator.Orchestrator
	// client is nil in offline mode.
	client *api.Client
}

// openStore opens and migrates the configured database.
func openStore(cfg *config.Config) (*state.DB, error) {
	path := cfg.Storage.DBPath
	if path == "" {
		path = state.DefaultDBPath()
	}
	db, err := state.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// loadRegistry builds the agent roster from the configured file or defaults.
func loadRegistry(cfg *config.Config, logger *logging.DebugLogger) (*registry.Registry, error) {
	if cfg.Registry.Path == "" {
		reg := registry.NewWithDefaults()
		reg.SetDebugLog(logger.With("registry"))
		return reg, nil
	}
	reg := registry.New()
	reg.SetDebugLog(logger.With("registry"))
	if err := reg.Load(cfg.Registry.Path); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

// buildEngine wires config, storage, metrics, registry, planner, scheduler
// and orchestrator.
func buildEngine(cfg *config.Config) (_ *engine, err error) {
	logger, err := logging.NewDebugLogger(cfg.Logging.DebugLog)
	if err != nil {
		return nil, err
	}
	eng := &engine{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			eng.Close()
		}
	}()

	mode, ok := models.ParseExecutionMode(cfg.Scheduler.DefaultMode)
	if !ok {
		return nil, fmt.Errorf("%w: %q", orchestrator.ErrUnknownMode, cfg.Scheduler.DefaultMode)
	}

	if eng.db, err = openStore(cfg); err != nil {
		return nil, err
	}
	if eng.reg, err = loadRegistry(cfg, logger); err != nil {
		return nil, err
	}
	eng.tracker = newTracker(cfg, eng.db, eng.reg)

	model := anthropic.Model(cfg.Anthropic.Model)
	if !cfg.Anthropic.Offline {
		if err := config.RequireCredentials(cfg); err != nil {
			return nil, fmt.Errorf("%w (set ANTHROPIC_API_KEY or pass --offline)", err)
		}
		key, _ := config.GetAPIKey(cfg)
		eng.client, err = api.NewClient(api.ClientConfig{
			Model:         model,
			APIKey:        key,
			UseAWSBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:     cfg.Anthropic.AWSRegion,
			AWSProfile:    cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, fmt.Errorf("create API client: %w", err)
		}
	}

	var (
		drafter    planner.Drafter
		invoker    scheduler.Invoker
		clarifier  clarify.Clarifier = clarify.NewHeuristicClarifier(cfg.Clarifier.MinWords)
		summarizer orchestrator.Summarizer = orchestrator.DigestSummarizer{}
	)
	if eng.client != nil {
		drafter = api.NewDrafter(eng.client)
		invoker = api.NewAgentInvoker(eng.client, eng.reg, cfg.Anthropic.MaxTokens)
		summarizer = api.NewSummarizer(eng.client)
		if cfg.Clarifier.UseModel {
			clarifier = api.NewClarifier(eng.client)
		}
	} else {
		drafter = planner.NewKeywordDrafter()
		invoker = api.NewOfflineInvoker(model, 0)
	}

	plan := planner.New(eng.reg, drafter,
		planner.WithScoreSource(eng.tracker),
		planner.WithWindowDays(cfg.Metrics.WindowDays),
		planner.WithDebugLog(logger.With("planner")),
	)
	sched := scheduler.New(invoker,
		scheduler.WithRecorder(eng.tracker),
		scheduler.WithAgents(eng.reg),
		scheduler.WithDebugLog(logger.With("scheduler")),
	)
	eng.orch = orchestrator.New(orchestrator.RequiredConfig{
		Planner:   plan,
		Scheduler: sched,
	},
		orchestrator.WithClarifier(clarifier),
		orchestrator.WithSummarizer(summarizer),
		orchestrator.WithSessionStore(eng.db),
		orchestrator.WithLimits(eng.reg),
		orchestrator.WithDefaultMode(mode),
		orchestrator.WithTaskTimeout(cfg.Scheduler.TaskTimeout),
		orchestrator.WithSummaryTimeout(cfg.Scheduler.SummaryTimeout),
		orchestrator.WithSessionCacheSize(cfg.Sessions.CacheSize),
		orchestrator.WithMetrics(observability.Default()),
		orchestrator.WithLogger(logger.With("orchestrator")),
	)
	return eng, nil
}

// Close releases the database and log file.
func (e *engine) Close() error {
	var errs []error
	if e.db != nil {
		errs = append(errs, e.db.Close())
	}
	if e.logger != nil {
		errs = append(errs, e.logger.Close())
	}
	return errors.Join(errs...)
}
