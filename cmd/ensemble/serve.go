package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/ensemble/internal/observability"
	"github.com/ShayCichocki/ensemble/internal/registry"
	"github.com/ShayCichocki/ensemble/internal/server"
	"github.com/ShayCichocki/ensemble/internal/version"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP and websocket API",
	Long: `Start the API server.

Routes:
  POST /api/sessions/:id/turns     run a turn
  POST /api/sessions/:id/control   cancel a running turn
  GET  /api/sessions/:id           session state
  GET  /api/sessions/:id/events    event log
  GET  /api/sessions/:id/stream    live events over a websocket
  GET  /api/agents                 registered agents
  GET  /api/agents/:id/stats       agent statistics
  GET  /api/agents/top             top performers
  GET  /api/agents/trending        trending agents
  POST /api/metrics                record an external metric
  GET  /metrics                    Prometheus metrics
  GET  /health                     liveness`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		Version:      version.Get(),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Printf("[tracing] warning: shutdown: %v", err)
		}
	}()

	srvCfg := server.DefaultConfig()
	srvCfg.Host = cfg.Server.Host
	srvCfg.Port = cfg.Server.Port
	srvCfg.EnableCORS = cfg.Server.EnableCORS
	srvCfg.CORSOrigins = cfg.Server.CORSOrigins
	srvCfg.Debug = cfg.Server.Debug
	srvCfg.DefaultWindowDays = cfg.Metrics.WindowDays
	srv := server.New(server.Deps{
		Orchestrator: eng.orch,
		Metrics:      eng.tracker,
		Agents:       eng.reg,
		Logger:       eng.logger.With("server"),
	}, srvCfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if cfg.Registry.Watch && cfg.Registry.Path != "" {
		w, err := registry.Watch(eng.reg, cfg.Registry.Path, func(err error) {
			if err != nil {
				log.Printf("[registry] warning: reload failed, keeping previous roster: %v", err)
				return
			}
			log.Printf("[registry] reloaded %d agents", eng.reg.Count())
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return w.Close()
		})
	}

	if cfg.Metrics.Retention > 0 {
		g.Go(func() error {
			return purgeLoop(gctx, eng.db, cfg.Metrics.Retention, time.Hour)
		})
	}

	return g.Wait()
}

// retentionStore is the part of the database purgeLoop needs.
type retentionStore interface {
	PurgeMetrics(ctx context.Context, olderThan time.Duration) (int64, error)
	PurgeOldSessions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// purgeLoop deletes metrics and idle sessions older than retention, once at
// start and then every interval.
func purgeLoop(ctx context.Context, store retentionStore, retention, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := store.PurgeMetrics(ctx, retention); err != nil {
			log.Printf("[retention] warning: purge metrics: %v", err)
		} else if n > 0 {
			log.Printf("[retention] removed %d metric records", n)
		}
		if n, err := store.PurgeOldSessions(ctx, retention); err != nil {
			log.Printf("[retention] warning: purge sessions: %v", err)
		} else if n > 0 {
			log.Printf("[retention] removed %d sessions", n)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
