package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ensemble/internal/config"
	"github.com/ShayCichocki/ensemble/internal/logging"
	"github.com/ShayCichocki/ensemble/internal/metrics"
	"github.com/ShayCichocki/ensemble/internal/state"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

var (
	statsWindow int
	rankLimit   int
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		reg, err := loadRegistry(cfg, logging.NopLogger())
		if err != nil {
			return err
		}
		printAgents(cmd.OutOrStdout(), reg.ListCapabilities())
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <agent-id>",
	Short: "Show an agent's statistics over a trailing window",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(func(ctx context.Context, cfg *config.Config, t *metrics.Tracker) error {
			stats, err := t.GetStats(ctx, args[0], windowOr(cfg))
			if err != nil {
				return err
			}
			if stats == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "No metrics for %s in the last %d days.\n", args[0], windowOr(cfg))
				return nil
			}
			printStats(cmd.OutOrStdout(), stats, metrics.Score(stats, t.Weights()))
			return nil
		})
	},
}

var topCmd = &cobra.Command{
	Use:   "top",
	Short: "Rank agents by composite score",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(func(ctx context.Context, cfg *config.Config, t *metrics.Tracker) error {
			rankings, err := t.GetTopPerformers(ctx, rankLimit, windowOr(cfg))
			if err != nil {
				return err
			}
			printRankings(cmd.OutOrStdout(), rankings)
			return nil
		})
	},
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Compare agents' 7-day and 14-day scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withTracker(func(ctx context.Context, _ *config.Config, t *metrics.Tracker) error {
			trends, err := t.GetTrendingAgents(ctx, rankLimit)
			if err != nil {
				return err
			}
			printTrends(cmd.OutOrStdout(), trends)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().IntVar(&statsWindow, "window", 0, "Window in days (default: metrics.window_days)")
	topCmd.Flags().IntVar(&statsWindow, "window", 0, "Window in days (default: metrics.window_days)")
	topCmd.Flags().IntVar(&rankLimit, "limit", 5, "Maximum agents to show (0 for all)")
	trendingCmd.Flags().IntVar(&rankLimit, "limit", 5, "Maximum agents to show (0 for all)")
}

// withTracker opens the metrics store for read-only commands.
func withTracker(fn func(ctx context.Context, cfg *config.Config, t *metrics.Tracker) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	reg, err := loadRegistry(cfg, logging.NopLogger())
	if err != nil {
		return err
	}
	return fn(context.Background(), cfg, newTracker(cfg, db, reg))
}

func newTracker(cfg *config.Config, db *state.DB, roster metrics.Roster) *metrics.Tracker {
	return metrics.NewTracker(db,
		metrics.WithWeights(cfg.Metrics.ScoreWeights()),
		metrics.WithRoster(roster),
	)
}

func windowOr(cfg *config.Config) int {
	if statsWindow > 0 {
		return statsWindow
	}
	return cfg.Metrics.WindowDays
}

func printAgents(out io.Writer, caps []models.AgentCapability) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTASK TYPES\tLIMIT\tSKILLS")
	for _, c := range caps {
		types := make([]string, len(c.TaskTypes))
		for i, t := range c.TaskTypes {
			types[i] = string(t)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", c.ID, c.Name, strings.Join(types, ","), c.ConcurrencyLimit(), strings.Join(c.Skills, ", "))
	}
	w.Flush()
}

func printStats(out io.Writer, s *models.AgentStats, score float64) {
	bold := color.New(color.Bold)
	bold.Fprintf(out, "%s", s.AgentID)
	fmt.Fprintf(out, "  %s to %s\n\n", s.WindowStart.Format("2006-01-02"), s.WindowEnd.Format("2006-01-02"))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Score:\t%.3f\n", score)
	fmt.Fprintf(w, "Requests:\t%d (%d ok, %d failed)\n", s.TotalRequests, s.SuccessfulRequests, s.FailedRequests)
	fmt.Fprintf(w, "Success rate:\t%s\n", rateColor(s.SuccessRate).Sprintf("%.1f%%", s.SuccessRate))
	fmt.Fprintf(w, "Response ms:\tavg %.0f  min %d  max %d\n", s.AvgResponseTime, s.MinResponseTime, s.MaxResponseTime)
	fmt.Fprintf(w, "Percentiles:\tp50 %d  p95 %d  p99 %d\n", s.P50ResponseTime, s.P95ResponseTime, s.P99ResponseTime)
	fmt.Fprintf(w, "Tokens:\t%d (avg %.0f)\n", s.TotalTokens, s.AvgTokens)
	fmt.Fprintf(w, "Cost:\t$%.4f (avg $%.4f)\n", s.TotalCostUSD, s.AvgCostUSD)
	if s.AvgRating != nil {
		fmt.Fprintf(w, "Rating:\t%.2f from %d ratings\n", *s.AvgRating, s.RatingCount)
	} else {
		fmt.Fprintf(w, "Rating:\tnone\n")
	}
	w.Flush()
}

func printRankings(out io.Writer, rankings []models.AgentRanking) {
	if len(rankings) == 0 {
		fmt.Fprintln(out, "No agent metrics in the window.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tAGENT\tSCORE\tREQUESTS\tSUCCESS\tP95 MS")
	for i, r := range rankings {
		if r.Stats == nil {
			fmt.Fprintf(w, "%d\t%s\t%.3f\t-\t-\t-\n", i+1, r.AgentID, r.Score)
			continue
		}
		fmt.Fprintf(w, "%d\t%s\t%.3f\t%d\t%.1f%%\t%d\n", i+1, r.AgentID, r.Score, r.Stats.TotalRequests, r.Stats.SuccessRate, r.Stats.P95ResponseTime)
	}
	w.Flush()
}

func printTrends(out io.Writer, trends []models.AgentTrend) {
	if len(trends) == 0 {
		fmt.Fprintln(out, "No agents with metrics in both windows.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\t7D\t14D\tDELTA\tTREND")
	for _, t := range trends {
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%+.3f\t%s\n", t.AgentID, t.Score7d, t.Score14d, t.Delta, trendLabel(t.Trend))
	}
	w.Flush()
}

func trendLabel(t models.Trend) string {
	switch t {
	case models.TrendUp:
		return color.GreenString("▲ up")
	case models.TrendDown:
		return color.RedString("▼ down")
	default:
		return "= stable"
	}
}

// rateColor picks a colour for a 0..100 success rate.
func rateColor(rate float64) *color.Color {
	switch {
	case rate >= 90:
		return color.New(color.FgGreen)
	case rate >= 60:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
