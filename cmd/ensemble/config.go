package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/ensemble/internal/config"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialise configuration",
	Long: `Display the effective configuration.

Configuration is read from ~/.config/ensemble/config.yaml, then from the
nearest .ensemble.yaml in the working directory or its parents, then from
ENSEMBLE_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeConfigYAML(cmd.OutOrStdout(), cfg)
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file locations",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "user:    %s\n", config.GetUserConfigPath())
		project := config.GetProjectConfigPath()
		if project == "" {
			project = "(none)"
		}
		fmt.Fprintf(out, "project: %s\n", project)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default user config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.GetUserConfigPath()
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.SaveTo(config.Default(), path); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configInitCmd)
}

// writeConfigYAML prints the effective configuration with the API key masked.
func writeConfigYAML(out io.Writer, cfg *config.Config) error {
	key := "(not set)"
	if k, err := config.GetAPIKey(cfg); err == nil && k != "" {
		key = config.MaskAPIKey(k)
	}
	doc := map[string]any{
		"anthropic": map[string]any{
			"api_key":     key,
			"key_source":  string(config.GetAPIKeySource(cfg)),
			"model":       cfg.Anthropic.Model,
			"use_bedrock": cfg.Anthropic.UseBedrock,
			"aws_region":  cfg.Anthropic.AWSRegion,
			"max_tokens":  cfg.Anthropic.MaxTokens,
			"offline":     cfg.Anthropic.Offline,
		},
		"scheduler": map[string]any{
			"default_mode":    cfg.Scheduler.DefaultMode,
			"task_timeout":    cfg.Scheduler.TaskTimeout.String(),
			"summary_timeout": cfg.Scheduler.SummaryTimeout.String(),
		},
		"metrics": map[string]any{
			"window_days": cfg.Metrics.WindowDays,
			"weights": map[string]any{
				"success": cfg.Metrics.Weights.Success,
				"speed":   cfg.Metrics.Weights.Speed,
				"rating":  cfg.Metrics.Weights.Rating,
			},
			"speed_cap_ms":   cfg.Metrics.SpeedCapMs,
			"neutral_rating": cfg.Metrics.NeutralRating,
			"retention":      cfg.Metrics.Retention.String(),
		},
		"clarifier": map[string]any{
			"min_words": cfg.Clarifier.MinWords,
			"use_model": cfg.Clarifier.UseModel,
		},
		"server": map[string]any{
			"addr":         cfg.Server.Addr(),
			"enable_cors":  cfg.Server.EnableCORS,
			"cors_origins": cfg.Server.CORSOrigins,
		},
		"storage":  map[string]any{"db_path": orDefault(cfg.Storage.DBPath, "(default)")},
		"registry": map[string]any{"path": orDefault(cfg.Registry.Path, "(built-in)"), "watch": cfg.Registry.Watch},
		"sessions": map[string]any{"cache_size": cfg.Sessions.CacheSize},
		"logging":  map[string]any{"debug_log": cfg.Logging.DebugLog},
		"tracing": map[string]any{
			"enabled":       cfg.Tracing.Enabled,
			"otlp_endpoint": cfg.Tracing.OTLPEndpoint,
			"sample_rate":   strconv.FormatFloat(cfg.Tracing.SampleRate, 'f', -1, 64),
		},
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
