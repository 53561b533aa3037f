package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/ensemble/internal/config"
)

var (
	configPath   string
	offlineFlag  bool
	debugLogFlag string
)

var rootCmd = &cobra.Command{
	Use:   "ensemble",
	Short: "Multi-agent orchestration engine",
	Long: `ensemble turns a request into a graph of tasks and runs them across a
roster of specialised agents.

Each message goes through clarification, planning and dispatch. Tasks run
sequentially, in parallel, or as soon as their dependencies finish, within
per-agent concurrency limits. Every invocation is recorded so agents can be
ranked by success rate, speed and user rating.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user and project config)")
	rootCmd.PersistentFlags().BoolVar(&offlineFlag, "offline", false, "Answer tasks locally without calling the API")
	rootCmd.PersistentFlags().StringVar(&debugLogFlag, "debug-log", "", "Write verbose logs to this file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(topCmd)
	rootCmd.AddCommand(trendingCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads configuration and applies global flag overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if offlineFlag {
		cfg.Anthropic.Offline = true
	}
	if debugLogFlag != "" {
		cfg.Logging.DebugLog = debugLogFlag
	}
	return cfg, nil
}
