// Package config handles configuration loading and management for ensemble.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/ensemble/internal/metrics"
	"github.com/ShayCichocki/ensemble/pkg/models"
)

// ProjectConfigName is the per-project override file searched for upward
// from the working directory.
const ProjectConfigName = ".ensemble.yaml"

// Config holds all configuration for ensemble.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Clarifier ClarifierConfig `mapstructure:"clarifier"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
	// MaxTokens caps each agent reply.
	MaxTokens int64 `mapstructure:"max_tokens"`
	// Offline answers tasks locally instead of calling the API.
	Offline bool `mapstructure:"offline"`
}

// SchedulerConfig holds dispatch settings.
type SchedulerConfig struct {
	DefaultMode    string        `mapstructure:"default_mode"`
	TaskTimeout    time.Duration `mapstructure:"task_timeout"`
	SummaryTimeout time.Duration `mapstructure:"summary_timeout"`
}

// MetricsConfig holds scoring settings.
type MetricsConfig struct {
	WindowDays    int           `mapstructure:"window_days"`
	Weights       WeightsConfig `mapstructure:"weights"`
	SpeedCapMs    float64       `mapstructure:"speed_cap_ms"`
	NeutralRating float64       `mapstructure:"neutral_rating"`
	// Retention bounds how long metric records are kept; zero keeps them forever.
	Retention time.Duration `mapstructure:"retention"`
}

// WeightsConfig holds the composite score weights.
type WeightsConfig struct {
	Success float64 `mapstructure:"success"`
	Speed   float64 `mapstructure:"speed"`
	Rating  float64 `mapstructure:"rating"`
}

// ScoreWeights converts the metrics section into scoring weights.
func (m MetricsConfig) ScoreWeights() metrics.Weights {
	return metrics.Weights{
		Success:       m.Weights.Success,
		Speed:         m.Weights.Speed,
		Rating:        m.Weights.Rating,
		SpeedCapMs:    m.SpeedCapMs,
		NeutralRating: m.NeutralRating,
	}
}

// ClarifierConfig holds clarification settings.
type ClarifierConfig struct {
	MinWords int `mapstructure:"min_words"`
	// UseModel asks Claude instead of applying the word-count heuristic.
	UseModel bool `mapstructure:"use_model"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `mapstructure:"host"`
	Port        int      `mapstructure:"port"`
	EnableCORS  bool     `mapstructure:"enable_cors"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	Debug       bool     `mapstructure:"debug"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DBPath is the SQLite database file. Empty uses the XDG data directory.
	DBPath string `mapstructure:"db_path"`
}

// RegistryConfig holds agent roster settings.
type RegistryConfig struct {
	// Path is a YAML roster file. Empty uses the built-in roster.
	Path string `mapstructure:"path"`
	// Watch reloads the roster when the file changes.
	Watch bool `mapstructure:"watch"`
}

// SessionsConfig holds session cache settings.
type SessionsConfig struct {
	CacheSize int `mapstructure:"cache_size"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	// DebugLog is a file that receives verbose logs. Empty disables them.
	DebugLog string `mapstructure:"debug_log"`
}

// TracingConfig holds OpenTelemetry export settings.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, ENSEMBLE_*)
// 2. Project config (.ensemble.yaml in current directory or parent)
// 3. User config (~/.config/ensemble/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Project config takes precedence.
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file, still honouring
// environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Storage.DBPath = expandPath(cfg.Storage.DBPath)
	cfg.Registry.Path = expandPath(cfg.Registry.Path)
	cfg.Logging.DebugLog = expandPath(cfg.Logging.DebugLog)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv maps ENSEMBLE_SECTION_KEY variables onto section.key.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("ENSEMBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", "ENSEMBLE_ANTHROPIC_API_KEY")
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !models.ExecutionMode(c.Scheduler.DefaultMode).Valid() {
		errs = append(errs, fmt.Errorf("scheduler.default_mode: unknown mode %q", c.Scheduler.DefaultMode))
	}
	if c.Scheduler.TaskTimeout < 0 || c.Scheduler.SummaryTimeout < 0 {
		errs = append(errs, errors.New("scheduler timeouts must not be negative"))
	}
	if c.Metrics.WindowDays <= 0 {
		errs = append(errs, fmt.Errorf("metrics.window_days must be positive, got %d", c.Metrics.WindowDays))
	}
	w := c.Metrics.Weights
	if w.Success < 0 || w.Speed < 0 || w.Rating < 0 {
		errs = append(errs, errors.New("metrics.weights must not be negative"))
	}
	if c.Metrics.SpeedCapMs <= 0 {
		errs = append(errs, errors.New("metrics.speed_cap_ms must be positive"))
	}
	if c.Metrics.NeutralRating < 0 || c.Metrics.NeutralRating > 1 {
		errs = append(errs, errors.New("metrics.neutral_rating must be within [0, 1]"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Sessions.CacheSize <= 0 {
		errs = append(errs, errors.New("sessions.cache_size must be positive"))
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = append(errs, errors.New("tracing.sample_rate must be within [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(cfg, GetUserConfigPath())
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.offline", cfg.Anthropic.Offline)
	v.Set("scheduler.default_mode", cfg.Scheduler.DefaultMode)
	v.Set("scheduler.task_timeout", cfg.Scheduler.TaskTimeout.String())
	v.Set("scheduler.summary_timeout", cfg.Scheduler.SummaryTimeout.String())
	v.Set("metrics.window_days", cfg.Metrics.WindowDays)
	v.Set("metrics.weights.success", cfg.Metrics.Weights.Success)
	v.Set("metrics.weights.speed", cfg.Metrics.Weights.Speed)
	v.Set("metrics.weights.rating", cfg.Metrics.Weights.Rating)
	v.Set("metrics.speed_cap_ms", cfg.Metrics.SpeedCapMs)
	v.Set("metrics.neutral_rating", cfg.Metrics.NeutralRating)
	v.Set("metrics.retention", cfg.Metrics.Retention.String())
	v.Set("clarifier.min_words", cfg.Clarifier.MinWords)
	v.Set("clarifier.use_model", cfg.Clarifier.UseModel)
	v.Set("server.host", cfg.Server.Host)
	v.Set("server.port", cfg.Server.Port)
	v.Set("server.enable_cors", cfg.Server.EnableCORS)
	v.Set("server.cors_origins", cfg.Server.CORSOrigins)
	v.Set("server.debug", cfg.Server.Debug)
	v.Set("storage.db_path", cfg.Storage.DBPath)
	v.Set("registry.path", cfg.Registry.Path)
	v.Set("registry.watch", cfg.Registry.Watch)
	v.Set("sessions.cache_size", cfg.Sessions.CacheSize)
	v.Set("logging.debug_log", cfg.Logging.DebugLog)
	v.Set("tracing.enabled", cfg.Tracing.Enabled)
	v.Set("tracing.otlp_endpoint", cfg.Tracing.OTLPEndpoint)
	v.Set("tracing.sample_rate", cfg.Tracing.SampleRate)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.offline", false)

	v.SetDefault("scheduler.default_mode", d.Scheduler.DefaultMode)
	v.SetDefault("scheduler.task_timeout", d.Scheduler.TaskTimeout.String())
	v.SetDefault("scheduler.summary_timeout", d.Scheduler.SummaryTimeout.String())

	v.SetDefault("metrics.window_days", d.Metrics.WindowDays)
	v.SetDefault("metrics.weights.success", d.Metrics.Weights.Success)
	v.SetDefault("metrics.weights.speed", d.Metrics.Weights.Speed)
	v.SetDefault("metrics.weights.rating", d.Metrics.Weights.Rating)
	v.SetDefault("metrics.speed_cap_ms", d.Metrics.SpeedCapMs)
	v.SetDefault("metrics.neutral_rating", d.Metrics.NeutralRating)
	v.SetDefault("metrics.retention", "0s")

	v.SetDefault("clarifier.min_words", d.Clarifier.MinWords)
	v.SetDefault("clarifier.use_model", false)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.enable_cors", d.Server.EnableCORS)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.debug", false)

	v.SetDefault("storage.db_path", "")
	v.SetDefault("registry.path", "")
	v.SetDefault("registry.watch", false)
	v.SetDefault("sessions.cache_size", d.Sessions.CacheSize)
	v.SetDefault("logging.debug_log", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// getUserConfigDir returns the XDG config directory for ensemble.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ensemble")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "ensemble")
	}
	return filepath.Join(home, ".config", "ensemble")
}

// findProjectConfig searches for .ensemble.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandPath expands environment references and a leading ~.
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// Default returns a Config with default values.
func Default() *Config {
	w := metrics.DefaultWeights()
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 4096,
		},
		Scheduler: SchedulerConfig{
			DefaultMode:    string(models.DefaultExecutionMode),
			TaskTimeout:    5 * time.Minute,
			SummaryTimeout: 2 * time.Minute,
		},
		Metrics: MetricsConfig{
			WindowDays:    7,
			Weights:       WeightsConfig{Success: w.Success, Speed: w.Speed, Rating: w.Rating},
			SpeedCapMs:    w.SpeedCapMs,
			NeutralRating: w.NeutralRating,
		},
		Clarifier: ClarifierConfig{
			MinWords: 3,
		},
		Server: ServerConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			EnableCORS:  true,
			CORSOrigins: []string{"*"},
		},
		Sessions: SessionsConfig{
			CacheSize: 512,
		},
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4318",
			SampleRate:   1,
		},
	}
}
