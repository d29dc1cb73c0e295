// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Store() StoreConfig
	Bus() BusConfig
	Memory() MemoryConfig
	Agents() AgentsConfig
	Autofix() AutofixConfig
	Evolution() EvolutionConfig
	Orchestrator() OrchestratorConfig
	Reasoning() ReasoningConfig
}

// Config holds the entire application configuration. Sections are exported so
// viper can decode into them; callers go through the Interface getters.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	StoreCfg        StoreConfig        `mapstructure:"store" yaml:"store"`
	BusCfg          BusConfig          `mapstructure:"bus" yaml:"bus"`
	MemoryCfg       MemoryConfig       `mapstructure:"memory" yaml:"memory"`
	AgentsCfg       AgentsConfig       `mapstructure:"agents" yaml:"agents"`
	AutofixCfg      AutofixConfig      `mapstructure:"autofix" yaml:"autofix"`
	EvolutionCfg    EvolutionConfig    `mapstructure:"evolution" yaml:"evolution"`
	OrchestratorCfg OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	ReasoningCfg    ReasoningConfig    `mapstructure:"reasoning" yaml:"reasoning"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Store() StoreConfig               { return c.StoreCfg }
func (c *Config) Bus() BusConfig                   { return c.BusCfg }
func (c *Config) Memory() MemoryConfig             { return c.MemoryCfg }
func (c *Config) Agents() AgentsConfig             { return c.AgentsCfg }
func (c *Config) Autofix() AutofixConfig           { return c.AutofixCfg }
func (c *Config) Evolution() EvolutionConfig       { return c.EvolutionCfg }
func (c *Config) Orchestrator() OrchestratorConfig { return c.OrchestratorCfg }
func (c *Config) Reasoning() ReasoningConfig       { return c.ReasoningCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// Store backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// StoreConfig selects and configures the durable key-value backend.
type StoreConfig struct {
	Backend     string         `mapstructure:"backend" yaml:"backend"`
	SQLite      SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres    PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	CachePrefix string         `mapstructure:"cache_prefix" yaml:"cache_prefix"`
}

// SQLiteConfig points at the local database file. A leading ~ is expanded.
type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// PostgresConfig holds the connection string for the PostgreSQL backend.
type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	LogSize int `mapstructure:"log_size" yaml:"log_size"`
}

// MemoryConfig bounds the long-term memory.
type MemoryConfig struct {
	MaxEntriesPerCategory int `mapstructure:"max_entries_per_category" yaml:"max_entries_per_category"`
}

// AgentsConfig holds the spawn policy of the agent registry.
type AgentsConfig struct {
	MaxAgents            int     `mapstructure:"max_agents" yaml:"max_agents"`
	RiskThreshold        float64 `mapstructure:"risk_threshold" yaml:"risk_threshold"`
	CapacityWarningRatio float64 `mapstructure:"capacity_warning_ratio" yaml:"capacity_warning_ratio"`
	TaskHistorySize      int     `mapstructure:"task_history_size" yaml:"task_history_size"`
}

// AutofixConfig holds settings for the self-fixing engine.
type AutofixConfig struct {
	Enabled                    bool          `mapstructure:"enabled" yaml:"enabled"`
	MinConfidence              float64       `mapstructure:"min_confidence" yaml:"min_confidence"`
	PatternRepeatThreshold     int           `mapstructure:"pattern_repeat_threshold" yaml:"pattern_repeat_threshold"`
	ReplayConfidence           float64       `mapstructure:"replay_confidence" yaml:"replay_confidence"`
	WarningUnresolvedThreshold int           `mapstructure:"warning_unresolved_threshold" yaml:"warning_unresolved_threshold"`
	CriticalWindow             time.Duration `mapstructure:"critical_window" yaml:"critical_window"`
	WatchLog                   bool          `mapstructure:"watch_log" yaml:"watch_log"`
}

// EvolutionConfig holds settings for the self-improvement engine.
type EvolutionConfig struct {
	Weights         map[string]float64 `mapstructure:"weights" yaml:"weights"`
	SampleWindow    time.Duration      `mapstructure:"sample_window" yaml:"sample_window"`
	MaxSamples      int                `mapstructure:"max_samples" yaml:"max_samples"`
	AccuracyTarget  float64            `mapstructure:"accuracy_target" yaml:"accuracy_target"`
	LatencyTargetMs float64            `mapstructure:"latency_target_ms" yaml:"latency_target_ms"`
	Step            float64            `mapstructure:"step" yaml:"step"`
}

// OrchestratorConfig tunes the analysis pipeline and its background cycles.
type OrchestratorConfig struct {
	ResearchInterval      time.Duration `mapstructure:"research_interval" yaml:"research_interval"`
	ImprovementInterval   time.Duration `mapstructure:"improvement_interval" yaml:"improvement_interval"`
	MaintenanceInterval   time.Duration `mapstructure:"maintenance_interval" yaml:"maintenance_interval"`
	ResearchMaxIterations int           `mapstructure:"research_max_iterations" yaml:"research_max_iterations"`
	ResearchTimeBudget    time.Duration `mapstructure:"research_time_budget" yaml:"research_time_budget"`
	ResearchTarget        float64       `mapstructure:"research_target" yaml:"research_target"`
	ResearchRatePerSecond float64       `mapstructure:"research_rate_per_second" yaml:"research_rate_per_second"`
	ResearchStaleAfter    time.Duration `mapstructure:"research_stale_after" yaml:"research_stale_after"`
	Actor                 string        `mapstructure:"actor" yaml:"actor"`
}

// Reasoning providers.
const (
	ProviderHeuristic = "heuristic"
	ProviderGemini    = "gemini"
)

// ReasoningConfig selects the deep-thinking collaborator.
type ReasoningConfig struct {
	Provider string        `mapstructure:"provider" yaml:"provider"`
	Model    string        `mapstructure:"model" yaml:"model"`
	APIKey   string        `mapstructure:"api_key" yaml:"-"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "bwcore")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Store --
	v.SetDefault("store.backend", BackendSQLite)
	v.SetDefault("store.sqlite.path", "~/.bwcore/core.db")
	v.SetDefault("store.cache_prefix", "cache_")

	// -- Bus --
	v.SetDefault("bus.log_size", 100)

	// -- Memory --
	v.SetDefault("memory.max_entries_per_category", 1000)

	// -- Agents --
	v.SetDefault("agents.max_agents", 10)
	v.SetDefault("agents.risk_threshold", 0.7)
	v.SetDefault("agents.capacity_warning_ratio", 0.8)
	v.SetDefault("agents.task_history_size", 500)

	// -- Autofix --
	v.SetDefault("autofix.enabled", true)
	v.SetDefault("autofix.min_confidence", 0.7)
	v.SetDefault("autofix.pattern_repeat_threshold", 3)
	v.SetDefault("autofix.replay_confidence", 0.85)
	v.SetDefault("autofix.warning_unresolved_threshold", 5)
	v.SetDefault("autofix.critical_window", "24h")
	v.SetDefault("autofix.watch_log", false)

	// -- Evolution --
	v.SetDefault("evolution.weights", DefaultWeights())
	v.SetDefault("evolution.sample_window", "1h")
	v.SetDefault("evolution.max_samples", 200)
	v.SetDefault("evolution.accuracy_target", 0.7)
	v.SetDefault("evolution.latency_target_ms", 30000.0)
	v.SetDefault("evolution.step", 0.1)

	// -- Orchestrator --
	v.SetDefault("orchestrator.research_interval", "5m")
	v.SetDefault("orchestrator.improvement_interval", "15m")
	v.SetDefault("orchestrator.maintenance_interval", "1h")
	v.SetDefault("orchestrator.research_max_iterations", 5)
	v.SetDefault("orchestrator.research_time_budget", "30s")
	v.SetDefault("orchestrator.research_target", 85.0)
	v.SetDefault("orchestrator.research_rate_per_second", 20.0)
	v.SetDefault("orchestrator.research_stale_after", "10m")
	v.SetDefault("orchestrator.actor", "orchestrator")

	// -- Reasoning --
	v.SetDefault("reasoning.provider", ProviderHeuristic)
	v.SetDefault("reasoning.model", "gemini-2.5-flash")
	v.SetDefault("reasoning.timeout", "60s")
}

// DefaultWeights returns the initial tunable weights of the self-improvement engine.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"research_depth":  1.0,
		"reasoning_depth": 1.0,
		"document_detail": 1.0,
		"confidence_bias": 0.0,
	}
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are only ever read from the environment.
	_ = v.BindEnv("reasoning.api_key", "BWCORE_GEMINI_API_KEY")
	_ = v.BindEnv("store.postgres.url", "BWCORE_POSTGRES_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.ReasoningCfg.Provider == ProviderGemini && cfg.ReasoningCfg.APIKey == "" {
		cfg.ReasoningCfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if c.BusCfg.LogSize < 0 {
		return fmt.Errorf("bus.log_size must not be negative")
	}
	if c.MemoryCfg.MaxEntriesPerCategory <= 0 {
		return fmt.Errorf("memory.max_entries_per_category must be a positive integer")
	}
	if err := c.AgentsCfg.Validate(); err != nil {
		return fmt.Errorf("agents configuration invalid: %w", err)
	}
	if err := c.AutofixCfg.Validate(); err != nil {
		return fmt.Errorf("autofix configuration invalid: %w", err)
	}
	if err := c.OrchestratorCfg.Validate(); err != nil {
		return fmt.Errorf("orchestrator configuration invalid: %w", err)
	}
	if err := c.ReasoningCfg.Validate(); err != nil {
		return fmt.Errorf("reasoning configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the store configuration.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if s.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required for the postgres backend. Ensure BWCORE_POSTGRES_URL is set")
		}
	default:
		return fmt.Errorf("unknown backend %q", s.Backend)
	}
	if s.CachePrefix == "" {
		return fmt.Errorf("cache_prefix must not be empty")
	}
	return nil
}

// Validate checks the spawn policy.
func (a *AgentsConfig) Validate() error {
	if a.MaxAgents <= 0 {
		return fmt.Errorf("max_agents must be a positive integer")
	}
	if a.RiskThreshold < 0.0 || a.RiskThreshold > 1.0 {
		return fmt.Errorf("risk_threshold must be between 0.0 and 1.0")
	}
	if a.CapacityWarningRatio <= 0.0 || a.CapacityWarningRatio > 1.0 {
		return fmt.Errorf("capacity_warning_ratio must be in (0.0, 1.0]")
	}
	return nil
}

// Validate checks the Autofix configuration.
func (a *AutofixConfig) Validate() error {
	if a.MinConfidence < 0.0 || a.MinConfidence > 1.0 {
		return fmt.Errorf("min_confidence must be between 0.0 and 1.0")
	}
	if a.PatternRepeatThreshold <= 0 {
		return fmt.Errorf("pattern_repeat_threshold must be greater than 0")
	}
	if a.CriticalWindow <= 0 {
		return fmt.Errorf("critical_window must be a positive duration")
	}
	return nil
}

// Validate checks the OrchestratorConfig settings.
func (o *OrchestratorConfig) Validate() error {
	if o.ResearchInterval <= 0 || o.ImprovementInterval <= 0 || o.MaintenanceInterval <= 0 {
		return fmt.Errorf("background intervals must be positive durations")
	}
	if o.ResearchMaxIterations <= 0 {
		return fmt.Errorf("research_max_iterations must be greater than 0")
	}
	if o.ResearchTarget <= 0 || o.ResearchTarget > 100 {
		return fmt.Errorf("research_target must be in (0, 100]")
	}
	return nil
}

// Validate checks the reasoning provider.
func (r *ReasoningConfig) Validate() error {
	switch r.Provider {
	case ProviderHeuristic:
		return nil
	case ProviderGemini:
		if r.Model == "" {
			return fmt.Errorf("model is required for the gemini provider")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider %q", r.Provider)
	}
}
