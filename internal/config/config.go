package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Understand UnderstandConfig `yaml:"understand" mapstructure:"understand"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Schedule   ScheduleConfig   `yaml:"schedule" mapstructure:"schedule"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (fallback only).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// UnderstandConfig selects and configures the content-understanding service.
type UnderstandConfig struct {
	Provider  string          `yaml:"provider" mapstructure:"provider"`
	Dify      DifyConfig      `yaml:"dify" mapstructure:"dify"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Classify  AppConfig       `yaml:"classify" mapstructure:"classify"`
	Extract   AppConfig       `yaml:"extract" mapstructure:"extract"`
}

// DifyConfig holds settings for the chat-messages HTTP provider.
type DifyConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	User    string `yaml:"user" mapstructure:"user"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// AppConfig configures one understanding application (classification or
// extraction). Key is the per-app API key for dify; Model and System are used
// by the anthropic provider.
type AppConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	System    string `yaml:"system" mapstructure:"system"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DiscoveryConfig configures homepage link discovery.
type DiscoveryConfig struct {
	Retries         int      `yaml:"retries" mapstructure:"retries"`
	ExcludePatterns []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
	FetchTimeoutSec int      `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
}

// PipelineConfig configures stage behavior.
type PipelineConfig struct {
	MaxAttempts        int `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffSecs        int `yaml:"backoff_secs" mapstructure:"backoff_secs"`
	ClassifyRetries    int `yaml:"classify_retries" mapstructure:"classify_retries"`
	ItemPauseMs        int `yaml:"item_pause_ms" mapstructure:"item_pause_ms"`
	CallTimeoutSecs    int `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs"`
	ExtractMaxLinks    int `yaml:"extract_max_links" mapstructure:"extract_max_links"`
	ClassifyMaxLinks   int `yaml:"classify_max_links" mapstructure:"classify_max_links"`
	QueueSize          int `yaml:"queue_size" mapstructure:"queue_size"`
	CacheRetentionDays int `yaml:"cache_retention_days" mapstructure:"cache_retention_days"`
}

// ScheduleConfig configures the periodic full-chain trigger.
type ScheduleConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Cron     string `yaml:"cron" mapstructure:"cron"`
	Workflow string `yaml:"workflow" mapstructure:"workflow"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures run-health alerting in serve mode.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	StuckAfterMins       int     `yaml:"stuck_after_mins" mapstructure:"stuck_after_mins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultExcludePatterns are URL path globs that never point at article
// content.
var DefaultExcludePatterns = []string{
	"/tag/*", "/tags/*", "/category/*", "/categories/*", "/author/*",
	"/search*", "/page/*", "/login*", "/register*", "/about*", "/contact*",
	"/privacy*", "/terms*", "/feed*", "/rss*",
}

// Load reads configuration from an optional ./config.yaml and environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and environment. An empty path
// falls back to an optional ./config.yaml; an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
	}
	v.SetConfigType("yaml")

	// Environment
	v.SetEnvPrefix("NEWS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("understand.provider", "dify")
	v.SetDefault("understand.dify.base_url", "https://api.dify.ai/v1")
	v.SetDefault("understand.dify.user", "news-pipeline")
	v.SetDefault("understand.anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("understand.classify.max_tokens", 512)
	v.SetDefault("understand.extract.max_tokens", 4096)
	v.SetDefault("discovery.retries", 2)
	v.SetDefault("discovery.exclude_patterns", DefaultExcludePatterns)
	v.SetDefault("discovery.fetch_timeout_secs", 60)
	v.SetDefault("pipeline.max_attempts", 2)
	v.SetDefault("pipeline.backoff_secs", 5)
	v.SetDefault("pipeline.classify_retries", 1)
	v.SetDefault("pipeline.item_pause_ms", 2000)
	v.SetDefault("pipeline.call_timeout_secs", 120)
	v.SetDefault("pipeline.extract_max_links", 10)
	v.SetDefault("pipeline.classify_max_links", 50)
	v.SetDefault("pipeline.queue_size", 100)
	v.SetDefault("pipeline.cache_retention_days", 30)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "0 */2 * * *")
	v.SetDefault("schedule.workflow", "full-chain")
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.stuck_after_mins", 120)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the settings a command needs are present. mode is one
// of "serve", "run" or "store". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "serve", "run", "store":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported store.driver %q", c.Store.Driver))
	}

	if mode != "store" {
		switch c.Understand.Provider {
		case "dify":
			if c.Understand.Classify.Key == "" {
				errs = append(errs, "understand.classify.key is required")
			}
			if c.Understand.Extract.Key == "" {
				errs = append(errs, "understand.extract.key is required")
			}
		case "anthropic":
			if c.Understand.Anthropic.Key == "" {
				errs = append(errs, "understand.anthropic.key is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("unsupported understand.provider %q", c.Understand.Provider))
		}
		if c.Pipeline.MaxAttempts < 1 {
			errs = append(errs, "pipeline.max_attempts must be >= 1")
		}
		if c.Pipeline.BackoffSecs < 0 || c.Pipeline.ItemPauseMs < 0 {
			errs = append(errs, "pipeline.backoff_secs and pipeline.item_pause_ms must be >= 0")
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Pipeline.QueueSize < 1 {
			errs = append(errs, "pipeline.queue_size must be >= 1")
		}
		if c.Schedule.Enabled && c.Schedule.Cron == "" {
			errs = append(errs, "schedule.cron is required when schedule.enabled")
		}
		if c.Monitoring.Enabled && c.Monitoring.WebhookURL == "" {
			errs = append(errs, "monitoring.webhook_url is required when monitoring.enabled")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
