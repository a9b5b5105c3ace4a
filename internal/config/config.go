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
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Insights   InsightsConfig   `yaml:"insights" mapstructure:"insights"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OpenAIConfig holds OpenAI-compatible API settings.
type OpenAIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// LLMConfig selects the generative-model provider stack. Provider choice is
// a configuration concern; the pipeline never branches on provider identity.
type LLMConfig struct {
	Provider         string `yaml:"provider" mapstructure:"provider"`
	FallbackProvider string `yaml:"fallback_provider" mapstructure:"fallback_provider"`
	MaxTokens        int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// InsightsConfig bounds candidate generation and selection.
type InsightsConfig struct {
	Candidates  int    `yaml:"candidates" mapstructure:"candidates"`
	TopK        int    `yaml:"top_k" mapstructure:"top_k"`
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// WorkflowConfig tunes run pacing.
type WorkflowConfig struct {
	CampaignDwellSecs int `yaml:"campaign_dwell_secs" mapstructure:"campaign_dwell_secs"`
	PollIntervalSecs  int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// PricingConfig holds per-provider token pricing overrides.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig tunes the background health checks and webhook alerting.
// A zero cost threshold or backlog limit disables that check.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogLimit   int     `yaml:"review_backlog_limit" mapstructure:"review_backlog_limit"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment. An empty path searches
// the working directory for config.yaml; a non-empty path names the file
// explicitly and must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("STRATEGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "strategy.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.fallback_provider", "openai")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("insights.candidates", 5)
	v.SetDefault("insights.top_k", 3)
	v.SetDefault("workflow.campaign_dwell_secs", 5)
	v.SetDefault("workflow.poll_interval_secs", 1)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.3)
	v.SetDefault("monitoring.review_backlog_limit", 10)
	v.SetDefault("monitoring.cost_threshold_usd", 0)

	// A missing file is only an error when it was named explicitly.
	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, eris.Wrapf(err, "config: read file %s", path)
		}
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

// Validate checks that the configuration can support the named mode. Mode
// "store" covers commands that only touch the database; "pipeline" covers
// commands that execute runs; "serve" adds the HTTP server checks.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "store":
	case "pipeline", "serve":
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				problems = append(problems, "anthropic.key is required")
			}
		case "openai":
			if c.OpenAI.Key == "" {
				problems = append(problems, "openai.key is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("llm.provider must be anthropic or openai, got %q", c.LLM.Provider))
		}
		if c.LLM.MaxTokens <= 0 {
			problems = append(problems, "llm.max_tokens must be > 0")
		}
		if c.Insights.TopK < 1 || c.Insights.TopK > 10 {
			problems = append(problems, "insights.top_k must be between 1 and 10")
		}
		if mode == "serve" {
			if c.Server.Port <= 0 || c.Server.Port > 65535 {
				problems = append(problems, "server.port must be > 0 and <= 65535")
			}
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required for postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid configuration:\n  - %s", strings.Join(problems, "\n  - "))
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
