package config

import (
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
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Bundle     BundleConfig     `yaml:"bundle" mapstructure:"bundle"`
	Synthesis  SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Validation ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Resolve    ResolveConfig    `yaml:"resolve" mapstructure:"resolve"`
	Governor   GovernorConfig   `yaml:"governor" mapstructure:"governor"`
	WriteBack  WriteBackConfig  `yaml:"writeback" mapstructure:"writeback"`
	Vocab      VocabConfig      `yaml:"vocab" mapstructure:"vocab"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Temporal   TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Batch      BatchConfig      `yaml:"batch" mapstructure:"batch"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. Model is pinned per
// deployment and recorded on every job.
type AnthropicConfig struct {
	Key               string  `yaml:"key" mapstructure:"key"`
	Model             string  `yaml:"model" mapstructure:"model"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute float64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// PricingConfig holds per-model token pricing.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// BundleConfig configures source bundle assembly.
type BundleConfig struct {
	TokenBudget          int     `yaml:"token_budget" mapstructure:"token_budget"`
	PerDocTokens         int     `yaml:"per_doc_tokens" mapstructure:"per_doc_tokens"`
	MaxDocsPerSourceType int     `yaml:"max_docs_per_source_type" mapstructure:"max_docs_per_source_type"`
	AmplificationShare   float64 `yaml:"amplification_share" mapstructure:"amplification_share"`
	AmplificationMinDocs int     `yaml:"amplification_min_docs" mapstructure:"amplification_min_docs"`
}

// SynthesisConfig configures the two generative passes.
type SynthesisConfig struct {
	BatchSize           int `yaml:"batch_size" mapstructure:"batch_size"`
	ContextSnippets     int `yaml:"context_snippets" mapstructure:"context_snippets"`
	MaxSnippetsPerBatch int `yaml:"max_snippets_per_batch" mapstructure:"max_snippets_per_batch"`
	RetryAttempts       int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ValidationConfig holds soft-check thresholds for the validation gate.
type ValidationConfig struct {
	HighConfidence         float64 `yaml:"high_confidence" mapstructure:"high_confidence"`
	MaxHighConfidenceShare float64 `yaml:"max_high_confidence_share" mapstructure:"max_high_confidence_share"`
	MaxTagDominance        float64 `yaml:"max_tag_dominance" mapstructure:"max_tag_dominance"`
	MaxPriorOnlyShare      float64 `yaml:"max_prior_only_share" mapstructure:"max_prior_only_share"`
	MaxMeanShift           float64 `yaml:"max_mean_shift" mapstructure:"max_mean_shift"`
	MinSpreadRatio         float64 `yaml:"min_spread_ratio" mapstructure:"min_spread_ratio"`
	MinSample              int     `yaml:"min_sample" mapstructure:"min_sample"`
}

// ResolveConfig configures the venue identity resolver.
type ResolveConfig struct {
	TrigramThreshold float64 `yaml:"trigram_threshold" mapstructure:"trigram_threshold"`
	ContainmentFloor float64 `yaml:"containment_floor" mapstructure:"containment_floor"`
}

// GovernorConfig configures spend and trigger safety.
type GovernorConfig struct {
	DailySpendCapUSD float64  `yaml:"daily_spend_cap_usd" mapstructure:"daily_spend_cap_usd"`
	CooldownHours    int      `yaml:"cooldown_hours" mapstructure:"cooldown_hours"`
	KnownCities      []string `yaml:"known_cities" mapstructure:"known_cities"`
	BreakerThreshold int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// WriteBackConfig configures the shared-entity write gate.
type WriteBackConfig struct {
	BatchSize      int     `yaml:"batch_size" mapstructure:"batch_size"`
	DeltaThreshold float64 `yaml:"delta_threshold" mapstructure:"delta_threshold"`
}

// VocabConfig points at the controlled tag vocabulary.
type VocabConfig struct {
	NotionDB    string `yaml:"notion_db" mapstructure:"notion_db"`
	FixturePath string `yaml:"fixture_path" mapstructure:"fixture_path"`
}

// ReviewConfig configures the human-review export.
type ReviewConfig struct {
	NotionDB string `yaml:"notion_db" mapstructure:"notion_db"`
}

// NotionConfig holds Notion API credentials.
type NotionConfig struct {
	Token     string  `yaml:"token" mapstructure:"token"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ReportConfig configures diff report output.
type ReportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// MonitoringConfig configures health alerting.
type MonitoringConfig struct {
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	UnresolvedRatioThreshold float64 `yaml:"unresolved_ratio_threshold" mapstructure:"unresolved_ratio_threshold"`
	UnresolvedSpikeFactor    float64 `yaml:"unresolved_spike_factor" mapstructure:"unresolved_spike_factor"`
	SpendAlertFraction       float64 `yaml:"spend_alert_fraction" mapstructure:"spend_alert_fraction"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// TemporalConfig configures the scheduled refresh worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
	Cron      string `yaml:"cron" mapstructure:"cron"`
	WriteBack bool   `yaml:"write_back" mapstructure:"write_back"`
}

// BatchConfig configures multi-city runs.
type BatchConfig struct {
	MaxConcurrentCities int `yaml:"max_concurrent_cities" mapstructure:"max_concurrent_cities"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the keys required by the given mode are present.
// Modes: "research" (anything that spends), "store" (read-only commands),
// "worker" (scheduled refresh).
func (c *Config) Validate(mode string) error {
	var missing []string
	if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
		missing = append(missing, "store.database_url")
	}
	switch mode {
	case "research", "worker":
		if c.Anthropic.Key == "" {
			missing = append(missing, "anthropic.key")
		}
		if c.Anthropic.Model == "" {
			missing = append(missing, "anthropic.model")
		}
		if c.Vocab.NotionDB == "" && c.Vocab.FixturePath == "" {
			missing = append(missing, "vocab.notion_db or vocab.fixture_path")
		}
		if c.Vocab.NotionDB != "" && c.Notion.Token == "" {
			missing = append(missing, "notion.token")
		}
		if mode == "worker" && c.Temporal.HostPort == "" {
			missing = append(missing, "temporal.host_port")
		}
	case "store":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}
	if len(missing) > 0 {
		return eris.Errorf("config: missing required keys: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("FUSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_cities", 4)

	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 8192)
	v.SetDefault("anthropic.requests_per_minute", 30)

	v.SetDefault("bundle.token_budget", 60000)
	v.SetDefault("bundle.per_doc_tokens", 1500)
	v.SetDefault("bundle.max_docs_per_source_type", 40)
	v.SetDefault("bundle.amplification_share", 0.25)
	v.SetDefault("bundle.amplification_min_docs", 8)

	v.SetDefault("synthesis.batch_size", 50)
	v.SetDefault("synthesis.context_snippets", 5)
	v.SetDefault("synthesis.max_snippets_per_batch", 40)
	v.SetDefault("synthesis.retry_attempts", 3)

	v.SetDefault("validation.high_confidence", 0.9)
	v.SetDefault("validation.max_high_confidence_share", 0.5)
	v.SetDefault("validation.max_tag_dominance", 0.8)
	v.SetDefault("validation.max_prior_only_share", 0.5)
	v.SetDefault("validation.max_mean_shift", 0.25)
	v.SetDefault("validation.min_spread_ratio", 0.25)
	v.SetDefault("validation.min_sample", 5)

	v.SetDefault("resolve.trigram_threshold", 0.7)
	v.SetDefault("resolve.containment_floor", 0.4)

	v.SetDefault("governor.daily_spend_cap_usd", 25.0)
	v.SetDefault("governor.cooldown_hours", 20)
	v.SetDefault("governor.breaker_threshold", 3)

	v.SetDefault("writeback.batch_size", 25)
	v.SetDefault("writeback.delta_threshold", 0.35)

	v.SetDefault("vocab.fixture_path", "testdata/vocabulary.yaml")
	v.SetDefault("notion.rate_limit", 3)
	v.SetDefault("report.dir", "reports")

	v.SetDefault("monitoring.unresolved_ratio_threshold", 0.3)
	v.SetDefault("monitoring.unresolved_spike_factor", 2.0)
	v.SetDefault("monitoring.spend_alert_fraction", 0.8)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)

	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "venue-fusion")
	v.SetDefault("temporal.cron", "0 6 * * 1")

	v.SetDefault("pricing.anthropic", map[string]any{
		"claude-sonnet-4-5-20250929": map[string]any{
			"input": 3.00, "output": 15.00, "cache_write_mul": 1.25, "cache_read_mul": 0.1,
		},
		"claude-haiku-4-5-20251001": map[string]any{
			"input": 0.80, "output": 4.00, "cache_write_mul": 1.25, "cache_read_mul": 0.1,
		},
	})
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
