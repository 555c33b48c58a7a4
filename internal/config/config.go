package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Search      SearchConfig      `yaml:"search" mapstructure:"search"`
	Sourcing    SourcingConfig    `yaml:"sourcing" mapstructure:"sourcing"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Transport   TransportConfig   `yaml:"transport" mapstructure:"transport"`
	Compliance  ComplianceConfig  `yaml:"compliance" mapstructure:"compliance"`
	Frontend    FrontendConfig    `yaml:"frontend" mapstructure:"frontend"`
	Negotiation NegotiationConfig `yaml:"negotiation" mapstructure:"negotiation"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// SearchConfig holds web search (SerpAPI) settings.
type SearchConfig struct {
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	MaxResults  int     `yaml:"max_results" mapstructure:"max_results"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// SourcingConfig configures candidate enrichment.
type SourcingConfig struct {
	MaxCandidates    int     `yaml:"max_candidates" mapstructure:"max_candidates"`
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	DefaultScore     float64 `yaml:"default_score" mapstructure:"default_score"`
	Concurrency      int     `yaml:"concurrency" mapstructure:"concurrency"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UseForQuotes      bool   `yaml:"use_for_quotes" mapstructure:"use_for_quotes"`
	UseForNegotiation bool   `yaml:"use_for_negotiation" mapstructure:"use_for_negotiation"`
}

// TransportConfig configures email (SMTP) and SMS (Twilio) delivery.
type TransportConfig struct {
	Mode             string `yaml:"mode" mapstructure:"mode"`
	EmailFrom        string `yaml:"email_from" mapstructure:"email_from"`
	SMTPHost         string `yaml:"smtp_host" mapstructure:"smtp_host"`
	SMTPPort         int    `yaml:"smtp_port" mapstructure:"smtp_port"`
	SMTPUsername     string `yaml:"smtp_username" mapstructure:"smtp_username"`
	SMTPPassword     string `yaml:"smtp_password" mapstructure:"smtp_password"`
	SMSFrom          string `yaml:"sms_from" mapstructure:"sms_from"`
	TwilioAccountSID string `yaml:"twilio_account_sid" mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `yaml:"twilio_auth_token" mapstructure:"twilio_auth_token"`
	TwilioBaseURL    string `yaml:"twilio_base_url" mapstructure:"twilio_base_url"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ComplianceConfig configures the send gate.
type ComplianceConfig struct {
	RateLimitMax        int    `yaml:"rate_limit_max" mapstructure:"rate_limit_max"`
	RateLimitWindowSecs int    `yaml:"rate_limit_window_secs" mapstructure:"rate_limit_window_secs"`
	RateLimitBackend    string `yaml:"rate_limit_backend" mapstructure:"rate_limit_backend"`
	DefaultQuietHours   string `yaml:"default_quiet_hours" mapstructure:"default_quiet_hours"`
	Disclosure          string `yaml:"disclosure" mapstructure:"disclosure"`
}

// RateLimitWindow returns the limiter window as a duration.
func (c ComplianceConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSecs) * time.Second
}

// FrontendConfig points at the client-facing web app used in links.
type FrontendConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// NegotiationConfig configures counter-offer strategy selection.
type NegotiationConfig struct {
	DefaultStrategy string `yaml:"default_strategy" mapstructure:"default_strategy"`
}

// QueueConfig configures background job execution.
type QueueConfig struct {
	Mode        string `yaml:"mode" mapstructure:"mode"`
	RedisAddr   string `yaml:"redis_addr" mapstructure:"redis_addr"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	MaxRetry    int    `yaml:"max_retry" mapstructure:"max_retry"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CONTRACTR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "contractr.db")
	// Empty defaults register keys so that env vars alone can set them.
	for _, key := range []string{
		"search.api_key", "anthropic.key",
		"transport.smtp_host", "transport.smtp_username", "transport.smtp_password",
		"transport.twilio_account_sid", "transport.twilio_auth_token",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("anthropic.use_for_quotes", false)
	v.SetDefault("anthropic.use_for_negotiation", false)
	v.SetDefault("search.base_url", "https://serpapi.com")
	v.SetDefault("search.max_results", 20)
	v.SetDefault("search.timeout_secs", 15)
	v.SetDefault("search.rate_limit", 5.0)
	v.SetDefault("sourcing.max_candidates", 10)
	v.SetDefault("sourcing.fetch_timeout_secs", 10)
	v.SetDefault("sourcing.default_score", 0.7)
	v.SetDefault("sourcing.concurrency", 4)
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.timeout_secs", 30)
	v.SetDefault("transport.mode", "log")
	v.SetDefault("transport.email_from", "assistant@contractr.ai")
	v.SetDefault("transport.smtp_port", 587)
	v.SetDefault("transport.sms_from", "+15555550100")
	v.SetDefault("transport.twilio_base_url", "https://api.twilio.com")
	v.SetDefault("transport.timeout_secs", 15)
	v.SetDefault("compliance.rate_limit_max", 10)
	v.SetDefault("compliance.rate_limit_window_secs", 60)
	v.SetDefault("compliance.rate_limit_backend", "memory")
	v.SetDefault("compliance.default_quiet_hours", "")
	v.SetDefault("compliance.disclosure", "(This message was sent by Contractr.AI on behalf of our user.)")
	v.SetDefault("frontend.base_url", "http://localhost:3000")
	v.SetDefault("negotiation.default_strategy", "fee_waiver")
	v.SetDefault("queue.mode", "inline")
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 5)
	v.SetDefault("server.port", 3001)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
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
