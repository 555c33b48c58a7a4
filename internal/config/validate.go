package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command depends on. mode is the command
// family: "serve", "worker", "migrate" or "cli".
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			add("store.database_url is required for driver %s", c.Store.Driver)
		}
	case "memory":
	default:
		add("store.driver %q is not one of sqlite, postgres, memory", c.Store.Driver)
	}

	if c.Transport.Mode != "log" && c.Transport.Mode != "live" {
		add("transport.mode %q is not one of log, live", c.Transport.Mode)
	}
	if c.Compliance.RateLimitBackend != "memory" && c.Compliance.RateLimitBackend != "redis" {
		add("compliance.rate_limit_backend %q is not one of memory, redis", c.Compliance.RateLimitBackend)
	}
	if c.Compliance.RateLimitMax <= 0 || c.Compliance.RateLimitWindowSecs <= 0 {
		add("compliance rate limit max and window must be positive")
	}
	if s := c.Negotiation.DefaultStrategy; s != "fee_waiver" && s != "off_peak" {
		add("negotiation.default_strategy %q is not one of fee_waiver, off_peak", s)
	}
	if c.Sourcing.MaxCandidates <= 0 || c.Search.MaxResults <= 0 {
		add("sourcing.max_candidates and search.max_results must be positive")
	}
	if c.Queue.Mode != "inline" && c.Queue.Mode != "asynq" {
		add("queue.mode %q is not one of inline, asynq", c.Queue.Mode)
	}
	if c.Transport.Mode == "live" {
		if c.Transport.SMTPHost == "" {
			add("transport.smtp_host is required in live mode")
		}
		if c.Transport.TwilioAccountSID == "" || c.Transport.TwilioAuthToken == "" {
			add("transport.twilio_account_sid and twilio_auth_token are required in live mode")
		}
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server.port %d is out of range", c.Server.Port)
		}
	case "worker":
		if c.Queue.Mode != "asynq" {
			add("queue.mode must be asynq to run a worker")
		}
		if c.Queue.RedisAddr == "" {
			add("queue.redis_addr is required")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}
