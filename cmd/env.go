package main

import (
	"context"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/compliance"
	"github.com/contractr/contractr/internal/compose"
	"github.com/contractr/contractr/internal/lifecycle"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/negotiation"
	"github.com/contractr/contractr/internal/outreach"
	"github.com/contractr/contractr/internal/queue"
	"github.com/contractr/contractr/internal/quote"
	"github.com/contractr/contractr/internal/resilience"
	"github.com/contractr/contractr/internal/sourcing"
	"github.com/contractr/contractr/internal/store"
	"github.com/contractr/contractr/internal/transport"
	"github.com/contractr/contractr/pkg/anthropic"
	"github.com/contractr/contractr/pkg/serpapi"
)

// dispatcher schedules every job kind.
type dispatcher interface {
	lifecycle.Dispatcher
	outreach.Dispatcher
}

// appEnv holds the wired components used by the serve, worker and project
// commands.
type appEnv struct {
	Store     store.Store
	Lifecycle *lifecycle.Controller
	Outreach  *outreach.Orchestrator
	Handlers  *queue.Handlers
	closers   []func() error
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore connects and migrates.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initLimiter(ctx context.Context) (compliance.RateLimiter, func() error, error) {
	limit, window := cfg.Compliance.RateLimitMax, cfg.Compliance.RateLimitWindow()
	if cfg.Compliance.RateLimitBackend != "redis" {
		return compliance.NewMemoryLimiter(limit, window), func() error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, eris.Wrap(err, "connect rate limit redis")
	}
	zap.L().Info("rate limiter using redis", zap.String("addr", cfg.Queue.RedisAddr))
	return compliance.NewRedisLimiter(rdb, limit, window), rdb.Close, nil
}

// placeholderSearchKey is the value shipped in sample env files.
const placeholderSearchKey = "your-serp-api-key"

// initSearcher returns nil without a real API key, which makes sourcing
// fall back to mock candidates.
func initSearcher() sourcing.Searcher {
	if cfg.Search.APIKey == "" || cfg.Search.APIKey == placeholderSearchKey {
		zap.L().Warn("search.api_key not set, sourcing will use mock candidates")
		return nil
	}
	timeout := time.Duration(cfg.Search.TimeoutSecs) * time.Second
	client := serpapi.NewClient(cfg.Search.APIKey,
		serpapi.WithBaseURL(cfg.Search.BaseURL),
		serpapi.WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return sourcing.NewSerpSearcher(client, cfg.Search.RateLimit, timeout)
}

func initLLM() anthropic.Client {
	if cfg.Anthropic.Key == "" {
		return nil
	}
	return anthropic.NewClient(cfg.Anthropic.Key,
		anthropic.WithTimeout(time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second),
	)
}

func initExtractor(llm anthropic.Client) (quote.Extractor, error) {
	if llm == nil || !cfg.Anthropic.UseForQuotes {
		return quote.RegexExtractor{}, nil
	}
	ex, err := quote.NewLLMExtractor(llm, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens,
		time.Duration(cfg.Anthropic.TimeoutSecs)*time.Second)
	if err != nil {
		return nil, eris.Wrap(err, "init quote extractor")
	}
	zap.L().Info("quote extraction using llm", zap.String("model", cfg.Anthropic.Model))
	return ex, nil
}

// initEnv wires the store, collaborators and job dispatcher. Callers
// should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{}
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)

	limiter, closeLimiter, err := initLimiter(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.closers = append(env.closers, closeLimiter)

	pipeline := sourcing.NewPipeline(st, initSearcher(),
		sourcing.NewHTMLScraper(time.Duration(cfg.Sourcing.FetchTimeoutSecs)*time.Second),
		sourcing.Config{
			MaxResults:    cfg.Search.MaxResults,
			MaxCandidates: cfg.Sourcing.MaxCandidates,
			FetchTimeout:  time.Duration(cfg.Sourcing.FetchTimeoutSecs) * time.Second,
			DefaultScore:  cfg.Sourcing.DefaultScore,
			Concurrency:   cfg.Sourcing.Concurrency,
		})
	env.Lifecycle = lifecycle.NewController(st, pipeline)

	llm := initLLM()
	extractor, err := initExtractor(llm)
	if err != nil {
		env.Close()
		return nil, err
	}
	composeOpts := compose.Options{Model: cfg.Anthropic.Model, Timeout: time.Duration(cfg.Anthropic.TimeoutSecs) * time.Second}
	if cfg.Anthropic.UseForNegotiation {
		composeOpts.Client = llm
	}

	env.Outreach = outreach.New(outreach.Deps{
		Store:     st,
		Lifecycle: env.Lifecycle,
		Gate: compliance.NewGate(compliance.Options{
			Disclosure:        cfg.Compliance.Disclosure,
			DefaultQuietHours: cfg.Compliance.DefaultQuietHours,
			FrontendBaseURL:   cfg.Frontend.BaseURL,
			Limiter:           limiter,
		}),
		Composer:  compose.New(composeOpts),
		Sender:    transport.FromConfig(cfg.Transport),
		Extractor: extractor,
		Selector:  negotiation.NewSelector(model.Strategy(cfg.Negotiation.DefaultStrategy)),
	})
	env.Handlers = queue.NewHandlers(env.Lifecycle, env.Outreach)

	var d dispatcher
	if cfg.Queue.Mode == "asynq" {
		client := queue.NewClient(asynq.RedisClientOpt{Addr: cfg.Queue.RedisAddr}, cfg.Queue.MaxRetry)
		env.closers = append(env.closers, client.Close)
		d = client
	} else {
		retry := resilience.DefaultRetryConfig()
		retry.MaxAttempts = cfg.Queue.MaxRetry
		d = queue.NewInline(env.Lifecycle, env.Outreach, retry)
	}
	env.Lifecycle.SetDispatcher(d)
	env.Outreach.SetDispatcher(d)

	zap.L().Debug("environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("queue", cfg.Queue.Mode),
		zap.String("transport", cfg.Transport.Mode),
	)
	return env, nil
}
