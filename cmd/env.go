package main

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rewards-engine/internal/analytics"
	"github.com/sells-group/rewards-engine/internal/api"
	"github.com/sells-group/rewards-engine/internal/cache"
	"github.com/sells-group/rewards-engine/internal/config"
	"github.com/sells-group/rewards-engine/internal/cost"
	"github.com/sells-group/rewards-engine/internal/llm"
	"github.com/sells-group/rewards-engine/internal/resilience"
	"github.com/sells-group/rewards-engine/internal/rules"
	"github.com/sells-group/rewards-engine/internal/store"
	anthropicpkg "github.com/sells-group/rewards-engine/pkg/anthropic"
	openaipkg "github.com/sells-group/rewards-engine/pkg/openai"
)

// engineEnv holds the store, judge, cache and engine needed by the
// serve/process/simulate commands.
type engineEnv struct {
	Store      store.Store
	Engine     *rules.Engine
	Cache      *cache.Semantic
	Recorder   analytics.Recorder
	Calculator *cost.Calculator
	Router     *llm.Router
	Registry   *prometheus.Registry

	closers []func() error
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
}

// Deps returns the HTTP handler dependencies.
func (e *engineEnv) Deps(c *config.Config) api.Deps {
	d := api.Deps{
		Store:         e.Store,
		Processor:     e.Engine,
		Recorder:      e.Recorder,
		Cache:         e.Cache,
		Calculator:    e.Calculator,
		BaselineModel: e.Router.BaselineModel(),
		CORSOrigins:   c.Server.CORSOrigins,
		Version:       version,
	}
	if c.Metrics.Enabled {
		d.Metrics = promhttp.HandlerFor(e.Registry, promhttp.HandlerOpts{})
	}
	return d
}

// initStore opens the configured store and applies its chunk size.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "rewards.db"
		}
		st, err := store.NewSQLite(dsn)
		if err != nil {
			return nil, err
		}
		st.SetChunkSize(c.Engine.ChunkSize)
		return st, nil
	case "postgres":
		st, err := store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
		if err != nil {
			return nil, err
		}
		st.SetChunkSize(c.Engine.ChunkSize)
		return st, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initCacheStore opens the judgment cache backend. The returned closer may
// be nil.
func initCacheStore(ctx context.Context, c *config.Config) (cache.Store, func() error, error) {
	switch c.Cache.Backend {
	case "", "memory":
		return cache.NewMemoryStore(), nil, nil
	case "redis":
		rs, err := cache.NewRedisStore(ctx, c.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, rs.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported cache backend: %s", c.Cache.Backend)
	}
}

// initProvider returns the model provider, or nil when no credential is
// configured. AI conditions then never match.
func initProvider(c *config.Config) llm.Provider {
	if c.LLM.APIKey == "" {
		zap.L().Warn("no model credential configured, AI conditions will not match")
		return nil
	}
	switch c.LLM.Provider {
	case llm.ProviderAnthropic:
		var opts []anthropicpkg.Option
		if c.LLM.BaseURL != "" {
			opts = append(opts, anthropicpkg.WithBaseURL(c.LLM.BaseURL))
		}
		return llm.NewAnthropicProvider(anthropicpkg.NewClient(c.LLM.APIKey, opts...))
	default:
		var opts []openaipkg.Option
		if c.LLM.BaseURL != "" {
			opts = append(opts, openaipkg.WithBaseURL(c.LLM.BaseURL))
		}
		return llm.NewOpenAIProvider(openaipkg.NewClient(c.LLM.APIKey, opts...))
	}
}

// initEngine validates the config for mode and wires every component of
// the engine. Callers should defer env.Close().
func initEngine(ctx context.Context, c *config.Config, mode string) (*engineEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	env := &engineEnv{Registry: prometheus.NewRegistry()}
	env.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env.Store = st
	env.closers = append(env.closers, st.Close)

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	cacheStore, closeCache, err := initCacheStore(ctx, c)
	if err != nil {
		env.Close()
		return nil, err
	}
	if closeCache != nil {
		env.closers = append(env.closers, closeCache)
	}
	env.Cache = cache.New(cacheStore,
		cache.WithThreshold(c.Cache.Threshold),
		cache.WithTTL(c.Cache.TTL()),
	)

	router, err := llm.NewRouter(c.LLM.Provider, c.LLM.Models.Tiers(), c.LLM.Model)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Router = router

	env.Calculator = cost.NewCalculator(c.Pricing.Rates())

	prom := analytics.NewPrometheusRecorder(analytics.NewMemoryRecorder(), env.Registry)
	env.Recorder = prom

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = c.LLM.MaxAttempts
	if t := c.LLM.Timeout(); t > 0 {
		retry.AttemptTimeout = t
	}

	judge := llm.NewJudge(initProvider(c), router,
		llm.WithCache(env.Cache),
		llm.WithRecorder(prom),
		llm.WithCalculator(env.Calculator),
		llm.WithRateLimit(c.LLM.RateLimitRPS),
		llm.WithRetry(retry),
	)

	env.Engine = rules.NewEngine(st, judge,
		rules.WithConcurrency(c.Engine.LLMConcurrency),
		rules.WithObserver(prom),
	)

	zap.L().Info("engine ready",
		zap.String("store", c.Store.Driver),
		zap.String("cache", c.Cache.Backend),
		zap.String("provider", router.Provider()),
		zap.String("baseline_model", router.BaselineModel()),
	)
	return env, nil
}
