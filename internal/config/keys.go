package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key string
	typ keyType
	env string
	// fallbackEnv is consulted when env is unset.
	fallbackEnv string
	secret      bool
	apply       func(cfg *Config, v any)
	extract     func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "FINSIGHT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "cors.allowed_origins", typ: kString, env: "FINSIGHT_CORS_ALLOWED_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.CORS.AllowedOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.CORS.AllowedOrigins },
	},
	{
		key: "storage.data_dir", typ: kString, env: "FINSIGHT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.backend", typ: kString, env: "FINSIGHT_CACHE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Cache.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Backend },
	},
	{
		key: "cache.dir", typ: kString, env: "FINSIGHT_CACHE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Cache.Dir = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Dir },
	},
	{
		key: "cache.redis_url", typ: kString, env: "FINSIGHT_CACHE_REDIS_URL",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisURL },
	},
	{
		key: "completion.base_url", typ: kString, env: "FINSIGHT_COMPLETION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Completion.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.BaseURL },
	},
	{
		key: "completion.api_key", typ: kString, env: "FINSIGHT_COMPLETION_API_KEY", fallbackEnv: "PERPLEXITY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Completion.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.APIKey },
	},
	{
		key: "completion.fast_model", typ: kString, env: "FINSIGHT_COMPLETION_FAST_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Completion.FastModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.FastModel },
	},
	{
		key: "completion.deep_model", typ: kString, env: "FINSIGHT_COMPLETION_DEEP_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Completion.DeepModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.DeepModel },
	},
	{
		key: "completion.timeout", typ: kDuration, env: "FINSIGHT_COMPLETION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Completion.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Completion.Timeout },
	},
	{
		key: "completion.deep_timeout", typ: kDuration, env: "FINSIGHT_COMPLETION_DEEP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Completion.DeepTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Completion.DeepTimeout },
	},
	{
		key: "completion.search_domains", typ: kString, env: "FINSIGHT_COMPLETION_SEARCH_DOMAINS",
		apply:   func(cfg *Config, v any) { cfg.Completion.SearchDomains = v.(string) },
		extract: func(cfg Config) any { return cfg.Completion.SearchDomains },
	},
	{
		key: "freshness.news_ttl", typ: kDuration, env: "FINSIGHT_FRESHNESS_NEWS_TTL",
		apply:   func(cfg *Config, v any) { cfg.Freshness.News = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Freshness.News },
	},
	{
		key: "freshness.recommendation_ttl", typ: kDuration, env: "FINSIGHT_FRESHNESS_RECOMMENDATION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Freshness.Recommendation = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Freshness.Recommendation },
	},
	{
		key: "freshness.asset_ttl", typ: kDuration, env: "FINSIGHT_FRESHNESS_ASSET_TTL",
		apply:   func(cfg *Config, v any) { cfg.Freshness.Asset = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Freshness.Asset },
	},
	{
		key: "freshness.risk_ttl", typ: kDuration, env: "FINSIGHT_FRESHNESS_RISK_TTL",
		apply:   func(cfg *Config, v any) { cfg.Freshness.Risk = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Freshness.Risk },
	},
	{
		key: "refresher.interval", typ: kDuration, env: "FINSIGHT_REFRESHER_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Refresher.Interval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Refresher.Interval },
	},
	{
		key: "refresher.batch_size", typ: kInt, env: "FINSIGHT_REFRESHER_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Refresher.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Refresher.BatchSize },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "FINSIGHT_AUTH_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "log.level", typ: kString, env: "FINSIGHT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "FINSIGHT_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
}

// parseValue converts raw to the Go type of s.
func (s keySpec) parseValue(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err == nil && d < 0 {
			err = fmt.Errorf("negative duration %s", raw)
		}
		return d, err
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		name, raw := s.env, os.Getenv(s.env)
		if raw == "" && s.fallbackEnv != "" {
			name, raw = s.fallbackEnv, os.Getenv(s.fallbackEnv)
		}
		if raw == "" {
			continue
		}
		v, err := s.parseValue(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}
