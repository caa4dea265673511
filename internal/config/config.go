package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	CORS       CORSConfig
	Storage    StorageConfig
	Cache      CacheConfig
	Completion CompletionConfig
	Freshness  FreshnessConfig
	Refresher  RefresherConfig
	Auth       AuthConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
}

type CORSConfig struct {
	// AllowedOrigins is a comma-separated list; "*" allows any origin.
	AllowedOrigins string
}

type StorageConfig struct {
	DataDir string
}

// CacheConfig selects where news and recommendation blobs live.
type CacheConfig struct {
	Backend  string // file or redis
	Dir      string // defaults to <data_dir>/cache
	RedisURL string
}

type CompletionConfig struct {
	BaseURL       string
	APIKey        string
	FastModel     string
	DeepModel     string
	Timeout       time.Duration
	DeepTimeout   time.Duration
	SearchDomains string
}

// FreshnessConfig holds how long each kind of cached answer is served
// without asking the model again.
type FreshnessConfig struct {
	News           time.Duration
	Recommendation time.Duration
	Asset          time.Duration
	Risk           time.Duration
}

type RefresherConfig struct {
	// Interval of zero disables the background refresher.
	Interval  time.Duration
	BatchSize int
}

type AuthConfig struct {
	JWTSecret string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	CacheFile  = "file"
	CacheRedis = "redis"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 8000},
		CORS:   CORSConfig{AllowedOrigins: "http://localhost:3000,http://localhost:3001"},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			Backend:  CacheFile,
			RedisURL: "redis://localhost:6379/0",
		},
		Completion: CompletionConfig{
			BaseURL:       "https://api.perplexity.ai",
			FastModel:     "sonar-pro",
			DeepModel:     "sonar-deep-research",
			Timeout:       60 * time.Second,
			DeepTimeout:   300 * time.Second,
			SearchDomains: "bloomberg.com,barrons.com,fortuneindia.com,financialexpress.com",
		},
		Freshness: FreshnessConfig{
			News:           3 * time.Hour,
			Recommendation: 6 * time.Hour,
			Asset:          24 * time.Hour,
			Risk:           24 * time.Hour,
		},
		Refresher: RefresherConfig{BatchSize: 20},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads configuration in increasing precedence: defaults, the JSON
// file at $XDG_CONFIG_HOME/finsight/config.json, the secrets file next to
// it, and FINSIGHT_* environment variables. A .env file in the working
// directory is loaded into the environment first; variables already set
// are not overwritten.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newFileBackend(configPath()), secretsFile{path: secretsPath()})
}

func configPath() string  { return filepath.Join(configDir(), "config.json") }
func secretsPath() string { return filepath.Join(configDir(), "secrets.json") }

func loadWith(b ConfigBackend, secrets SecretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	if err := applySecrets(&cfg, secrets); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = filepath.Join(cfg.Storage.DataDir, "cache")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applySecrets(cfg *Config, secrets SecretStore) error {
	for _, s := range specs {
		if !s.secret {
			continue
		}
		val, err := secrets.Get(s.key)
		switch {
		case err == nil:
			s.apply(cfg, val)
		case errors.Is(err, errSecretNotSet), errors.Is(err, os.ErrNotExist):
		default:
			fmt.Fprintf(os.Stderr, "[WARN] could not read secret %s: %v\n", s.key, err)
		}
	}
	return nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Cache.Backend {
	case CacheFile, CacheRedis:
	default:
		return fmt.Errorf("cache.backend must be %q or %q, got %q", CacheFile, CacheRedis, c.Cache.Backend)
	}
	if c.Completion.FastModel == "" || c.Completion.DeepModel == "" {
		return errors.New("completion.fast_model and completion.deep_model must be set")
	}
	return nil
}

// RequireServeSecrets reports the secrets that must be present before the
// server can start.
func (c Config) RequireServeSecrets() error {
	var missing []string
	if c.Completion.APIKey == "" {
		missing = append(missing, "completion.api_key (FINSIGHT_COMPLETION_API_KEY or PERPLEXITY_API_KEY)")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret (FINSIGHT_AUTH_JWT_SECRET)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s. Set via environment, .env, or `finsight config set`", strings.Join(missing, ", "))
	}
	return nil
}

// SearchDomainList splits the configured domain allow-list.
func (c CompletionConfig) SearchDomainList() []string {
	var out []string
	for _, d := range strings.Split(c.SearchDomains, ",") {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}
