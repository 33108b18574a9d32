package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/civicreport-go/internal/storage"
	"github.com/eshaffer321/civicreport-go/internal/types"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLocale         = "en"
	DefaultStorageBackend = BackendFile
	DefaultLogLevel       = "info"
	DefaultPlaceholderID  = "guest"

	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
	BackendRedis  = "redis"
)

// DefaultCandidates are tried when no candidate is configured: the host
// loopback, the Android emulator alias, then the LAN default.
var DefaultCandidates = []string{"localhost", "10.0.2.2", "192.168.1.100"}

// Config holds the client settings.
type Config struct {
	Endpoint  EndpointConfig    `yaml:"endpoint"`
	Retry     types.RetryPolicy `yaml:"retry"`
	Storage   StorageConfig     `yaml:"storage"`
	Session   SessionConfig     `yaml:"session"`
	Locale    string            `yaml:"locale"`
	LogLevel  string            `yaml:"log_level"`
	SentryDSN string            `yaml:"sentry_dsn,omitempty"`

	// RateLimit caps outgoing calls per second; 0 disables limiting
	RateLimit float64 `yaml:"rate_limit,omitempty"`
}

// EndpointConfig drives endpoint discovery.
type EndpointConfig struct {
	Candidates   []string      `yaml:"candidates"`
	DefaultPort  int           `yaml:"default_port"`
	FallbackHost string        `yaml:"fallback_host,omitempty"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	TTL          time.Duration `yaml:"ttl"`

	// FailureThreshold consecutive exhausted calls mark the endpoint stale
	FailureThreshold int `yaml:"failure_threshold"`
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path,omitempty"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig is used by the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
}

// SessionConfig tunes the session reconciler.
type SessionConfig struct {
	PlaceholderID string `yaml:"placeholder_id"`
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "civicreport", "config.yaml")
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	return errors.Wrap(os.WriteFile(path, data, 0o600), "failed to write config")
}

// Validate checks the fields ApplyDefaults cannot fix.
func Validate(cfg Config) error {
	if len(cfg.Endpoint.Candidates) == 0 && cfg.Endpoint.FallbackHost == "" {
		return errors.New("endpoint.candidates is required")
	}
	if p := cfg.Endpoint.DefaultPort; p <= 0 || p > 65535 {
		return errors.Errorf("endpoint.default_port %d out of range", p)
	}
	if cfg.Endpoint.FailureThreshold < 0 {
		return errors.New("endpoint.failure_threshold must not be negative")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return err
	}
	switch cfg.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendBadger:
		if cfg.Storage.Path == "" {
			return errors.Errorf("storage.path is required for the %s backend", cfg.Storage.Backend)
		}
	case BackendRedis:
		if cfg.Storage.Redis.Addr == "" {
			return errors.New("storage.redis.addr is required for the redis backend")
		}
	default:
		return errors.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}
	if cfg.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Endpoint.Candidates) == 0 {
		cfg.Endpoint.Candidates = append([]string(nil), DefaultCandidates...)
	}
	if cfg.Endpoint.DefaultPort == 0 {
		cfg.Endpoint.DefaultPort = types.DefaultPort
	}
	if cfg.Endpoint.ProbeTimeout == 0 {
		cfg.Endpoint.ProbeTimeout = types.DefaultProbeTimeout
	}
	if cfg.Endpoint.TTL == 0 {
		cfg.Endpoint.TTL = types.DefaultEndpointTTL
	}
	if cfg.Endpoint.FailureThreshold == 0 {
		cfg.Endpoint.FailureThreshold = types.DefaultFailureThreshold
	}

	def := types.DefaultRetryPolicy
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = def.MaxAttempts
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.BaseDelay
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry.Multiplier = def.Multiplier
	}
	if cfg.Retry.TimeoutPerAttempt == 0 {
		cfg.Retry.TimeoutPerAttempt = def.TimeoutPerAttempt
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.Path == "" && (cfg.Storage.Backend == BackendFile || cfg.Storage.Backend == BackendBadger) {
		cfg.Storage.Path = filepath.Join(filepath.Dir(DefaultPath()), cfg.Storage.Backend)
	}
	if cfg.Session.PlaceholderID == "" {
		cfg.Session.PlaceholderID = DefaultPlaceholderID
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
}

// ApplyEnv overrides fields from CIVIC_* environment variables. getenv is
// usually os.Getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("CIVIC_CANDIDATES"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.Endpoint.Candidates = hosts
	}
	if v := getenv("CIVIC_FALLBACK_HOST"); v != "" {
		cfg.Endpoint.FallbackHost = v
	}
	if v := getenv("CIVIC_DEFAULT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "invalid CIVIC_DEFAULT_PORT")
		}
		cfg.Endpoint.DefaultPort = port
	}
	if v := getenv("CIVIC_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := getenv("CIVIC_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := getenv("CIVIC_REDIS_ADDR"); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := getenv("CIVIC_LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := getenv("CIVIC_SENTRY_DSN"); v != "" {
		cfg.SentryDSN = v
	}
	return nil
}

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return storage.NewMemoryStore(), nil
	case BackendFile:
		return storage.NewFileStore(cfg.Path), nil
	case BackendBadger:
		s, err := storage.OpenBadgerStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := storage.NewRedisStore(ctx, storage.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errors.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
