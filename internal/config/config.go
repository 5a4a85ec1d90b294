package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort            = 8080
	defaultDataDir         = "storage/data"
	defaultDownloadDir     = "storage/downloads"
	defaultLogLevel        = "info"
	defaultMinFreeSpace    = 1 << 30
	defaultMaxRetries      = 3
	defaultRetryDelay      = 5 * time.Second
	defaultRate            = 30
	defaultRatePeriod      = time.Minute
	defaultBurst           = 10
	defaultCooldown        = 5 * time.Second
	defaultAcquireTimeout  = 30 * time.Second
	defaultCacheTTL        = time.Hour
	defaultCacheMaxSize    = 10 << 20
	defaultHistoryEntries  = 1000
	defaultTerminateGrace  = 5 * time.Second
	defaultStorageBackend  = "file"
	defaultRedisPrefix     = "mediaqueue:"
	defaultObjectKeyPrefix = "downloads"

	envPrefix = "MEDIAQ_"
)

// ByteSize is a byte count written in config as "1GB", "10MiB" or a plain number.
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return fmt.Errorf("byte size: %w", err)
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("byte size %q: %w", s, err)
	}
	*b = ByteSize(v)
	return nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
}

func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r, //nolint:wrapcheck
		validation.Field(&r.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&r.Delay, validation.Required, validation.Min(time.Millisecond)),
	)
}

// RateLimitConfig bounds metadata lookups: Rate tokens per Period, at most
// Burst stored.
type RateLimitConfig struct {
	Rate           float64       `yaml:"rate"`
	Period         time.Duration `yaml:"period"`
	Burst          int           `yaml:"burst"`
	Cooldown       time.Duration `yaml:"cooldown"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

func (r RateLimitConfig) Validate() error {
	return validation.ValidateStruct(&r, //nolint:wrapcheck
		validation.Field(&r.Rate, validation.Required, validation.Min(0.0)),
		validation.Field(&r.Period, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&r.Burst, validation.Required, validation.Min(1)),
		validation.Field(&r.Cooldown, validation.Min(time.Duration(0))),
		validation.Field(&r.AcquireTimeout, validation.Min(time.Duration(0))),
	)
}

type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	MaxSize ByteSize      `yaml:"max_size"`
}

func (c CacheConfig) Validate() error {
	return validation.ValidateStruct(&c, //nolint:wrapcheck
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.MaxSize, validation.Required),
	)
}

type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

func (h HistoryConfig) Validate() error {
	return validation.ValidateStruct(&h, //nolint:wrapcheck
		validation.Field(&h.MaxEntries, validation.Required, validation.Min(1)),
	)
}

type StorageConfig struct {
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`
}

func (s StorageConfig) Validate() error {
	return validation.ValidateStruct(&s, //nolint:wrapcheck
		validation.Field(&s.Backend, validation.Required, validation.In("file", "sqlite", "redis")),
		validation.Field(&s.RedisAddr, validation.By(func(any) error {
			if s.Backend == "redis" && s.RedisAddr == "" {
				return errors.New("is required for the redis backend")
			}
			return nil
		})),
		validation.Field(&s.RedisDB, validation.Min(0)),
	)
}

type FetcherConfig struct {
	Binary         string        `yaml:"binary"`
	ExtraArgs      []string      `yaml:"extra_args"`
	TerminateGrace time.Duration `yaml:"terminate_grace"`
}

type OBSConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

type PublishConfig struct {
	OBS OBSConfig `yaml:"obs"`
}

// Config describes runtime configuration for the service.
type Config struct {
	Port                   int             `yaml:"port"`
	DataDir                string          `yaml:"data_dir"`
	DownloadDir            string          `yaml:"download_dir"`
	LogLevel               string          `yaml:"log_level"`
	MaxConcurrentDownloads int             `yaml:"max_concurrent_downloads"`
	URLPattern             string          `yaml:"url_pattern"`
	MinFreeSpace           ByteSize        `yaml:"min_free_space"`
	Retry                  RetryConfig     `yaml:"retry"`
	RateLimit              RateLimitConfig `yaml:"rate_limit"`
	Cache                  CacheConfig     `yaml:"cache"`
	History                HistoryConfig   `yaml:"history"`
	Storage                StorageConfig   `yaml:"storage"`
	Fetcher                FetcherConfig   `yaml:"fetcher"`
	Publish                PublishConfig   `yaml:"publish"`
}

func Default() Config {
	return Config{
		Port:         defaultPort,
		DataDir:      defaultDataDir,
		DownloadDir:  defaultDownloadDir,
		LogLevel:     defaultLogLevel,
		MinFreeSpace: defaultMinFreeSpace,
		Retry:        RetryConfig{MaxRetries: defaultMaxRetries, Delay: defaultRetryDelay},
		RateLimit: RateLimitConfig{
			Rate:           defaultRate,
			Period:         defaultRatePeriod,
			Burst:          defaultBurst,
			Cooldown:       defaultCooldown,
			AcquireTimeout: defaultAcquireTimeout,
		},
		Cache:   CacheConfig{TTL: defaultCacheTTL, MaxSize: defaultCacheMaxSize},
		History: HistoryConfig{MaxEntries: defaultHistoryEntries},
		Storage: StorageConfig{Backend: defaultStorageBackend, RedisPrefix: defaultRedisPrefix},
		Fetcher: FetcherConfig{TerminateGrace: defaultTerminateGrace},
		Publish: PublishConfig{OBS: OBSConfig{Prefix: defaultObjectKeyPrefix}},
	}
}

// Load reads YAML config from path and applies MEDIAQ_* environment
// overrides. A missing or empty file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	switch {
	case err == nil:
		if len(fileData) > 0 {
			if err := yaml.Unmarshal(fileData, &cfg); err != nil {
				return cfg, fmt.Errorf("parse yaml: %w", err)
			}
		}
	case os.IsNotExist(err):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = defaultDownloadDir
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.MaxConcurrentDownloads == 0 {
		cfg.MaxConcurrentDownloads = runtime.NumCPU()
		if cfg.MaxConcurrentDownloads < 1 {
			cfg.MaxConcurrentDownloads = 2
		}
	}
	cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = defaultStorageBackend
	}
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c, //nolint:wrapcheck
		validation.Field(&c.Port, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.LogLevel, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.MaxConcurrentDownloads, validation.Min(1)),
		validation.Field(&c.MinFreeSpace, validation.Required),
		validation.Field(&c.Retry),
		validation.Field(&c.RateLimit),
		validation.Field(&c.Cache),
		validation.Field(&c.History),
		validation.Field(&c.Storage),
	)
}

// envLoader applies overrides and keeps the first parse error.
type envLoader struct {
	lookup func(string) string
	err    error
}

func (l *envLoader) str(key string, dst *string) {
	if v := l.lookup(key); v != "" {
		*dst = v
	}
}

func (l *envLoader) integer(key string, dst *int) {
	v := l.lookup(key)
	if v == "" || l.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.err = fmt.Errorf("env %s: %w", key, err)
		return
	}
	*dst = n
}

func (l *envLoader) float(key string, dst *float64) {
	v := l.lookup(key)
	if v == "" || l.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.err = fmt.Errorf("env %s: %w", key, err)
		return
	}
	*dst = f
}

func (l *envLoader) duration(key string, dst *time.Duration) {
	v := l.lookup(key)
	if v == "" || l.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.err = fmt.Errorf("env %s: %w", key, err)
		return
	}
	*dst = d
}

func (l *envLoader) bytes(key string, dst *ByteSize) {
	v := l.lookup(key)
	if v == "" || l.err != nil {
		return
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		l.err = fmt.Errorf("env %s: %w", key, err)
		return
	}
	*dst = ByteSize(n)
}

func applyEnv(cfg *Config, lookup func(string) string) error {
	l := &envLoader{lookup: lookup}
	l.integer(envPrefix+"PORT", &cfg.Port)
	l.str(envPrefix+"DATA_DIR", &cfg.DataDir)
	l.str(envPrefix+"DOWNLOAD_DIR", &cfg.DownloadDir)
	l.str(envPrefix+"LOG_LEVEL", &cfg.LogLevel)
	l.integer(envPrefix+"MAX_CONCURRENT_DOWNLOADS", &cfg.MaxConcurrentDownloads)
	l.str(envPrefix+"URL_PATTERN", &cfg.URLPattern)
	l.bytes(envPrefix+"MIN_FREE_SPACE", &cfg.MinFreeSpace)

	l.integer(envPrefix+"RETRY_MAX", &cfg.Retry.MaxRetries)
	l.duration(envPrefix+"RETRY_DELAY", &cfg.Retry.Delay)

	l.float(envPrefix+"RATE_LIMIT_RATE", &cfg.RateLimit.Rate)
	l.duration(envPrefix+"RATE_LIMIT_PERIOD", &cfg.RateLimit.Period)
	l.integer(envPrefix+"RATE_LIMIT_BURST", &cfg.RateLimit.Burst)
	l.duration(envPrefix+"RATE_LIMIT_COOLDOWN", &cfg.RateLimit.Cooldown)
	l.duration(envPrefix+"RATE_LIMIT_ACQUIRE_TIMEOUT", &cfg.RateLimit.AcquireTimeout)

	l.duration(envPrefix+"CACHE_TTL", &cfg.Cache.TTL)
	l.bytes(envPrefix+"CACHE_MAX_SIZE", &cfg.Cache.MaxSize)
	l.integer(envPrefix+"HISTORY_MAX_ENTRIES", &cfg.History.MaxEntries)

	l.str(envPrefix+"STORAGE_BACKEND", &cfg.Storage.Backend)
	l.str(envPrefix+"REDIS_ADDR", &cfg.Storage.RedisAddr)
	l.str(envPrefix+"REDIS_PASSWORD", &cfg.Storage.RedisPassword)
	l.integer(envPrefix+"REDIS_DB", &cfg.Storage.RedisDB)

	l.str(envPrefix+"YTDLP_BINARY", &cfg.Fetcher.Binary)

	l.str("OBS_ENDPOINT", &cfg.Publish.OBS.Endpoint)
	l.str("OBS_ACCESS_KEY", &cfg.Publish.OBS.AccessKey)
	l.str("OBS_SECRET_KEY", &cfg.Publish.OBS.SecretKey)
	l.str("OBS_BUCKET", &cfg.Publish.OBS.Bucket)
	return l.err
}
