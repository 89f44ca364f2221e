package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"

	"github.com/dunamismax/pixelaug/internal/logging"
	"github.com/dunamismax/pixelaug/internal/storage"
	"github.com/dunamismax/pixelaug/internal/telemetry"
	"github.com/dunamismax/pixelaug/internal/webhook"
)

const (
	EnvPrefix = "PIXELAUG"
	// EnvConfigFile names an optional YAML/JSON/TOML file read before env.
	EnvConfigFile = "PIXELAUG_CONFIG"
)

type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Log      LogConfig      `mapstructure:"log"`
	Progress ProgressConfig `mapstructure:"progress"`
}

type APIConfig struct {
	Addr          string        `mapstructure:"addr"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Name          string `mapstructure:"name"`
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

// RedisOptions points go-redis at the same instance asynq uses.
func (q QueueConfig) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	MaxActiveJobs    int    `mapstructure:"max_active_jobs"`
	ImageConcurrency int    `mapstructure:"image_concurrency"`
	LocalOutputDir   string `mapstructure:"local_output_dir"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
}

type StorageConfig struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"use_ssl"`
	OutputPrefix string `mapstructure:"output_prefix"`
}

func (s StorageConfig) Client() storage.Config {
	return storage.Config{
		Endpoint: s.Endpoint,
		Access:   s.AccessKey,
		Secret:   s.SecretKey,
		Bucket:   s.Bucket,
		Region:   s.Region,
		UseSSL:   s.UseSSL,
	}
}

type DatabaseConfig struct {
	// DSN selects the Postgres job store; empty keeps jobs in memory.
	DSN string `mapstructure:"dsn"`
}

type TracingConfig struct {
	Exporter     string `mapstructure:"exporter"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
}

func (t TracingConfig) Trace(service string) telemetry.TraceConfig {
	return telemetry.TraceConfig{
		ServiceName:  service,
		Exporter:     t.Exporter,
		OTLPEndpoint: t.OTLPEndpoint,
		OTLPInsecure: t.OTLPInsecure,
	}
}

type WebhookConfig struct {
	SigningSecret  string        `mapstructure:"signing_secret"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

func (w WebhookConfig) Client() webhook.Config {
	return webhook.Config{
		SigningSecret:  w.SigningSecret,
		Timeout:        w.Timeout,
		MaxAttempts:    w.MaxAttempts,
		InitialBackoff: w.InitialBackoff,
		MaxBackoff:     w.MaxBackoff,
	}
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Encoding   string `mapstructure:"encoding"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func (l LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:      l.Level,
		Encoding:   l.Encoding,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

type ProgressConfig struct {
	// Backend is "redis" (shared between api and worker) or "memory".
	Backend   string        `mapstructure:"backend"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.presign_expiry", 15*time.Minute)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 15*time.Second)

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", max(1, runtime.NumCPU()/2))
	v.SetDefault("worker.image_concurrency", min(8, runtime.NumCPU()))
	v.SetDefault("worker.local_output_dir", "./.pixelaug-output")
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "pixelaug-jobs")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.use_ssl", false)
	v.SetDefault("storage.output_prefix", "outputs")

	v.SetDefault("database.dsn", "")

	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.otlp_endpoint", "")
	v.SetDefault("tracing.otlp_insecure", true)

	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.max_backoff", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	v.SetDefault("progress.backend", "redis")
	v.SetDefault("progress.ttl", 24*time.Hour)
	v.SetDefault("progress.key_prefix", "pixelaug:progress")
}

// Load reads defaults, then the optional file named by PIXELAUG_CONFIG, then
// PIXELAUG_* environment variables (PIXELAUG_QUEUE_REDIS_ADDR sets
// queue.redis_addr).
func Load() (Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (Config, error) {
	defaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Progress.Backend = strings.ToLower(strings.TrimSpace(cfg.Progress.Backend))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be at least 1"))
	}
	if c.Worker.MaxActiveJobs < 1 {
		errs = append(errs, errors.New("worker.max_active_jobs must be at least 1"))
	}
	if c.Worker.ImageConcurrency < 1 {
		errs = append(errs, errors.New("worker.image_concurrency must be at least 1"))
	}
	switch c.Progress.Backend {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Errorf("progress.backend must be redis or memory, got %q", c.Progress.Backend))
	}
	if c.Progress.TTL <= 0 {
		errs = append(errs, errors.New("progress.ttl must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
