package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"go-upload-notifier/internal/infrastructure/logger"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "notifier.yaml"

const envPrefix = "NOTIFIER_"

// MinDedupeCacheBytes is the smallest useful resize dedupe cache.
const MinDedupeCacheBytes = 4 << 10

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// A missing YAML file is not an error.
func Load(yamlPath string) (*Config, error) {
	if yamlPath == "" {
		yamlPath = DefaultConfigFile
	}

	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays NOTIFIER_* variables onto cfg. Only non-empty values
// override.
func loadEnv(cfg *Config) error {
	l := envLoader{}

	l.setString(&cfg.Server.Addr, "ADDR")
	l.setLevel(&cfg.Logging.Level, "LOG_LEVEL")
	l.setString(&cfg.Logging.Format, "LOG_FORMAT")
	l.setString(&cfg.Logging.Output, "LOG_OUTPUT")
	l.setString(&cfg.Logging.FilePath, "LOG_FILE")

	l.setString(&cfg.Registry.Driver, "REGISTRY_DRIVER")
	l.setString(&cfg.Registry.Namespace, "REGISTRY_NAMESPACE")
	l.setInt(&cfg.Registry.PageSize, "REGISTRY_PAGE_SIZE")

	l.setString(&cfg.Broker.Driver, "BROKER_DRIVER")
	l.setString(&cfg.Broker.Subject, "BROKER_SUBJECT")
	l.setInt(&cfg.Broker.MaxAttempts, "BROKER_MAX_ATTEMPTS")
	l.setDuration(&cfg.Broker.BackoffBase, "BROKER_BACKOFF_BASE")
	l.setInt(&cfg.Broker.Workers, "BROKER_WORKERS")

	l.setList(&cfg.Redis.Addrs, "REDIS_ADDRS")
	l.setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	l.setInt(&cfg.Redis.DB, "REDIS_DB")
	l.setString(&cfg.Postgres.DSN, "DATABASE_URL")
	l.setString(&cfg.NATS.URL, "NATS_URL")

	l.setString(&cfg.ObjectStore.Driver, "OBJECT_STORE_DRIVER")
	l.setString(&cfg.ObjectStore.Region, "OBJECT_STORE_REGION")
	l.setString(&cfg.ObjectStore.Endpoint, "OBJECT_STORE_ENDPOINT")
	l.setString(&cfg.ObjectStore.AccessKeyID, "OBJECT_STORE_ACCESS_KEY_ID")
	l.setString(&cfg.ObjectStore.SecretKey, "OBJECT_STORE_SECRET_KEY")
	l.setBool(&cfg.ObjectStore.UsePathStyle, "OBJECT_STORE_PATH_STYLE")
	l.setInt64(&cfg.ObjectStore.MaxObjectBytes, "OBJECT_STORE_MAX_BYTES")

	l.setInt(&cfg.Resize.MaxDimension, "RESIZE_MAX_DIMENSION")
	l.setInt64(&cfg.Resize.MaxPixels, "RESIZE_MAX_PIXELS")
	l.setInt64(&cfg.Resize.DedupeCacheBytes, "RESIZE_DEDUPE_CACHE_BYTES")
	l.setString(&cfg.Resize.DerivedPrefix, "RESIZE_DERIVED_PREFIX")
	l.setString(&cfg.Resize.DerivedContainer, "RESIZE_DERIVED_CONTAINER")

	l.setInt(&cfg.Broadcast.Concurrency, "BROADCAST_CONCURRENCY")
	l.setDuration(&cfg.Broadcast.PushTimeout, "BROADCAST_PUSH_TIMEOUT")
	l.setInt(&cfg.Broadcast.MaxAttempts, "BROADCAST_MAX_ATTEMPTS")

	l.setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
	l.setString(&cfg.Sentry.DSN, "SENTRY_DSN")
	l.setString(&cfg.Sentry.Environment, "SENTRY_ENVIRONMENT")

	return errors.Join(l.errs...)
}

type envLoader struct {
	errs []error
}

func (l *envLoader) lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func (l *envLoader) fail(key string, err error) {
	l.errs = append(l.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
}

func (l *envLoader) setString(dst *string, key string) {
	if v, ok := l.lookup(key); ok {
		*dst = v
	}
}

func (l *envLoader) setList(dst *[]string, key string) {
	if v, ok := l.lookup(key); ok {
		*dst = strings.Split(v, ",")
	}
}

func (l *envLoader) setInt(dst *int, key string) {
	if v, ok := l.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			l.fail(key, err)
			return
		}
		*dst = n
	}
}

func (l *envLoader) setInt64(dst *int64, key string) {
	if v, ok := l.lookup(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			l.fail(key, err)
			return
		}
		*dst = n
	}
}

func (l *envLoader) setBool(dst *bool, key string) {
	if v, ok := l.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			l.fail(key, err)
			return
		}
		*dst = b
	}
}

func (l *envLoader) setDuration(dst *time.Duration, key string) {
	if v, ok := l.lookup(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			l.fail(key, err)
			return
		}
		*dst = d
	}
}

func (l *envLoader) setLevel(dst *logger.Level, key string) {
	if v, ok := l.lookup(key); ok {
		lvl, err := logger.ParseLevel(v)
		if err != nil {
			l.fail(key, err)
			return
		}
		*dst = lvl
	}
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Registry.Driver {
	case "memory", "redis":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			errs = append(errs, errors.New("postgres.dsn is required for the postgres registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown registry driver %q", cfg.Registry.Driver))
	}

	switch cfg.Broker.Driver {
	case "memory", "nats", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown broker driver %q", cfg.Broker.Driver))
	}

	switch cfg.ObjectStore.Driver {
	case "memory", "s3":
	default:
		errs = append(errs, fmt.Errorf("unknown object store driver %q", cfg.ObjectStore.Driver))
	}

	if (cfg.Registry.Driver == "redis" || cfg.Broker.Driver == "redis") && len(cfg.Redis.Addrs) == 0 {
		errs = append(errs, errors.New("redis.addrs is required"))
	}
	if cfg.Registry.PageSize < 1 {
		errs = append(errs, errors.New("registry.page_size must be positive"))
	}
	if cfg.Broker.MaxAttempts < 1 {
		errs = append(errs, errors.New("broker.max_attempts must be at least 1"))
	}
	if cfg.Broker.Workers < 1 {
		errs = append(errs, errors.New("broker.workers must be at least 1"))
	}
	if cfg.Resize.MaxDimension < 1 {
		errs = append(errs, errors.New("resize.max_dimension must be positive"))
	}
	if cfg.Resize.MaxPixels < 1 {
		errs = append(errs, errors.New("resize.max_pixels must be positive"))
	}
	if cfg.Resize.DedupeCacheBytes < MinDedupeCacheBytes {
		errs = append(errs, fmt.Errorf("resize.dedupe_cache_bytes must be at least %d", MinDedupeCacheBytes))
	}
	if cfg.ObjectStore.MaxObjectBytes < 1 {
		errs = append(errs, errors.New("object_store.max_object_bytes must be positive"))
	}
	if cfg.Broadcast.Concurrency < 1 {
		errs = append(errs, errors.New("broadcast.concurrency must be at least 1"))
	}
	if cfg.Broadcast.MaxAttempts < 1 {
		errs = append(errs, errors.New("broadcast.max_attempts must be at least 1"))
	}
	if cfg.Broadcast.PushTimeout <= 0 {
		errs = append(errs, errors.New("broadcast.push_timeout must be positive"))
	}

	return errors.Join(errs...)
}
