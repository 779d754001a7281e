// Package config holds the service configuration: defaults, an optional
// YAML file and NOTIFIER_* environment overrides, in that order.
package config

import (
	"time"

	"go-upload-notifier/internal/infrastructure/logger"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     logger.Config     `yaml:"logging"`
	Registry    RegistryConfig    `yaml:"registry"`
	Broker      BrokerConfig      `yaml:"broker"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	NATS        NATSConfig        `yaml:"nats"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Resize      ResizeConfig      `yaml:"resize"`
	Broadcast   BroadcastConfig   `yaml:"broadcast"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Sentry      SentryConfig      `yaml:"sentry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RegistryConfig selects the connection registry driver.
type RegistryConfig struct {
	Driver    string `yaml:"driver"` // memory, redis, postgres
	Namespace string `yaml:"namespace"`
	PageSize  int    `yaml:"page_size"`
}

// BrokerConfig selects the fan-out broker driver and its redelivery policy.
type BrokerConfig struct {
	Driver      string        `yaml:"driver"` // memory, nats, redis
	Subject     string        `yaml:"subject"`
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	AckWait     time.Duration `yaml:"ack_wait"`
	Workers     int           `yaml:"workers"`
}

type RedisConfig struct {
	Addrs        []string      `yaml:"addrs"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	BlockTimeout time.Duration `yaml:"block_timeout"` // XREADGROUP block
	StreamMaxLen int64         `yaml:"stream_max_len"`
}

type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

type NATSConfig struct {
	URL    string `yaml:"url"`
	Stream string `yaml:"stream"`
}

// ObjectStoreConfig configures the store holding uploaded objects.
type ObjectStoreConfig struct {
	Driver       string `yaml:"driver"` // memory, s3
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKeyID  string `yaml:"access_key_id"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`

	// MaxObjectBytes caps how much of one object is read into memory.
	MaxObjectBytes int64 `yaml:"max_object_bytes"`
}

type ResizeConfig struct {
	MaxDimension     int           `yaml:"max_dimension"`
	MaxPixels        int64         `yaml:"max_pixels"` // source width*height
	DerivedPrefix    string        `yaml:"derived_prefix"`
	DerivedContainer string        `yaml:"derived_container"`
	DedupeTTL        time.Duration `yaml:"dedupe_ttl"`
	DedupeCacheBytes int64         `yaml:"dedupe_cache_bytes"`
}

type BroadcastConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	PushTimeout    time.Duration `yaml:"push_timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
	Release     string `yaml:"release"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // long-lived SSE streams
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Logging: *logger.NewDefaultConfig(),
		Registry: RegistryConfig{
			Driver:    "memory",
			Namespace: "notifier",
			PageSize:  500,
		},
		Broker: BrokerConfig{
			Driver:      "memory",
			Subject:     "uploads.completed",
			MaxAttempts: 5,
			BackoffBase: 500 * time.Millisecond,
			AckWait:     30 * time.Second,
			Workers:     4,
		},
		Redis: RedisConfig{
			Addrs:        []string{"localhost:6379"},
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     20,
			BlockTimeout: 5 * time.Second,
			StreamMaxLen: 100000,
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Stream: "UPLOADS",
		},
		ObjectStore: ObjectStoreConfig{
			Driver:         "memory",
			Region:         "us-east-1",
			MaxObjectBytes: 64 << 20,
		},
		Resize: ResizeConfig{
			MaxDimension:     100,
			MaxPixels:        50_000_000,
			DerivedPrefix:    "thumbnails/",
			DedupeTTL:        10 * time.Minute,
			DedupeCacheBytes: 1 << 20,
		},
		Broadcast: BroadcastConfig{
			Concurrency:    64,
			PushTimeout:    5 * time.Second,
			MaxAttempts:    3,
			BackoffInitial: 100 * time.Millisecond,
			BackoffMax:     2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "upload-notifier",
		},
	}
}
