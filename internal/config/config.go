package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Storage backends.
const (
	StorageFilesystem = "filesystem"
	StorageMinio      = "minio"
)

// Ingestion modes.
const (
	IngestSync  = "sync"
	IngestAsync = "async"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Detector  DetectorConfig  `yaml:"detector"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	Redaction RedactionConfig `yaml:"redaction"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Auth      AuthConfig      `yaml:"auth"`
	Web       WebConfig       `yaml:"web"`
	Log       LogConfig       `yaml:"log"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`            // PostgreSQL connection URL
	MaxOpenConns int    `yaml:"max_open_conns"` // Maximum open connections (default 25)
	MaxIdleConns int    `yaml:"max_idle_conns"` // Maximum idle connections (default 5)
}

type DetectorConfig struct {
	URL     string        `yaml:"url"` // InsightFace embedding service
	Timeout time.Duration `yaml:"timeout"`
	Warmup  bool          `yaml:"warmup"` // run a blank-frame inference at start-up
}

type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"` // root directory for the filesystem backend
	Minio   MinioConfig `yaml:"minio"`
}

type MinioConfig struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UseSSL       bool   `yaml:"use_ssl"`
	BucketPrefix string `yaml:"bucket_prefix"` // buckets are <prefix>-originals, <prefix>-derived, ...
}

type RedisConfig struct {
	Addr     string `yaml:"addr"` // empty disables Redis (in-process locks, sync ingestion only)
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`

	ClaimInterval time.Duration `yaml:"claim_interval"` // idle time before a pending message is re-claimed
	MaxDeliveries int           `yaml:"max_deliveries"` // deliveries before a message is dropped
}

// Enabled reports whether a Redis address was configured.
func (c *RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type RedactionConfig struct {
	BlurSigma   float64 `yaml:"blur_sigma"`
	JPEGQuality int     `yaml:"jpeg_quality"`
}

type PipelineConfig struct {
	Concurrency int           `yaml:"concurrency"` // parallel photos for batch jobs
	LockTTL     time.Duration `yaml:"lock_ttl"`    // lease of the distributed per-photo lock
	IngestMode  string        `yaml:"ingest_mode"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"-"` // HMAC secret for bearer tokens issued by the account service
}

type WebConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins besides localhost
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envString returns the env var or the default when unset or empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Defaults returns the configuration embedded in defaults.yaml.
func Defaults() Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return cfg
}

func Load() *Config {
	d := Defaults()

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", d.Database.MaxOpenConns),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", d.Database.MaxIdleConns),
		},
		Detector: DetectorConfig{
			URL:     envString("DETECTOR_URL", d.Detector.URL),
			Timeout: envDuration("DETECTOR_TIMEOUT", d.Detector.Timeout),
			Warmup:  envBool("DETECTOR_WARMUP", d.Detector.Warmup),
		},
		Storage: StorageConfig{
			Backend: envString("STORAGE_BACKEND", d.Storage.Backend),
			Dir:     envString("STORAGE_DIR", d.Storage.Dir),
			Minio: MinioConfig{
				Endpoint:     os.Getenv("MINIO_ENDPOINT"),
				AccessKey:    os.Getenv("MINIO_ACCESS_KEY"),
				SecretKey:    os.Getenv("MINIO_SECRET_KEY"),
				UseSSL:       envBool("MINIO_USE_SSL", d.Storage.Minio.UseSSL),
				BucketPrefix: envString("MINIO_BUCKET_PREFIX", d.Storage.Minio.BucketPrefix),
			},
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", d.Redis.DB),
			Stream:   envString("REDIS_STREAM", d.Redis.Stream),
			Group:    envString("REDIS_GROUP", d.Redis.Group),
			Consumer: envString("REDIS_CONSUMER", hostnameOr("worker")),

			ClaimInterval: envDuration("REDIS_CLAIM_INTERVAL", d.Redis.ClaimInterval),
			MaxDeliveries: envInt("REDIS_MAX_DELIVERIES", d.Redis.MaxDeliveries),
		},
		Redaction: RedactionConfig{
			BlurSigma:   envFloat("REDACTION_BLUR_SIGMA", d.Redaction.BlurSigma),
			JPEGQuality: envInt("REDACTION_JPEG_QUALITY", d.Redaction.JPEGQuality),
		},
		Pipeline: PipelineConfig{
			Concurrency: envInt("PIPELINE_CONCURRENCY", d.Pipeline.Concurrency),
			LockTTL:     envDuration("PIPELINE_LOCK_TTL", d.Pipeline.LockTTL),
			IngestMode:  envString("PIPELINE_INGEST_MODE", d.Pipeline.IngestMode),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		},
		Web: WebConfig{
			Host: envString("WEB_HOST", d.Web.Host),
			Port: envInt("WEB_PORT", d.Web.Port),

			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", d.Web.AllowedOrigins),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", d.Log.Level),
		},
	}
}

// Validate checks the combinations Load cannot reject on its own.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageFilesystem:
		if c.Storage.Dir == "" {
			return fmt.Errorf("STORAGE_DIR is required for the filesystem backend")
		}
	case StorageMinio:
		if c.Storage.Minio.Endpoint == "" {
			return fmt.Errorf("MINIO_ENDPOINT is required for the minio backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Pipeline.IngestMode {
	case IngestSync:
	case IngestAsync:
		if !c.Redis.Enabled() {
			return fmt.Errorf("async ingestion requires REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown ingest mode %q", c.Pipeline.IngestMode)
	}

	// The lease is renewed while held, but a detector call must still fit in
	// one lease should a renewal be missed.
	if c.Redis.Enabled() && c.Pipeline.LockTTL <= c.Detector.Timeout {
		return fmt.Errorf("PIPELINE_LOCK_TTL (%s) must exceed DETECTOR_TIMEOUT (%s)",
			c.Pipeline.LockTTL, c.Detector.Timeout)
	}
	return nil
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
