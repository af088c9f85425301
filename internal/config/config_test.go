package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	d := Defaults()

	if d.Database.MaxOpenConns != 25 {
		t.Errorf("expected MaxOpenConns 25, got %d", d.Database.MaxOpenConns)
	}
	if d.Detector.Timeout != 60*time.Second {
		t.Errorf("expected detector timeout 60s, got %v", d.Detector.Timeout)
	}
	if d.Redaction.BlurSigma != 20 {
		t.Errorf("expected blur sigma 20, got %v", d.Redaction.BlurSigma)
	}
	if d.Pipeline.LockTTL != 2*time.Minute {
		t.Errorf("expected lock ttl 2m, got %v", d.Pipeline.LockTTL)
	}
	if d.Pipeline.IngestMode != IngestSync {
		t.Errorf("expected sync ingestion, got %q", d.Pipeline.IngestMode)
	}
	if d.Redis.ClaimInterval != 30*time.Second || d.Redis.MaxDeliveries != 5 {
		t.Errorf("unexpected redis claim settings %v / %d", d.Redis.ClaimInterval, d.Redis.MaxDeliveries)
	}
	if d.Storage.Backend != StorageFilesystem {
		t.Errorf("expected filesystem backend, got %q", d.Storage.Backend)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/db")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("DETECTOR_TIMEOUT", "5s")
	t.Setenv("REDACTION_BLUR_SIGMA", "12.5")
	t.Setenv("PIPELINE_CONCURRENCY", "9")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg := Load()

	if cfg.Database.URL != "postgres://u:p@localhost/db" {
		t.Errorf("unexpected database url %q", cfg.Database.URL)
	}
	if cfg.Database.MaxOpenConns != 7 {
		t.Errorf("expected 7 open conns, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Detector.Timeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Detector.Timeout)
	}
	if cfg.Redaction.BlurSigma != 12.5 {
		t.Errorf("expected sigma 12.5, got %v", cfg.Redaction.BlurSigma)
	}
	if cfg.Pipeline.Concurrency != 9 {
		t.Errorf("expected concurrency 9, got %d", cfg.Pipeline.Concurrency)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected allowed origins %v", cfg.Web.AllowedOrigins)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected debug level, got %q", cfg.Log.Level)
	}
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "-3")
	t.Setenv("DETECTOR_TIMEOUT", "soon")
	t.Setenv("REDACTION_JPEG_QUALITY", "abc")

	cfg := Load()

	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default 25, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Detector.Timeout != 60*time.Second {
		t.Errorf("expected default 60s, got %v", cfg.Detector.Timeout)
	}
	if cfg.Redaction.JPEGQuality != 92 {
		t.Errorf("expected default 92, got %d", cfg.Redaction.JPEGQuality)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, true},
		{"minio without endpoint", func(c *Config) { c.Storage.Backend = StorageMinio }, true},
		{"minio with endpoint", func(c *Config) {
			c.Storage.Backend = StorageMinio
			c.Storage.Minio.Endpoint = "localhost:9000"
		}, false},
		{"async without redis", func(c *Config) { c.Pipeline.IngestMode = IngestAsync }, true},
		{"async with redis", func(c *Config) {
			c.Pipeline.IngestMode = IngestAsync
			c.Redis.Addr = "localhost:6379"
		}, false},
		{"unknown ingest mode", func(c *Config) { c.Pipeline.IngestMode = "later" }, true},
		{"lock ttl shorter than detector timeout", func(c *Config) {
			c.Redis.Addr = "localhost:6379"
			c.Pipeline.LockTTL = 30 * time.Second
			c.Detector.Timeout = time.Minute
		}, true},
		{"lock ttl equal to detector timeout", func(c *Config) {
			c.Redis.Addr = "localhost:6379"
			c.Pipeline.LockTTL = time.Minute
			c.Detector.Timeout = time.Minute
		}, true},
		{"lock ttl ignored without redis", func(c *Config) {
			c.Pipeline.LockTTL = time.Second
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Defaults()
			tt.mutate(&d)
			err := d.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
