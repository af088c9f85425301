package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/kozaktomas/photo-consent/internal/config"
	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database/postgres"
	"github.com/kozaktomas/photo-consent/internal/detector"
	"github.com/kozaktomas/photo-consent/internal/identity"
	"github.com/kozaktomas/photo-consent/internal/lock"
	"github.com/kozaktomas/photo-consent/internal/logging"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/kozaktomas/photo-consent/internal/queue"
	"github.com/kozaktomas/photo-consent/internal/redaction"
	"github.com/kozaktomas/photo-consent/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockPrefix = "photo-consent:lock:"

// app holds the services shared by every command.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	pool     *postgres.Pool
	store    *postgres.Store
	assets   storage.AssetStore
	detector *detector.Client
	redis    *redis.Client
	registry *prometheus.Registry
	ledger   *consent.Ledger
	orch     *pipeline.Orchestrator
	idents   *identity.Service
}

type appOptions struct {
	logOut io.Writer // defaults to stdout
	warmup bool      // run the detector warmup when configured
}

// newApp loads the configuration and connects every backend.
func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	log := logging.New(cfg.Log.Level)
	if opts.logOut != nil {
		log = logging.NewWithWriter(opts.logOut, cfg.Log.Level)
	}

	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.pool, err = postgres.Open(ctx, &cfg.Database, log)
	if err != nil {
		return nil, err
	}
	a.store = postgres.NewStore(a.pool)

	a.assets, err = openAssets(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.detector = detector.NewClient(cfg.Detector.URL, cfg.Detector.Timeout)
	if opts.warmup && cfg.Detector.Warmup {
		start := time.Now()
		if err := a.detector.Warmup(ctx); err != nil {
			// The service may still be loading its model; ingestion retries later.
			log.Warn().Err(err).Msg("detector warmup failed")
		} else {
			log.Info().Dur("took", time.Since(start)).Msg("detector warmed up")
		}
	}

	engine, err := redaction.NewEngine(redaction.Options{
		Sigma:       cfg.Redaction.BlurSigma,
		JPEGQuality: cfg.Redaction.JPEGQuality,
	})
	if err != nil {
		return nil, fmt.Errorf("redaction settings: %w", err)
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.Redis.Enabled() {
		a.redis, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		locker = lock.NewRedisLocker(a.redis, lockPrefix, cfg.Pipeline.LockTTL, log)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var enqueuer pipeline.Enqueuer
	if cfg.Pipeline.IngestMode == config.IngestAsync {
		enqueuer = queue.NewProducer(a.redis, cfg.Redis.Stream)
	}

	a.ledger = consent.NewLedger(a.store, log)
	a.orch = pipeline.New(pipeline.Deps{
		Store:       a.store,
		Assets:      a.assets,
		Detector:    a.detector,
		Engine:      engine,
		Ledger:      a.ledger,
		Locker:      locker,
		Metrics:     pipeline.NewMetrics(a.registry),
		Log:         log,
		Enqueuer:    enqueuer,
		Concurrency: cfg.Pipeline.Concurrency,
	})
	a.idents = identity.NewService(a.store, a.assets, a.detector, a.orch, cfg.Pipeline.Concurrency, log)

	return a, nil
}

// Close releases the database and Redis connections.
func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing redis")
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.log.Warn().Err(err).Msg("closing database")
		}
	}
}

func openAssets(ctx context.Context, cfg *config.Config) (storage.AssetStore, error) {
	if cfg.Storage.Backend == config.StorageMinio {
		store, err := storage.NewMinioStore(cfg.Storage.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBuckets(ctx); err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := storage.NewFilesystemStore(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// openCLI is newApp for short-lived commands: logs go to stderr so stdout
// carries only the command output.
func openCLI(ctx context.Context) (*app, error) {
	return newApp(ctx, appOptions{logOut: os.Stderr})
}
