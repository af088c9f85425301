package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/kozaktomas/photo-consent/internal/queue"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background ingestion worker",
	Long: `Consume ingestion tasks from the Redis stream.

Used with PIPELINE_INGEST_MODE=async: uploads return immediately and one or
more workers detect, match and redact the photos. Tasks that fail are
delivered again after REDIS_CLAIM_INTERVAL, at most REDIS_MAX_DELIVERIES times.

Examples:
  # Start a worker named after the host
  photo-consent worker

  # Run a second worker on the same host
  REDIS_CONSUMER=worker-2 photo-consent worker`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{warmup: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.redis == nil {
		return errors.New("worker requires REDIS_ADDR")
	}

	rc := a.cfg.Redis
	consumer := queue.NewConsumer(
		a.redis,
		rc.Stream,
		rc.Group,
		rc.Consumer,
		rc.ClaimInterval,
		rc.MaxDeliveries,
		a.log,
		ingestHandler(a.orch),
	)
	if err := consumer.EnsureGroup(ctx); err != nil {
		return err
	}

	a.log.Info().Str("version", Version).Str("stream", rc.Stream).Str("group", rc.Group).Msg("worker started")
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info().Msg("worker stopped")
	return nil
}

// ingestHandler treats tasks for photos that are gone or already ingested as
// done; any other failure is left for redelivery.
func ingestHandler(orch *pipeline.Orchestrator) queue.Handler {
	return func(ctx context.Context, task queue.Task) error {
		err := orch.Ingest(ctx, task.PhotoID)
		if errors.Is(err, database.ErrAlreadyIngested) || errors.Is(err, database.ErrNotFound) {
			return nil
		}
		return err
	}
}
