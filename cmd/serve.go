package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/photo-consent/internal/constants"
	"github.com/kozaktomas/photo-consent/internal/web"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Photo Consent HTTP API.

The API accepts uploads, serves the redacted public images, and lets identities
answer consent requests and change their sharing preference. Callers
authenticate with HS256 bearer tokens signed with AUTH_JWT_SECRET.

Examples:
  # Listen on the configured WEB_HOST:WEB_PORT
  photo-consent serve

  # Override the port
  photo-consent serve --port 9000`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := newApp(ctx, appOptions{warmup: true})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET environment variable is required")
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		a.cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		a.cfg.Web.Host = host
	}

	server := web.NewServer(a.cfg, web.Deps{
		Photos:     a.orch,
		Consent:    a.ledger,
		Identities: a.idents,
		Ping:       a.pool.Ping,
		Gatherer:   a.registry,
		Log:        a.log,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
		case <-ctx.Done():
			return
		}
		a.log.Info().Msg("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.log.Error().Err(err).Msg("error during shutdown")
		}
	}()

	a.log.Info().
		Str("version", Version).
		Str("commit", CommitSHA).
		Str("ingest_mode", a.cfg.Pipeline.IngestMode).
		Str("storage", a.cfg.Storage.Backend).
		Bool("redis", a.cfg.Redis.Enabled()).
		Msg("services ready")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
