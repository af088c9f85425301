package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kozaktomas/photo-consent/internal/config"
	"github.com/kozaktomas/photo-consent/internal/database/postgres"
	"github.com/kozaktomas/photo-consent/internal/logging"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply pending PostgreSQL migrations and list every migration with its
checksum and when it was applied. The serve and worker commands migrate on
start as well.

Examples:
  # Apply and list
  photo-consent migrate

  # Only show what would run
  photo-consent migrate --status`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("status", false, "Report without applying")
	migrateCmd.Flags().Bool("json", false, "Output as JSON")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}
	log := logging.NewWithWriter(os.Stderr, cfg.Log.Level)

	// NewPool, not Open: Open would migrate before we could report.
	pool, err := postgres.NewPool(&cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	var report *postgres.MigrationReport
	if mustGetBool(cmd, "status") {
		report, err = pool.MigrationStatus(cmd.Context())
	} else {
		report, err = pool.Migrate(cmd.Context())
	}
	if report == nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if jerr := enc.Encode(report); jerr != nil {
			return jerr
		}
		return err
	}

	applied := make(map[string]bool, len(report.Applied))
	for _, v := range report.Applied {
		applied[v] = true
	}
	for _, m := range report.Migrations {
		state := "pending"
		switch {
		case applied[m.Version]:
			state = "applied now"
		case !m.Pending():
			state = m.AppliedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-32s  %s  %s\n", m.Version, m.Checksum[:12], state)
	}
	return err
}
