package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags "-X github.com/kozaktomas/photo-consent/cmd.Version=...".
var (
	Version   = "dev"
	CommitSHA = "unknown"
	BuildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "photo-consent",
	Short: "Consent-aware face redaction for shared photos",
	Long: `Photo Consent publishes shared photos with every face obscured unless the
person it belongs to allowed it to be shown.

Faces are detected by the InsightFace embedding service and matched against
enrolled identities. Each matched identity receives a consent request; the
public image is rebuilt whenever a decision or a sharing preference changes.

Configuration is read from the environment (a .env file in the working
directory is loaded first).`,
	SilenceUsage: true,
	Version:      Version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SetVersionTemplate(versionLine() + "\n")
}

// versionLine is what --version prints.
func versionLine() string {
	return fmt.Sprintf("photo-consent %s (commit %s, built %s)", Version, CommitSHA, BuildDate)
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}
