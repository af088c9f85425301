package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/kozaktomas/photo-consent/internal/config"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/kozaktomas/photo-consent/internal/web/middleware"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage identities and their enrolled appearance",
}

var identityCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Register a new identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentityCreate,
}

var identityListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentityList,
}

var identitySharingCmd = &cobra.Command{
	Use:   "sharing <identity-id> <REQUIRE_CONSENT|PUBLIC>",
	Short: "Change the sharing preference of an identity",
	Long: `Change the sharing preference of an identity and rebuild the public image of
every photo the identity appears in.`,
	Args: cobra.ExactArgs(2),
	RunE: runIdentitySharing,
}

var identityEnrolCmd = &cobra.Command{
	Use:   "enrol <identity-id> <image-file>",
	Short: "Set the profile image and enrol the largest face",
	Args:  cobra.ExactArgs(2),
	RunE:  runIdentityEnrol,
}

var identityRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Re-enrol every identity from its stored profile image",
	Long: `Re-enrol every identity from its stored profile image. Run this after the
detector model changed so that appearance vectors stay comparable with newly
detected faces.`,
	Args: cobra.NoArgs,
	RunE: runIdentityRecompute,
}

var identityTokenCmd = &cobra.Command{
	Use:   "token <identity-id>",
	Short: "Issue a bearer token for an identity",
	Long: `Issue an HS256 bearer token for the API, signed with AUTH_JWT_SECRET.
Intended for development and operations; end users obtain tokens from the
account service.`,
	Args: cobra.ExactArgs(1),
	RunE: runIdentityToken,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(
		identityCreateCmd, identityListCmd, identitySharingCmd,
		identityEnrolCmd, identityRecomputeCmd, identityTokenCmd,
	)

	identityListCmd.Flags().Bool("json", false, "Output as JSON")
	identityTokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

func runIdentityCreate(cmd *cobra.Command, args []string) error {
	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ident, err := a.idents.Create(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Identity %d created (%s, %s)\n", ident.ID, ident.Username, ident.SharingMode)
	return nil
}

// identityInfo is the JSON shape of identity list.
type identityInfo struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	SharingMode    string `json:"sharing_mode"`
	EncodingStatus string `json:"encoding_status"`
	Enrolled       bool   `json:"enrolled"`
}

func runIdentityList(cmd *cobra.Command, args []string) error {
	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	idents, err := a.idents.List(cmd.Context())
	if err != nil {
		return err
	}
	out := make([]identityInfo, 0, len(idents))
	for _, i := range idents {
		out = append(out, identityInfo{
			ID:             i.ID,
			Username:       i.Username,
			SharingMode:    string(i.SharingMode),
			EncodingStatus: string(i.EncodingStatus),
			Enrolled:       len(i.Appearance) > 0,
		})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	for _, i := range out {
		fmt.Printf("%6d  %-24s  %-15s  %s\n", i.ID, i.Username, i.SharingMode, i.EncodingStatus)
	}
	return nil
}

func runIdentitySharing(cmd *cobra.Command, args []string) error {
	id, err := parseIdentityArg(args[0])
	if err != nil {
		return err
	}
	mode, err := database.ParseSharingMode(strings.ToUpper(args[1]))
	if err != nil {
		return err
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.idents.SetSharingMode(cmd.Context(), id, mode)
	if err != nil {
		return err
	}
	fmt.Printf("Identity %d is now %s; %d photos regenerated\n", id, mode, n)
	return nil
}

func runIdentityEnrol(cmd *cobra.Command, args []string) error {
	id, err := parseIdentityArg(args[0])
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	status, err := a.idents.SetProfileImage(cmd.Context(), id, data)
	if status != "" {
		fmt.Printf("Identity %d encoding status: %s\n", id, status)
	}
	return err
}

func runIdentityRecompute(cmd *cobra.Command, args []string) error {
	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	idents, err := a.idents.List(ctx)
	if err != nil {
		return err
	}
	if len(idents) == 0 {
		fmt.Println("No identities")
		return nil
	}

	bar := progressbar.NewOptions(len(idents),
		progressbar.OptionSetDescription("Enrolling"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("identities"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	var mu sync.Mutex
	stats, err := a.idents.RecomputeAll(ctx, func(int64, database.EncodingStatus, error) {
		mu.Lock()
		defer mu.Unlock()
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	fmt.Println()

	fmt.Printf("Total: %d  success: %d  no face: %d  error: %d  skipped: %d\n",
		stats.Total, stats.Success, stats.NoFace, stats.Error, stats.Skipped)
	return err
}

func runIdentityToken(cmd *cobra.Command, args []string) error {
	id, err := parseIdentityArg(args[0])
	if err != nil {
		return err
	}
	secret := config.Load().Auth.JWTSecret
	if secret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET environment variable is required")
	}

	token, err := middleware.SignToken(secret, id, mustGetDuration(cmd, "ttl"))
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
