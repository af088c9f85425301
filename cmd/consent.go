package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kozaktomas/photo-consent/internal/consent"
	"github.com/kozaktomas/photo-consent/internal/database"
	"github.com/spf13/cobra"
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Inspect and answer consent requests",
}

var consentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the consent requests addressed to an identity",
	Long: `List the consent requests addressed to an identity, newest first.

Examples:
  photo-consent consent list --identity 2
  photo-consent consent list --identity 2 --status PENDING --json`,
	Args: cobra.NoArgs,
	RunE: runConsentList,
}

var consentDecideCmd = &cobra.Command{
	Use:   "decide <request-id>",
	Short: "Approve or deny a consent request",
	Long: `Record the decision of the requested identity. An approval rebuilds the
public image before the command returns.

Examples:
  photo-consent consent decide 0b8f... --as 2 --outcome approve`,
	Args: cobra.ExactArgs(1),
	RunE: runConsentDecide,
}

func init() {
	rootCmd.AddCommand(consentCmd)
	consentCmd.AddCommand(consentListCmd, consentDecideCmd)

	consentListCmd.Flags().Int64("identity", 0, "Identity ID")
	consentListCmd.Flags().String("status", "", "Filter by status (PENDING, APPROVED, DENIED)")
	consentListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = consentListCmd.MarkFlagRequired("identity")

	consentDecideCmd.Flags().Int64("as", 0, "Identity answering the request")
	consentDecideCmd.Flags().String("outcome", "", "approve or deny")
	_ = consentDecideCmd.MarkFlagRequired("as")
	_ = consentDecideCmd.MarkFlagRequired("outcome")
}

// parseOutcome accepts the stored status names and the verbs approve/deny.
func parseOutcome(s string) (database.ConsentStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVE", string(database.ConsentApproved):
		return database.ConsentApproved, nil
	case "DENY", string(database.ConsentDenied):
		return database.ConsentDenied, nil
	}
	return "", fmt.Errorf("%q: %w", s, consent.ErrInvalidOutcome)
}

func runConsentList(cmd *cobra.Command, args []string) error {
	status := database.ConsentStatus(strings.ToUpper(mustGetString(cmd, "status")))

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	reqs, err := a.ledger.ListForIdentity(cmd.Context(), mustGetInt64(cmd, "identity"), status)
	if err != nil {
		return err
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reqs)
	}

	if len(reqs) == 0 {
		fmt.Println("No consent requests")
		return nil
	}
	for _, r := range reqs {
		fmt.Printf("%s  photo=%s  %-8s  %s  %s\n",
			r.ID, r.PhotoID, r.Status, r.Region, r.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runConsentDecide(cmd *cobra.Command, args []string) error {
	id, err := parseUUIDArg(args[0], "request")
	if err != nil {
		return err
	}
	outcome, err := parseOutcome(mustGetString(cmd, "outcome"))
	if err != nil {
		return err
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := a.ledger.Decide(cmd.Context(), id, mustGetInt64(cmd, "as"), outcome)
	if errors.Is(err, consent.ErrRegenerationFailed) {
		fmt.Printf("Request %s %s, but the public image was not rebuilt\n", req.ID, req.Status)
		fmt.Printf("Retry with: photo-consent photo regenerate %s\n", req.PhotoID)
		return err
	}
	if err != nil {
		return err
	}
	fmt.Printf("Request %s %s\n", req.ID, req.Status)
	return nil
}
