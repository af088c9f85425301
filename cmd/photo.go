package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/kozaktomas/photo-consent/internal/pipeline"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var photoCmd = &cobra.Command{
	Use:   "photo",
	Short: "Photo maintenance commands",
	Long:  `Upload, inspect, re-ingest, regenerate and delete photos.`,
}

var photoUploadCmd = &cobra.Command{
	Use:   "upload <image-file>",
	Short: "Upload a photo on behalf of an identity",
	Long: `Upload a photo as if the given identity had sent it through the API.

Examples:
  photo-consent photo upload party.jpg --as 1`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotoUpload,
}

var photoIngestCmd = &cobra.Command{
	Use:   "ingest <photo-id>",
	Short: "Detect and match the faces of a pending photo",
	Long: `Run ingestion for a photo that is still pending, for example after the
detector was unavailable during upload.`,
	Args: cobra.ExactArgs(1),
	RunE: runPhotoIngest,
}

var photoInfoCmd = &cobra.Command{
	Use:   "info <photo-id>",
	Short: "Show a photo and its detected faces",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotoInfo,
}

var photoRegenerateCmd = &cobra.Command{
	Use:   "regenerate [photo-id]",
	Short: "Rebuild the public image of one or all photos",
	Long: `Rebuild public images from the current consent decisions and sharing
preferences. Use --all after changing the redaction settings.

Examples:
  # One photo
  photo-consent photo regenerate 6f1c2a9e-0d5b-4f0e-9a57-6a3f7f0a2c11

  # Every ingested photo
  photo-consent photo regenerate --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPhotoRegenerate,
}

var photoDeleteCmd = &cobra.Command{
	Use:   "delete <photo-id>",
	Short: "Delete a photo, its faces, consent requests and images",
	Args:  cobra.ExactArgs(1),
	RunE:  runPhotoDelete,
}

func init() {
	rootCmd.AddCommand(photoCmd)
	photoCmd.AddCommand(photoUploadCmd, photoIngestCmd, photoInfoCmd, photoRegenerateCmd, photoDeleteCmd)

	photoUploadCmd.Flags().Int64("as", 0, "Uploader identity ID")
	_ = photoUploadCmd.MarkFlagRequired("as")

	photoInfoCmd.Flags().Bool("json", false, "Output as JSON")

	photoRegenerateCmd.Flags().Bool("all", false, "Regenerate every photo")

	photoDeleteCmd.Flags().Int64("as", 0, "Identity performing the deletion (must be the uploader)")
	_ = photoDeleteCmd.MarkFlagRequired("as")
}

func runPhotoUpload(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read image: %w", err)
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	photo, err := a.orch.Upload(cmd.Context(), mustGetInt64(cmd, "as"), data)
	if photo != nil {
		fmt.Printf("Photo %s (%s, %dx%d) status: %s\n",
			photo.ID, photo.Format, photo.Width, photo.Height, photo.Status)
	}
	return err
}

func runPhotoIngest(cmd *cobra.Command, args []string) error {
	id, err := parseUUIDArg(args[0], "photo")
	if err != nil {
		return err
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Ingest(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Printf("Photo %s ingested\n", id)
	return nil
}

// photoInfo is the JSON shape of photo info.
type photoInfo struct {
	ID         uuid.UUID  `json:"id"`
	UploaderID int64      `json:"uploader_id"`
	Format     string     `json:"format"`
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Status     string     `json:"status"`
	Faces      []faceInfo `json:"faces"`
}

type faceInfo struct {
	Index     int     `json:"index"`
	Region    string  `json:"region"`
	DetScore  float64 `json:"det_score"`
	MatchedID *int64  `json:"matched_identity_id,omitempty"`
}

func runPhotoInfo(cmd *cobra.Command, args []string) error {
	id, err := parseUUIDArg(args[0], "photo")
	if err != nil {
		return err
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	photo, err := a.orch.Photo(cmd.Context(), id)
	if err != nil {
		return err
	}
	faces, err := a.store.GetFaces(cmd.Context(), id)
	if err != nil {
		return err
	}

	info := photoInfo{
		ID:         photo.ID,
		UploaderID: photo.UploaderID,
		Format:     photo.Format,
		Width:      photo.Width,
		Height:     photo.Height,
		Status:     string(photo.Status),
		Faces:      make([]faceInfo, 0, len(faces)),
	}
	for _, f := range faces {
		info.Faces = append(info.Faces, faceInfo{
			Index:     f.FaceIndex,
			Region:    f.Region.String(),
			DetScore:  f.DetScore,
			MatchedID: f.MatchedIdentityID,
		})
	}

	if mustGetBool(cmd, "json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Printf("Photo:    %s\n", info.ID)
	fmt.Printf("Uploader: %d\n", info.UploaderID)
	fmt.Printf("Image:    %s %dx%d\n", info.Format, info.Width, info.Height)
	fmt.Printf("Status:   %s\n", info.Status)
	fmt.Printf("Faces:    %d\n", len(info.Faces))
	for _, f := range info.Faces {
		match := "unknown"
		if f.MatchedID != nil {
			match = fmt.Sprintf("identity %d", *f.MatchedID)
		}
		fmt.Printf("  #%d %s score=%.2f %s\n", f.Index, f.Region, f.DetScore, match)
	}
	return nil
}

func runPhotoRegenerate(cmd *cobra.Command, args []string) error {
	all := mustGetBool(cmd, "all")
	if all == (len(args) == 1) {
		return errors.New("pass either a photo ID or --all")
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := cmd.Context()

	if !all {
		id, err := parseUUIDArg(args[0], "photo")
		if err != nil {
			return err
		}
		if err := a.orch.Regenerate(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Photo %s regenerated\n", id)
		return nil
	}

	photos, err := a.store.ListPhotos(ctx)
	if err != nil {
		return fmt.Errorf("failed to list photos: %w", err)
	}
	if len(photos) == 0 {
		fmt.Println("No photos to regenerate")
		return nil
	}

	bar := progressbar.NewOptions(len(photos),
		progressbar.OptionSetDescription("Regenerating"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)
	var mu sync.Mutex
	stats, err := a.orch.RegenerateAll(ctx, func(uuid.UUID, error) {
		mu.Lock()
		defer mu.Unlock()
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	fmt.Printf("Total: %d  regenerated: %d  skipped: %d  failed: %d\n",
		stats.Total, stats.Regenerated, stats.Skipped, stats.Failed)
	if stats.Failed > 0 {
		for _, e := range unjoin(stats.Err) {
			fmt.Fprintf(os.Stderr, "  %s: %v\n", pipeline.CodeOf(e), e)
		}
		return fmt.Errorf("%d photos failed", stats.Failed)
	}
	return nil
}

func runPhotoDelete(cmd *cobra.Command, args []string) error {
	id, err := parseUUIDArg(args[0], "photo")
	if err != nil {
		return err
	}

	a, err := openCLI(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.DeletePhoto(cmd.Context(), id, mustGetInt64(cmd, "as")); err != nil {
		return err
	}
	fmt.Printf("Photo %s deleted\n", id)
	return nil
}

// unjoin splits an errors.Join result back into its parts.
func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
