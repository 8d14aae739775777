package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/facedetect"
	"github.com/kozaktomas/familiar-faces/internal/web/handlers"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Tell who is in a photo",
	Long: `Detect all faces in a photo and match them against the enrolled persons.
Nothing is announced and the cooldown is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().Float64("threshold", 0, "Similarity threshold (default from configuration)")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if t := mustGetFloat64(cmd, "threshold"); t > 0 {
		cfg.Recognition.SimilarityThreshold = t
	}
	m := newMatcher(cfg.Recognition)

	data, err := os.ReadFile(args[0]) //nolint:gosec // path comes from the command line
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	detector := facedetect.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	_, dets, err := detectImageData(ctx, detector, data, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Detected %d faces (threshold %.2f)\n", len(dets), m.Threshold())
	snap := store.List()
	for i, d := range dets {
		if d.Confidence < cfg.Recognition.DetectionConfidenceThreshold {
			fmt.Printf("  #%d: low detection score %.2f, skipped\n", i+1, d.Confidence)
			continue
		}
		vec, err := embedding.New(d.Embedding)
		if err != nil {
			fmt.Printf("  #%d: %v\n", i+1, err)
			continue
		}
		res, err := handlers.Resolve(m, snap, vec)
		if err != nil {
			return err
		}
		if res.Known {
			fmt.Printf("  #%d: %s (%s) similarity %.3f\n", i+1, res.Name, res.PersonID, res.Similarity)
		} else {
			fmt.Printf("  #%d: unknown (best similarity %.3f)\n", i+1, res.Similarity)
		}
	}
	return nil
}
