package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/familiar-faces/internal/camera"
	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/facedetect"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <dir>",
	Short: "Enroll persons from a directory of photos",
	Long: `Enroll persons in bulk. Every subdirectory of <dir> is one person, named
after the directory ("jane_doe" becomes "Jane Doe"). The largest face of each
photo becomes one embedding.

A person whose name is already enrolled gets the new embeddings added, the
oldest ones are replaced when the limit per person is reached.

Examples:
  # photos/jane_doe/*.jpg, photos/tom/*.jpg
  familiar-faces enroll photos

  # Stricter face requirements
  familiar-faces enroll photos --min-face-size 120 --confidence 0.8`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().Int("max-images", constants.DefaultMaxEnrollImages, "Maximum photos used per person")
	enrollCmd.Flags().Float64("min-face-size", constants.DefaultMinFaceSize, "Minimum face width and height in pixels")
	enrollCmd.Flags().Float64("confidence", constants.DefaultEnrollConfidence, "Minimum face detection score")
	enrollCmd.Flags().Int("concurrency", 3, "Number of photos processed in parallel")
	enrollCmd.Flags().Bool("dry-run", false, "Detect faces but do not change the database")
}

// enrollFolder is one person directory.
type enrollFolder struct {
	name   string
	images []string
}

// enrollFace is the outcome for one photo.
type enrollFace struct {
	jpeg []byte
	vec  embedding.Vector
	err  error
}

func listEnrollFolders(dir string, maxImages int) ([]enrollFolder, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var folders []enrollFolder
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		images, err := camera.ListImages(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			continue
		}
		if maxImages > 0 && len(images) > maxImages {
			images = images[:maxImages]
		}
		folders = append(folders, enrollFolder{name: person.DisplayName(e.Name()), images: images})
	}
	return folders, nil
}

// detectFolder finds the enrollment face of every photo in parallel. Results
// keep the order of the photos.
func detectFolder(ctx context.Context, detector recognition.Detector, folder enrollFolder, concurrency int,
	minSize, confidence float64, bar *progressbar.ProgressBar) []enrollFace {
	results := make([]enrollFace, len(folder.images))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, path := range folder.images {
		g.Go(func() error {
			defer bar.Add(1)
			jpegData, vec, err := enrollmentFace(gCtx, detector, path, minSize, confidence)
			results[i] = enrollFace{jpeg: jpegData, vec: vec, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// applyEnrollment adds the faces to an existing person with the same name or
// enrolls a new one. It returns the person ID and whether it was created.
func applyEnrollment(store *person.Store, name string, vecs []embedding.Vector) (string, bool, error) {
	if existing := store.FindByName(name); len(existing) == 1 {
		id := existing[0].ID
		for _, v := range vecs {
			if err := store.AddEmbedding(id, v); err != nil {
				return id, false, err
			}
		}
		return id, false, nil
	}
	// Enroll takes at most the cap; keep the latest photos like AddEmbedding would.
	if limit := store.MaxEmbeddings(); len(vecs) > limit {
		vecs = vecs[len(vecs)-limit:]
	}
	id, err := store.Enroll(name, "", "", vecs)
	return id, true, err
}

func runEnroll(cmd *cobra.Command, args []string) error {
	maxImages := mustGetInt(cmd, "max-images")
	minSize := mustGetFloat64(cmd, "min-face-size")
	confidence := mustGetFloat64(cmd, "confidence")
	concurrency := mustGetInt(cmd, "concurrency")
	dryRun := mustGetBool(cmd, "dry-run")

	ctx := context.Background()
	cfg, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	folders, err := listEnrollFolders(args[0], maxImages)
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		fmt.Printf("No person directories with photos found in %s\n", args[0])
		return nil
	}

	total := 0
	for _, f := range folders {
		total += len(f.images)
	}
	fmt.Printf("Found %d persons with %d photos\n\n", len(folders), total)

	detector := facedetect.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Detecting faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var created, extended, skippedPhotos int
	var failures []string

	for _, folder := range folders {
		faces := detectFolder(ctx, detector, folder, concurrency, minSize, confidence, bar)

		var vecs []embedding.Vector
		var images [][]byte
		for _, f := range faces {
			if f.err != nil {
				skippedPhotos++
				continue
			}
			vecs = append(vecs, f.vec)
			images = append(images, f.jpeg)
		}
		if len(vecs) == 0 {
			failures = append(failures, fmt.Sprintf("%s: no usable face in any photo", folder.name))
			continue
		}
		if dryRun {
			continue
		}

		id, isNew, err := applyEnrollment(store, folder.name, vecs)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", folder.name, err))
			continue
		}
		saveEnrollmentImages(store, cfg.Storage.PersonImageDir, id, images[max(0, len(images)-store.MaxEmbeddings()):])
		if isNew {
			created++
		} else {
			extended++
		}
	}
	fmt.Println()

	if !dryRun && created+extended > 0 {
		if err := persistOrWarn(ctx, store); err != nil {
			return err
		}
	}

	fmt.Printf("\nCreated: %d, extended: %d, skipped photos: %d\n", created, extended, skippedPhotos)
	for _, f := range failures {
		fmt.Printf("  %s\n", f)
	}
	if dryRun {
		fmt.Println("Dry run, nothing was saved")
	}
	return nil
}
