package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/familiar-faces/internal/config"
	"github.com/kozaktomas/familiar-faces/internal/constants"
	"github.com/kozaktomas/familiar-faces/internal/embedding"
	"github.com/kozaktomas/familiar-faces/internal/facedetect"
	"github.com/kozaktomas/familiar-faces/internal/person"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

var personCmd = &cobra.Command{
	Use:   "person",
	Short: "Manage enrolled persons",
}

var personListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled persons",
	Args:  cobra.NoArgs,
	RunE:  runPersonList,
}

var personShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a person",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonShow,
}

var personAddCmd = &cobra.Command{
	Use:   "add <image>...",
	Short: "Enroll a person from photos",
	Long: `Enroll a new person from one or more photos. The largest face of every
photo becomes one embedding; photos without a usable face are skipped.

Examples:
  familiar-faces person add --name "Jane Doe" --relation daughter jane1.jpg jane2.jpg
  familiar-faces person add --name "Tom" --notes "Brings the newspaper" tom.jpg`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPersonAdd,
}

var personUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change name, relation or notes of a person",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonUpdate,
}

var personRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a person",
	Args:  cobra.ExactArgs(1),
	RunE:  runPersonRemove,
}

var personAddEmbeddingCmd = &cobra.Command{
	Use:   "add-embedding <id> <file>",
	Short: "Add an embedding from a JSON file or a photo",
	Long: `Add one embedding to a person. The file is either a JSON array of numbers
or a photo whose largest face is used. When the person already has the
maximum number of embeddings, the oldest one is replaced.`,
	Args: cobra.ExactArgs(2),
	RunE: runPersonAddEmbedding,
}

func init() {
	rootCmd.AddCommand(personCmd)
	personCmd.AddCommand(personListCmd, personShowCmd, personAddCmd, personUpdateCmd, personRemoveCmd, personAddEmbeddingCmd)

	personListCmd.Flags().String("name", "", "Only list persons with this name (case and diacritics insensitive)")
	personListCmd.Flags().Bool("json", false, "Output as JSON")

	personAddCmd.Flags().String("name", "", "Display name (required)")
	personAddCmd.Flags().String("relation", "", "Relation to the household, e.g. daughter")
	personAddCmd.Flags().String("notes", "", "Short note read out with the announcement")
	personAddCmd.MarkFlagRequired("name")

	personUpdateCmd.Flags().String("name", "", "New display name")
	personUpdateCmd.Flags().String("relation", "", "New relation")
	personUpdateCmd.Flags().String("notes", "", "New notes")
}

// personContext loads the configuration and person database for a subcommand.
func personContext(ctx context.Context) (*config.Config, *person.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	store, closeFn := openStore(ctx, cfg)
	return cfg, store, closeFn, nil
}

// persistOrWarn saves the store. A failed save is reported as an error since
// the change would be lost when the command exits.
func persistOrWarn(ctx context.Context, store *person.Store) error {
	if err := store.Persist(ctx); err != nil {
		return fmt.Errorf("change was not saved: %w", err)
	}
	return nil
}

func runPersonList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var records []person.Record
	if name := mustGetString(cmd, "name"); name != "" {
		records = store.FindByName(name)
	} else {
		records = store.List().Records()
	}

	if mustGetBool(cmd, "json") {
		return outputPersonsJSON(records)
	}

	if len(records) == 0 {
		fmt.Println("No persons enrolled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRELATION\tEMBEDDINGS\tUPDATED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.Name, r.Relation, len(r.Embeddings),
			r.UpdatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

type personJSON struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Relation   string    `json:"relation"`
	Notes      string    `json:"notes"`
	Embeddings int       `json:"embeddings"`
	ImagePaths []string  `json:"image_paths"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func outputPersonsJSON(records []person.Record) error {
	out := make([]personJSON, len(records))
	for i, r := range records {
		out[i] = personJSON{
			ID:         r.ID,
			Name:       r.Name,
			Relation:   r.Relation,
			Notes:      r.Notes,
			Embeddings: len(r.Embeddings),
			ImagePaths: r.ImagePaths,
			UpdatedAt:  r.UpdatedAt,
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runPersonShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	r, err := store.Get(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", r.ID)
	fmt.Printf("Name:       %s\n", r.Name)
	fmt.Printf("Relation:   %s\n", r.Relation)
	fmt.Printf("Notes:      %s\n", r.Notes)
	fmt.Printf("Embeddings: %d\n", len(r.Embeddings))
	fmt.Printf("Created:    %s\n", r.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:    %s\n", r.UpdatedAt.Local().Format(time.DateTime))
	if len(r.ImagePaths) > 0 {
		fmt.Println("Images:")
		for _, p := range r.ImagePaths {
			fmt.Printf("  %s\n", p)
		}
	}
	return nil
}

// enrollmentFace detects the largest usable face in an image file. The
// returned bytes are the normalized JPEG sent to the detector.
func enrollmentFace(ctx context.Context, detector recognition.Detector, path string, minSize, minConfidence float64) ([]byte, embedding.Vector, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, nil, fmt.Errorf("reading image: %w", err)
	}
	jpegData, dets, err := detectImageData(ctx, detector, data, path)
	if err != nil {
		return nil, nil, err
	}
	face, ok := recognition.LargestFace(dets, minSize, minConfidence)
	if !ok {
		return nil, nil, fmt.Errorf("no usable face in %s (%d faces detected)", path, len(dets))
	}
	vec, err := embedding.New(face.Embedding)
	if err != nil {
		return nil, nil, err
	}
	return jpegData, vec, nil
}

func runPersonAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	detector := facedetect.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)

	var vecs []embedding.Vector
	var images [][]byte
	for _, path := range args {
		if len(vecs) == cfg.Recognition.MaxEmbeddingsPerPerson {
			fmt.Printf("Using the first %d usable photos\n", len(vecs))
			break
		}
		jpegData, vec, err := enrollmentFace(ctx, detector, path, constants.DefaultMinFaceSize, constants.DefaultEnrollConfidence)
		if err != nil {
			fmt.Printf("Skipping %s: %v\n", path, err)
			continue
		}
		vecs = append(vecs, vec)
		images = append(images, jpegData)
	}
	if len(vecs) == 0 {
		return errors.New("none of the photos contains a usable face")
	}

	id, err := store.Enroll(mustGetString(cmd, "name"), mustGetString(cmd, "relation"), mustGetString(cmd, "notes"), vecs)
	if err != nil {
		return err
	}
	saveEnrollmentImages(store, cfg.Storage.PersonImageDir, id, images)

	if err := persistOrWarn(ctx, store); err != nil {
		return err
	}
	fmt.Printf("Enrolled %s with %d embeddings\n", id, len(vecs))
	return nil
}

// saveEnrollmentImages keeps the enrollment photos with the person. Failures
// are reported and do not undo the enrollment.
func saveEnrollmentImages(store *person.Store, dir, id string, images [][]byte) {
	if dir == "" {
		return
	}
	for _, data := range images {
		path, err := person.SaveImage(dir, id, data, time.Now())
		if err != nil {
			fmt.Printf("Warning: failed to save image: %v\n", err)
			continue
		}
		if err := store.AddImage(id, path); err != nil {
			fmt.Printf("Warning: failed to record image: %v\n", err)
		}
	}
}

func runPersonUpdate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	var u person.Update
	if cmd.Flags().Changed("name") {
		u.Name = new(mustGetString(cmd, "name"))
	}
	if cmd.Flags().Changed("relation") {
		u.Relation = new(mustGetString(cmd, "relation"))
	}
	if cmd.Flags().Changed("notes") {
		u.Notes = new(mustGetString(cmd, "notes"))
	}
	if u.IsEmpty() {
		return errors.New("nothing to update, use --name, --relation or --notes")
	}

	if err := store.Update(args[0], u); err != nil {
		return err
	}
	if err := persistOrWarn(ctx, store); err != nil {
		return err
	}
	fmt.Printf("Updated %s\n", args[0])
	return nil
}

func runPersonRemove(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := store.Remove(args[0]); err != nil {
		return err
	}
	if err := persistOrWarn(ctx, store); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}

// readEmbeddingFile parses a JSON array of numbers.
func readEmbeddingFile(path string) (embedding.Vector, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("reading embedding: %w", err)
	}
	var values []float32
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parsing embedding %s: %w", path, err)
	}
	return embedding.New(values)
}

func runPersonAddEmbedding(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, store, closeFn, err := personContext(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	id, path := args[0], args[1]
	if _, err := store.Get(id); err != nil {
		return err
	}

	var vec embedding.Vector
	var image []byte
	if strings.EqualFold(filepath.Ext(path), ".json") {
		vec, err = readEmbeddingFile(path)
	} else {
		detector := facedetect.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
		image, vec, err = enrollmentFace(ctx, detector, path, constants.DefaultMinFaceSize, constants.DefaultEnrollConfidence)
	}
	if err != nil {
		return err
	}

	if err := store.AddEmbedding(id, vec); err != nil {
		return err
	}
	if image != nil {
		saveEnrollmentImages(store, cfg.Storage.PersonImageDir, id, [][]byte{image})
	}
	if err := persistOrWarn(ctx, store); err != nil {
		return err
	}
	fmt.Printf("Added embedding to %s\n", id)
	return nil
}
