package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/familiar-faces/internal/announce"
	"github.com/kozaktomas/familiar-faces/internal/camera"
	"github.com/kozaktomas/familiar-faces/internal/config"
	"github.com/kozaktomas/familiar-faces/internal/facedetect"
	"github.com/kozaktomas/familiar-faces/internal/recognition"
	"github.com/kozaktomas/familiar-faces/internal/web"
	"github.com/kozaktomas/familiar-faces/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the camera and serve the API",
	Long: `Start the recognition session and the web server.

When CAMERA_SNAPSHOT_URL or CAMERA_DIR is set, a frame is captured every
poll interval and every recognized person is announced at most once per
cooldown interval. Announcements are logged, streamed to /api/v1/events and
spoken through OpenAI text-to-speech when OPENAI_TOKEN is set.

Without a camera the server still answers recognition and enrollment requests.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// applyServeFlags lets command line flags override the environment.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

// newFrameSource returns the configured camera, or nil when there is none.
func newFrameSource(cfg config.CameraConfig) recognition.FrameSource {
	switch {
	case cfg.SnapshotURL != "":
		fmt.Printf("Capturing frames from %s\n", cfg.SnapshotURL)
		return camera.NewHTTPSource(cfg.SnapshotURL, cfg.MaxSize)
	case cfg.Dir != "":
		fmt.Printf("Replaying frames from %s\n", cfg.Dir)
		return camera.NewDirSource(cfg.Dir, cfg.MaxSize)
	default:
		fmt.Println("No camera configured, recognition runs on request only")
		return nil
	}
}

// newConsumer fans announcements out to the log, the event stream and,
// with an OpenAI token, to speech synthesis.
func newConsumer(cfg *config.Config, events *handlers.EventsHandler) recognition.Consumer {
	consumers := announce.Multi{announce.NewLogConsumer(nil), events}
	if cfg.OpenAI.Token != "" {
		fmt.Printf("Speech announcements enabled (voice %s, output %s)\n", cfg.Speech.Voice, cfg.Speech.OutputDir)
		consumers = append(consumers, announce.NewSpeaker(announce.SpeakerConfig{
			APIKey:    cfg.OpenAI.Token,
			Model:     cfg.Speech.Model,
			Voice:     cfg.Speech.Voice,
			OutputDir: cfg.Speech.OutputDir,
		}))
	}
	return consumers
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	applyServeFlags(cmd, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	detector := facedetect.NewClient(cfg.Embedding.URL, cfg.Embedding.Dim)
	events := handlers.NewEventsHandler()
	m := newMatcher(cfg.Recognition)

	session := newSession(cfg, store, m, detector, newConsumer(cfg, events))
	// The session outlives ctx so shutdown can stop it explicitly.
	if err := session.Start(context.Background(), newFrameSource(cfg.Camera)); err != nil {
		return fmt.Errorf("starting recognition session: %w", err)
	}

	server := web.NewServer(cfg, web.Deps{
		Store:    store,
		Matcher:  m,
		Session:  session,
		Detector: detector,
		Events:   events,
		Backend:  store.Backend(),
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(server.Start)

	// Forget persons whose cooldown has expired.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Recognition.CooldownInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case now := <-ticker.C:
				session.Gate().Prune(now)
			}
		}
	})

	g.Go(func() error {
		<-gCtx.Done()
		fmt.Println("\nShutting down...")
		session.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := store.Persist(shutdownCtx); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
		return nil
	})

	fmt.Printf("Starting Familiar Faces on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	return g.Wait()
}
