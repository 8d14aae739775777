package announce

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

const (
	defaultSpeechModel = "tts-1"
	defaultSpeechVoice = "alloy"
	speechTimeout      = 30 * time.Second
)

// Speaker synthesizes announcements with the OpenAI speech API and stores them
// as MP3 files for the audio player to pick up.
type Speaker struct {
	client    *openai.Client
	model     string
	voice     string
	outputDir string
	logger    *slog.Logger
	now       func() time.Time

	mu sync.Mutex // one synthesis at a time
}

// SpeakerConfig configures a Speaker.
type SpeakerConfig struct {
	APIKey    string
	Model     string
	Voice     string
	OutputDir string
	Logger    *slog.Logger
}

// NewSpeaker creates a Speaker. Extra request options are passed to the OpenAI client.
func NewSpeaker(cfg SpeakerConfig, opts ...option.RequestOption) *Speaker {
	if cfg.Model == "" {
		cfg.Model = defaultSpeechModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultSpeechVoice
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := openai.NewClient(append([]option.RequestOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	return &Speaker{
		client:    &client,
		model:     cfg.Model,
		voice:     cfg.Voice,
		outputDir: cfg.OutputDir,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Speak synthesizes text and returns the path of the written MP3 file.
func (s *Speaker) Speak(ctx context.Context, name, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return "", fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read speech: %w", err)
	}
	if len(audio) == 0 {
		return "", fmt.Errorf("empty speech returned")
	}

	if err := os.MkdirAll(s.outputDir, 0o750); err != nil {
		return "", fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(s.outputDir, fmt.Sprintf("%d_%s.mp3", s.now().UnixNano(), name))
	if err := renameio.WriteFile(path, audio, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// OnRecognition implements recognition.Consumer.
func (s *Speaker) OnRecognition(ev recognition.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), speechTimeout)
	defer cancel()

	path, err := s.Speak(ctx, ev.PersonID, Message(ev))
	if err != nil {
		s.logger.Error("announcement speech failed", "person_id", ev.PersonID, "error", err)
		return
	}
	s.logger.Info("announcement spoken", "person_id", ev.PersonID, "file", path)
}

var _ recognition.Consumer = (*Speaker)(nil)
