package config

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kozaktomas/familiar-faces/internal/constants"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Matcher index kinds
const (
	IndexExact = "exact"
	IndexHNSW  = "hnsw"
)

type Config struct {
	Recognition RecognitionConfig
	Storage     StorageConfig
	Embedding   EmbeddingConfig
	Camera      CameraConfig
	Database    DatabaseConfig
	OpenAI      OpenAIConfig
	Speech      SpeechConfig
	Web         WebConfig
}

// RecognitionConfig holds the recognition options. It can be overridden by a
// YAML file named in RECOGNITION_CONFIG and then by individual env vars.
type RecognitionConfig struct {
	SimilarityThreshold          float64 `yaml:"similarity_threshold"`
	DetectionConfidenceThreshold float64 `yaml:"detection_confidence_threshold"`
	CooldownIntervalSeconds      int     `yaml:"cooldown_interval_seconds"`
	MaxEmbeddingsPerPerson       int     `yaml:"max_embeddings_per_person"`
	PollIntervalMs               int     `yaml:"poll_interval_ms"`
	MatcherIndex                 string  `yaml:"matcher_index"`
}

// CooldownInterval returns the cooldown window as a duration.
func (c *RecognitionConfig) CooldownInterval() time.Duration {
	return time.Duration(c.CooldownIntervalSeconds) * time.Second
}

// PollInterval returns the session polling interval as a duration.
func (c *RecognitionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

type StorageConfig struct {
	PersonDBPath   string // JSON person database, used when DATABASE_URL is empty
	PersonImageDir string // enrollment images, stored per person ID
}

type EmbeddingConfig struct {
	URL string // face embedding server, defaults to http://localhost:8000
	Dim int    // defaults to constants.DefaultEmbeddingDim
}

type CameraConfig struct {
	SnapshotURL string // HTTP snapshot endpoint of the camera
	Dir         string // replay images from a directory instead of a camera
	MaxSize     int    // frames are downscaled to fit within MaxSize pixels
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL, empty selects the JSON file backend
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type OpenAIConfig struct {
	Token string
}

type SpeechConfig struct {
	Voice     string
	Model     string
	OutputDir string
}

type WebConfig struct {
	Port           int
	Host           string
	AllowedOrigins []string
	APIToken       string // bearer token required for changes, empty disables
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a finite float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

func envList(key string) []string {
	var out []string
	for _, s := range strings.Split(os.Getenv(key), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// loadRecognition applies embedded defaults, the optional override file and
// finally env vars.
func loadRecognition() (RecognitionConfig, error) {
	var rc RecognitionConfig
	if err := yaml.Unmarshal(defaultsYAML, &rc); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	if path := os.Getenv("RECOGNITION_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return rc, fmt.Errorf("reading recognition config: %w", err)
		}
		if err := yaml.Unmarshal(data, &rc); err != nil {
			return rc, fmt.Errorf("parsing recognition config %s: %w", path, err)
		}
	}

	rc.SimilarityThreshold = envFloat("SIMILARITY_THRESHOLD", rc.SimilarityThreshold)
	rc.DetectionConfidenceThreshold = envFloat("DETECTION_CONFIDENCE_THRESHOLD", rc.DetectionConfidenceThreshold)
	rc.CooldownIntervalSeconds = envInt("COOLDOWN_INTERVAL_SECONDS", rc.CooldownIntervalSeconds)
	rc.MaxEmbeddingsPerPerson = envInt("MAX_EMBEDDINGS_PER_PERSON", rc.MaxEmbeddingsPerPerson)
	rc.PollIntervalMs = envInt("POLL_INTERVAL_MS", rc.PollIntervalMs)
	rc.MatcherIndex = strings.ToLower(envString("MATCHER_INDEX", rc.MatcherIndex))
	return rc, nil
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	rc, err := loadRecognition()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Recognition: rc,
		Storage: StorageConfig{
			PersonDBPath:   envString("PERSON_DB_PATH", "data/persons.json"),
			PersonImageDir: envString("PERSON_IMAGE_DIR", "data/images"),
		},
		Embedding: EmbeddingConfig{
			URL: envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim: envInt("EMBEDDING_DIM", constants.DefaultEmbeddingDim),
		},
		Camera: CameraConfig{
			SnapshotURL: os.Getenv("CAMERA_SNAPSHOT_URL"),
			Dir:         os.Getenv("CAMERA_DIR"),
			MaxSize:     envInt("CAMERA_MAX_SIZE", 1280),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Speech: SpeechConfig{
			Voice:     envString("SPEECH_VOICE", "alloy"),
			Model:     envString("SPEECH_MODEL", "tts-1"),
			OutputDir: envString("SPEECH_OUTPUT_DIR", "data/speech"),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8080),
			Host:           envString("WEB_HOST", "0.0.0.0"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects option values the recognition core cannot work with.
func (c *Config) Validate() error {
	var errs []error
	rc := c.Recognition
	if rc.SimilarityThreshold < 0 || rc.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("similarity_threshold must be within [0, 1], got %v", rc.SimilarityThreshold))
	}
	if rc.DetectionConfidenceThreshold < 0 || rc.DetectionConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("detection_confidence_threshold must be within [0, 1], got %v", rc.DetectionConfidenceThreshold))
	}
	if rc.CooldownIntervalSeconds <= 0 {
		errs = append(errs, fmt.Errorf("cooldown_interval_seconds must be positive, got %d", rc.CooldownIntervalSeconds))
	}
	if rc.MaxEmbeddingsPerPerson <= 0 {
		errs = append(errs, fmt.Errorf("max_embeddings_per_person must be positive, got %d", rc.MaxEmbeddingsPerPerson))
	}
	if rc.PollIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval_ms must be positive, got %d", rc.PollIntervalMs))
	}
	if rc.MatcherIndex != IndexExact && rc.MatcherIndex != IndexHNSW {
		errs = append(errs, fmt.Errorf("matcher_index must be %q or %q, got %q", IndexExact, IndexHNSW, rc.MatcherIndex))
	}
	if c.Camera.SnapshotURL != "" && c.Camera.Dir != "" {
		errs = append(errs, errors.New("CAMERA_SNAPSHOT_URL and CAMERA_DIR are mutually exclusive"))
	}
	return errors.Join(errs...)
}
