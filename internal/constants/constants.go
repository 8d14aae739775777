// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Recognition defaults
const (
	// DefaultSimilarityThreshold is the minimum cosine similarity to accept a match
	DefaultSimilarityThreshold = 0.6

	// DefaultCooldownSeconds is the minimum time between two announcements of one person
	DefaultCooldownSeconds = 30

	// DefaultMaxEmbeddingsPerPerson caps enrolled embeddings; the oldest is evicted first
	DefaultMaxEmbeddingsPerPerson = 5

	// DefaultPollIntervalMs is the interval between recognition cycles
	DefaultPollIntervalMs = 2000

	// DefaultEmbeddingDim matches the 512-dim face model of the embedding server
	DefaultEmbeddingDim = 512
)

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWCandidates is how many nearest embeddings are fetched before exact rescoring
	HNSWCandidates = 32
)

// Enrollment constants
const (
	// DefaultMaxEnrollImages is the default number of images used per person in bulk enrollment
	DefaultMaxEnrollImages = 5

	// DefaultMinFaceSize is the minimum face width/height in pixels accepted for enrollment
	DefaultMinFaceSize = 80

	// DefaultEnrollConfidence is the detector score required for enrollment images
	DefaultEnrollConfidence = 0.7
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) of frames sent to the detector
	MaxImageSize = 1280

	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100

	// MaxUploadSize is the maximum accepted image upload in bytes
	MaxUploadSize = 20 << 20
)
