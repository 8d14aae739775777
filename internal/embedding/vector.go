// Package embedding holds the face embedding vector type and its cosine metrics.
package embedding

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when a vector is empty or contains NaN/Inf values.
var ErrInvalidVector = errors.New("invalid embedding vector")

// Vector is a fixed-length face embedding. Values are never mutated after construction.
type Vector []float32

// New validates values and returns them as a Vector. The input slice is copied.
func New(values []float32) (Vector, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidVector)
	}
	v := make(Vector, len(values))
	for i, x := range values {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", ErrInvalidVector, i)
		}
		v[i] = x
	}
	return v, nil
}

// Dim returns the dimensionality of the vector.
func (v Vector) Dim() int {
	return len(v)
}

// Similarity computes the cosine similarity of two vectors in [-1, 1].
// Zero-norm vectors are treated as maximally dissimilar (-1).
// Vectors of different length are a programming error and panic.
func Similarity(a, b Vector) float64 {
	if len(a) != len(b) {
		panic(fmt.Sprintf("embedding: dimension mismatch %d != %d", len(a), len(b)))
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return -1
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}

// Distance computes the cosine distance (1 - cosine similarity), in [0, 2].
func Distance(a, b Vector) float64 {
	return 1 - Similarity(a, b)
}
