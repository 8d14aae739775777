// Package announce turns recognition events into spoken or logged announcements.
package announce

import (
	"log/slog"
	"strings"

	"github.com/kozaktomas/familiar-faces/internal/recognition"
)

// Message builds the sentence announced for a recognized person, e.g.
// "This is Jane, your daughter. She lives in Brno."
func Message(ev recognition.Event) string {
	var b strings.Builder
	b.WriteString("This is ")
	b.WriteString(ev.Name)
	if relation := strings.TrimSpace(ev.Relation); relation != "" {
		b.WriteString(", your ")
		b.WriteString(relation)
	}
	if notes := strings.TrimSpace(ev.Notes); notes != "" {
		b.WriteString(". ")
		b.WriteString(notes)
	}
	return b.String()
}

// LogConsumer logs every announcement.
type LogConsumer struct {
	logger *slog.Logger
}

// NewLogConsumer creates a consumer writing to logger, or slog.Default when nil.
func NewLogConsumer(logger *slog.Logger) *LogConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogConsumer{logger: logger}
}

// OnRecognition implements recognition.Consumer.
func (c *LogConsumer) OnRecognition(ev recognition.Event) {
	c.logger.Info("announcement",
		"person_id", ev.PersonID,
		"similarity", ev.Similarity,
		"detected_at", ev.DetectedAt,
		"message", Message(ev))
}

// Multi fans every event out to all consumers in order.
type Multi []recognition.Consumer

// OnRecognition implements recognition.Consumer.
func (m Multi) OnRecognition(ev recognition.Event) {
	for _, c := range m {
		c.OnRecognition(ev)
	}
}
