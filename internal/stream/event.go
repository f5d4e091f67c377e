// Package stream consumes the named-event channel of one benchmark run and
// routes each event to the run's state, statistics and render scheduler.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind names an event on the channel.
type Kind string

const (
	KindChunk           Kind = "chunk"
	KindSummary         Kind = "summary"
	KindSummaryComplete Kind = "summary_complete"
	KindComplete        Kind = "complete"
	KindError           Kind = "error"
)

// Event is one named event with its raw JSON payload.
type Event struct {
	Kind Kind
	Data []byte
}

// ChunkPayload is the body of a chunk event. Every field except Model is
// optional.
type ChunkPayload struct {
	Model     string   `json:"model"`
	Chunk     *string  `json:"chunk,omitempty"`
	Status    *string  `json:"status,omitempty"`
	Duration  *float64 `json:"duration,omitempty"`
	RequestID *int     `json:"request_id,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Error string `json:"error"`
}

// Envelope is the WebSocket framing of an event.
type Envelope struct {
	Event Kind            `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseChunk decodes a chunk payload.
func ParseChunk(data []byte) (ChunkPayload, error) {
	var p ChunkPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode chunk: %w", err)
	}
	if strings.TrimSpace(p.Model) == "" {
		return p, fmt.Errorf("chunk without model")
	}
	return p, nil
}

// ParseError decodes an error payload. An empty or unreadable payload yields
// an empty message.
func ParseError(data []byte) string {
	var p ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ""
	}
	return p.Error
}
