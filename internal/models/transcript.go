// Package models defines the data structures for published session events.
package models

// Event types carried in the eventType field.
const (
	EventTypePartial   = "session.transcript.partial"
	EventTypeFinal     = "session.transcript.final"
	EventTypeFinalized = "session.finalized"
)

// TranscriptPartial represents an interim/partial transcript result.
type TranscriptPartial struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	OffsetMs  int64  `json:"offsetMs"`
	Text      string `json:"text"`
}

// TranscriptFinal represents a final transcript result.
type TranscriptFinal struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	OffsetMs  int64  `json:"offsetMs"`
	Text      string `json:"text"`
	Sequence  int    `json:"sequence"`
}

// SessionFinalized is published once a session has been persisted, or has
// failed to persist.
type SessionFinalized struct {
	EventType     string `json:"eventType"`
	SessionID     string `json:"sessionId"`
	Timestamp     int64  `json:"timestamp"`
	StartedAt     int64  `json:"startedAt"`
	DurationMs    int64  `json:"durationMs"`
	Reason        string `json:"reason"`
	AudioBytes    int64  `json:"audioBytes"`
	FinalCount    int    `json:"finalCount"`
	AudioRef      string `json:"audioRef,omitempty"`
	TranscriptRef string `json:"transcriptRef,omitempty"`
	Error         string `json:"error,omitempty"`
}
