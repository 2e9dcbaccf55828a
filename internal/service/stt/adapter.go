// Package stt defines the boundary between the bridge and a real-time
// speech-to-text engine.
package stt

import (
	"context"
	"errors"
	"io"
)

// Kind identifies an engine event.
type Kind int

const (
	// Unhandled is any provider message the bridge does not act on.
	Unhandled Kind = iota
	RecognitionStarted
	Transcript
	PartialTranscript
	EndOfTranscript
	Error
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case RecognitionStarted:
		return "RecognitionStarted"
	case Transcript:
		return "Transcript"
	case PartialTranscript:
		return "PartialTranscript"
	case EndOfTranscript:
		return "EndOfTranscript"
	case Error:
		return "Error"
	default:
		return "Unhandled"
	}
}

// Event is a single message emitted by an engine.
type Event struct {
	Kind   Kind
	Text   string // transcript text for Transcript and PartialTranscript
	Reason string // human readable reason for Error
	Type   string // provider message or error type
}

// Handler receives engine events. It is invoked from the engine's own
// goroutines and must not block for long.
type Handler func(Event)

// Engine runs one streaming recognition session.
//
// Stream pulls audio from src until it returns io.EOF, delivering events to h
// as they arrive. It blocks until the provider has finished the transcript,
// the context is cancelled or the session fails.
type Engine interface {
	Stream(ctx context.Context, src io.Reader, h Handler) error
}

// EngineFactory builds an engine from connection settings.
type EngineFactory func(ctx context.Context, cfg Config) (Engine, error)

// Config holds engine connection and recognition settings.
type Config struct {
	URL            string
	AuthToken      string
	SampleRateHz   int
	BitDepth       int
	Encoding       string
	ChunkSizeBytes int
	LanguageCode   string
	EnablePartials bool
	OperatingPoint string
	MaxDelay       float64
	EnableEntities bool
}

// DefaultConfig returns settings matching the bridge's 16 kHz mono 16-bit stream.
func DefaultConfig() Config {
	return Config{
		URL:            "wss://eu2.rt.speechmatics.com/v2",
		SampleRateHz:   16000,
		BitDepth:       16,
		Encoding:       "pcm_s16le",
		ChunkSizeBytes: 8192,
		LanguageCode:   "en",
		EnablePartials: true,
		OperatingPoint: "enhanced",
		MaxDelay:       2.0,
	}
}

// Validate checks the settings every engine depends on.
func (c Config) Validate() error {
	if c.SampleRateHz <= 0 {
		return errors.New("stt: sample rate must be positive")
	}
	if c.ChunkSizeBytes <= 0 {
		return errors.New("stt: chunk size must be positive")
	}
	if c.LanguageCode == "" {
		return errors.New("stt: language code is required")
	}
	return nil
}
