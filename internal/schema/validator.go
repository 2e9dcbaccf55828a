// Package schema validates session events before they leave the process.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/SANCHES-Pedro/bq-back/internal/models"
)

var (
	// ErrUnknownEvent is returned for values that are not a known event model.
	ErrUnknownEvent = errors.New("unknown event type")
	// ErrInvalidEvent wraps every field-level validation failure.
	ErrInvalidEvent = errors.New("invalid event")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks required fields of a models event. Pointers to models are
// accepted as well as values.
func (v *Validator) Validate(event any) error {
	var err error
	switch ev := event.(type) {
	case models.TranscriptPartial:
		err = checkTranscript(ev.EventType, models.EventTypePartial, ev.SessionID, ev.Text, ev.OffsetMs)
	case *models.TranscriptPartial:
		return v.Validate(*ev)
	case models.TranscriptFinal:
		err = checkTranscript(ev.EventType, models.EventTypeFinal, ev.SessionID, ev.Text, ev.OffsetMs)
	case *models.TranscriptFinal:
		return v.Validate(*ev)
	case models.SessionFinalized:
		err = checkFinalized(ev)
	case *models.SessionFinalized:
		return v.Validate(*ev)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownEvent, event)
	}
	if err != nil {
		return err
	}
	log.Debug().Str("type", fmt.Sprintf("%T", event)).Msg("schema validated")
	return nil
}

func checkTranscript(eventType, want, sessionID, text string, offsetMs int64) error {
	if eventType != want {
		return fmt.Errorf("%w: eventType %q, want %q", ErrInvalidEvent, eventType, want)
	}
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidEvent)
	}
	if text == "" {
		return fmt.Errorf("%w: text is required", ErrInvalidEvent)
	}
	if offsetMs < 0 {
		return fmt.Errorf("%w: offsetMs must not be negative", ErrInvalidEvent)
	}
	return nil
}

func checkFinalized(ev models.SessionFinalized) error {
	if ev.EventType != models.EventTypeFinalized {
		return fmt.Errorf("%w: eventType %q, want %q", ErrInvalidEvent, ev.EventType, models.EventTypeFinalized)
	}
	if ev.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidEvent)
	}
	if ev.Reason == "" {
		return fmt.Errorf("%w: reason is required", ErrInvalidEvent)
	}
	if ev.Error == "" && (ev.AudioRef == "" || ev.TranscriptRef == "") {
		return fmt.Errorf("%w: references are required for a persisted session", ErrInvalidEvent)
	}
	return nil
}
