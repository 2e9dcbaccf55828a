package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/SANCHES-Pedro/bq-back/internal/models"
	"github.com/SANCHES-Pedro/bq-back/internal/observability/metrics"
	"github.com/SANCHES-Pedro/bq-back/internal/service/audio"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
)

// Publisher fans transcript and session events out of the process.
type Publisher interface {
	PublishPartial(ctx context.Context, ev models.TranscriptPartial) error
	PublishFinal(ctx context.Context, ev models.TranscriptFinal) error
	PublishSession(ctx context.Context, ev models.SessionFinalized) error
}

// Worker owns the blocking engine call of one session. It pulls audio from
// the relay buffer and turns engine events into client events.
type Worker struct {
	sessionID string
	provider  string
	factory   stt.EngineFactory
	cfg       stt.Config
	buffer    *audio.RelayBuffer
	relay     *EventRelay
	recorder  *Recorder
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	mu     sync.Mutex
	finals int
}

// Run builds the engine and streams until the buffer is closed and drained,
// or the engine fails. An engine failure is relayed as exactly one fatal
// event and returned.
func (w *Worker) Run(ctx context.Context) error {
	engine, err := w.factory(ctx, w.cfg)
	if err != nil {
		err = fmt.Errorf("create engine: %w", err)
		w.fatal(err)
		return err
	}

	w.log.Debug().Msg("Recognition worker started")
	err = engine.Stream(ctx, w.buffer, w.handle)
	if err != nil {
		if ctx.Err() != nil {
			w.log.Debug().Err(err).Msg("Recognition worker cancelled")
			return ctx.Err()
		}
		w.fatal(err)
		return err
	}
	w.log.Debug().Msg("Recognition worker finished")
	return nil
}

func (w *Worker) fatal(err error) {
	w.metrics.RecordEngineError(w.provider, "fatal")
	w.log.Error().Err(err).Msg("Recognition failed")
	w.relay.Send(OutboundEvent{Kind: KindFatal, Text: "recognition failed: " + err.Error()})
}

// handle is the engine callback. It runs on engine goroutines.
func (w *Worker) handle(ev stt.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("event", ev.Kind.String()).Msg("Engine event handler panicked")
			w.relay.Send(OutboundEvent{Kind: KindError, Text: "internal error handling engine event"})
		}
	}()

	switch ev.Kind {
	case stt.Transcript, stt.PartialTranscript:
		w.onTranscript(ev.Text, ev.Kind == stt.PartialTranscript)
	case stt.Error:
		w.metrics.RecordEngineError(w.provider, "error")
		w.log.Warn().Str("type", ev.Type).Str("reason", ev.Reason).Msg("Engine error")
		w.relay.Send(OutboundEvent{Kind: KindError, Text: errorText(ev)})
	case stt.EndOfTranscript:
		if w.buffer.Closed() {
			w.log.Debug().Msg("End of transcript")
			return
		}
		w.log.Warn().Msg("Engine ended transcription while audio was still open")
		w.relay.Send(OutboundEvent{Kind: KindWarning, Text: "transcription ended by the engine"})
	case stt.RecognitionStarted:
		w.log.Info().Msg("Recognition started")
		w.relay.Send(OutboundEvent{Kind: KindStatus, Text: "recognition started"})
	case stt.Unhandled:
		w.log.Debug().Str("type", ev.Type).Msg("Ignoring engine message")
	}
}

func (w *Worker) onTranscript(text string, partial bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	entry, ok := w.recorder.AddTranscript(text, partial)
	if !ok {
		w.log.Debug().Bool("partial", partial).Msg("Transcript after finalize ignored")
		return
	}

	now := time.Now().UnixMilli()
	ctx := context.Background()

	if partial {
		w.metrics.RecordPartialTranscript()
		w.relay.Send(OutboundEvent{Kind: KindPartial, Text: text})
		if err := w.publisher.PublishPartial(ctx, models.TranscriptPartial{
			EventType: models.EventTypePartial,
			SessionID: w.sessionID,
			Timestamp: now,
			OffsetMs:  entry.Offset.Milliseconds(),
			Text:      text,
		}); err != nil {
			w.log.Warn().Err(err).Msg("Failed to publish partial")
		}
		return
	}

	w.mu.Lock()
	w.finals++
	seq := w.finals
	w.mu.Unlock()

	w.metrics.RecordFinalTranscript()
	w.relay.Send(OutboundEvent{Kind: KindFinal, Text: text})
	if err := w.publisher.PublishFinal(ctx, models.TranscriptFinal{
		EventType: models.EventTypeFinal,
		SessionID: w.sessionID,
		Timestamp: now,
		OffsetMs:  entry.Offset.Milliseconds(),
		Text:      text,
		Sequence:  seq,
	}); err != nil {
		w.log.Warn().Err(err).Msg("Failed to publish final")
	}
}

func errorText(ev stt.Event) string {
	switch {
	case ev.Type != "" && ev.Reason != "":
		return ev.Type + ": " + ev.Reason
	case ev.Reason != "":
		return ev.Reason
	case ev.Type != "":
		return ev.Type
	default:
		return "engine error"
	}
}
