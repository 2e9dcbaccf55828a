// Package speechmatics implements stt.Engine against the Speechmatics
// real-time WebSocket API.
package speechmatics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
)

// Engine streams audio to Speechmatics. One Engine serves one session.
type Engine struct {
	cfg    stt.Config
	dialer *websocket.Dialer
}

// New creates a Speechmatics engine.
func New(cfg stt.Config) *Engine {
	return &Engine{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// NewEngine is an stt.EngineFactory for Speechmatics.
func NewEngine(_ context.Context, cfg stt.Config) (stt.Engine, error) {
	if cfg.URL == "" {
		return nil, errors.New("speechmatics: URL is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(cfg), nil
}

// Stream implements stt.Engine.
func (e *Engine) Stream(ctx context.Context, src io.Reader, h stt.Handler) error {
	header := http.Header{}
	if e.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+e.cfg.AuthToken)
	}

	conn, _, err := e.dialer.DialContext(ctx, e.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("speechmatics: dial %s: %w", e.cfg.URL, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(e.startMessage()); err != nil {
		return fmt.Errorf("speechmatics: start recognition: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	started := make(chan struct{})
	finished := make(chan struct{})

	// Unblock the reader when the session is abandoned.
	go func() {
		<-gctx.Done()
		conn.Close()
	}()

	g.Go(func() error {
		return e.readLoop(gctx, conn, h, started, finished)
	})
	g.Go(func() error {
		return e.writeLoop(gctx, conn, src, started, finished)
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (e *Engine) startMessage() startRecognition {
	return startRecognition{
		Message: msgStartRecognition,
		AudioFormat: audioFormat{
			Type:       "raw",
			Encoding:   e.cfg.Encoding,
			SampleRate: e.cfg.SampleRateHz,
		},
		TranscriptionConfig: transcriptionConfig{
			Language:       e.cfg.LanguageCode,
			EnablePartials: e.cfg.EnablePartials,
			OperatingPoint: e.cfg.OperatingPoint,
			MaxDelay:       e.cfg.MaxDelay,
			EnableEntities: e.cfg.EnableEntities,
		},
	}
}

// readLoop dispatches server messages until EndOfTranscript.
func (e *Engine) readLoop(ctx context.Context, conn *websocket.Conn, h stt.Handler, started, finished chan struct{}) error {
	var startOnce, finishOnce sync.Once
	defer finishOnce.Do(func() { close(finished) })

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("speechmatics: read: %w", err)
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Msg("speechmatics: discarding malformed message")
			continue
		}

		switch msg.Message {
		case msgRecognitionStarted:
			startOnce.Do(func() { close(started) })
			h(stt.Event{Kind: stt.RecognitionStarted, Type: msg.Message})
		case msgAddTranscript:
			h(stt.Event{Kind: stt.Transcript, Text: msg.Metadata.Transcript, Type: msg.Message})
		case msgAddPartialTranscript:
			h(stt.Event{Kind: stt.PartialTranscript, Text: msg.Metadata.Transcript, Type: msg.Message})
		case msgEndOfTranscript:
			h(stt.Event{Kind: stt.EndOfTranscript, Type: msg.Message})
			return nil
		case msgError:
			h(stt.Event{Kind: stt.Error, Reason: msg.Reason, Type: msg.Type})
		case msgAudioAdded:
			// acknowledgements carry nothing the bridge uses
		case msgWarning, msgInfo:
			log.Debug().Str("type", msg.Type).Str("reason", msg.Reason).Msgf("speechmatics: %s", msg.Message)
			h(stt.Event{Kind: stt.Unhandled, Type: msg.Message, Reason: msg.Reason})
		default:
			h(stt.Event{Kind: stt.Unhandled, Type: msg.Message, Reason: msg.Reason})
		}
	}
}

// writeLoop forwards audio once recognition has started, then sends
// EndOfStream when src is exhausted.
func (e *Engine) writeLoop(ctx context.Context, conn *websocket.Conn, src io.Reader, started, finished chan struct{}) error {
	select {
	case <-started:
	case <-finished:
		return nil
	case <-ctx.Done():
		return nil
	}

	buf := make([]byte, e.cfg.ChunkSizeBytes)
	seq := 0
	for {
		select {
		case <-finished:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := src.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return fmt.Errorf("speechmatics: send audio: %w", werr)
			}
			seq++
		}
		if errors.Is(err, io.EOF) {
			if werr := conn.WriteJSON(endOfStream{Message: msgEndOfStream, LastSeqNo: seq}); werr != nil {
				return fmt.Errorf("speechmatics: end of stream: %w", werr)
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("speechmatics: read audio: %w", err)
		}
	}
}
