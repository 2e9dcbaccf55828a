package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SANCHES-Pedro/bq-back/internal/models"
	"github.com/SANCHES-Pedro/bq-back/internal/observability/logging"
	"github.com/SANCHES-Pedro/bq-back/internal/observability/metrics"
	"github.com/SANCHES-Pedro/bq-back/internal/service/audio"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
	"github.com/SANCHES-Pedro/bq-back/internal/storage"
)

const (
	// Greeting is the first frame of every session.
	Greeting = "Connected to server successfully!"
	// SessionEndedPrefix starts the last frame of every session.
	SessionEndedPrefix = "SESSION_ENDED:"

	stopCommand = "STOP"
)

// Conn is a client connection carrying binary audio frames in and text
// frames out. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

type readLimiter interface {
	SetReadLimit(limit int64)
}

var errConnBroken = errors.New("client connection broken")

// Limits bounds the resources of one session. Zero disables a limit.
type Limits struct {
	MaxAudioBytes int64         // total audio received
	MaxDuration   time.Duration // wall time in the open state
	MaxFrameBytes int64         // size of a single client frame
}

// DefaultLimits returns the limits applied when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxAudioBytes: 256 * 1024 * 1024, // ~2.3h of 16 kHz mono 16-bit
		MaxDuration:   2 * time.Hour,
		MaxFrameBytes: 1 << 20,
	}
}

// Options tune session timing.
type Options struct {
	Buffer          audio.BufferConfig
	Limits          Limits
	PollInterval    time.Duration // how often engine events are forwarded
	DrainTimeout    time.Duration // how long to wait for the worker to exit
	FinalizeTimeout time.Duration // bound on persisting the session
	WriteTimeout    time.Duration // per frame written to the client
	Clock           func() time.Time
}

// DefaultOptions returns the default session options.
func DefaultOptions() Options {
	return Options{
		Buffer:          audio.DefaultBufferConfig(),
		Limits:          DefaultLimits(),
		PollInterval:    20 * time.Millisecond,
		DrainTimeout:    2 * time.Second,
		FinalizeTimeout: 30 * time.Second,
		WriteTimeout:    5 * time.Second,
		Clock:           time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = def.DrainTimeout
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = def.FinalizeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	return o
}

// Deps are the collaborators shared by every session of a service.
type Deps struct {
	Provider     string
	Factory      stt.EngineFactory
	EngineConfig stt.Config
	Sink         storage.Sink
	Publisher    Publisher
}

// Session bridges one client connection to one recognition worker.
type Session struct {
	id        string
	conn      Conn
	opts      Options
	lifecycle *Lifecycle
	buffer    *audio.RelayBuffer
	relay     *EventRelay
	recorder  *Recorder
	worker    *Worker
	sink      storage.Sink
	publisher Publisher
	metrics   *metrics.Metrics
	log       zerolog.Logger

	closeOnce sync.Once
	closeReq  chan struct{}
	stopRead  chan struct{}

	// owned by the session loop
	writeBroken bool
	overflowing bool
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

type drainCause struct {
	reason       DrainReason
	workerExited bool
	workerErr    error
}

// NewSession creates an open session. Run must be called to start it.
func NewSession(id string, conn Conn, deps Deps, opts Options) *Session {
	opts = opts.withDefaults()
	buffer := audio.NewRelayBuffer(opts.Buffer)
	relay := NewEventRelay()
	recorder := NewRecorder(id, buffer.Format(), opts.Clock)
	m := metrics.DefaultMetrics
	logger := logging.WithEngine(id, deps.Provider)

	return &Session{
		id:        id,
		conn:      conn,
		opts:      opts,
		lifecycle: NewLifecycle(id),
		buffer:    buffer,
		relay:     relay,
		recorder:  recorder,
		worker: &Worker{
			sessionID: id,
			provider:  deps.Provider,
			factory:   deps.Factory,
			cfg:       deps.EngineConfig,
			buffer:    buffer,
			relay:     relay,
			recorder:  recorder,
			publisher: deps.Publisher,
			metrics:   m,
			log:       logger.With().Str("component", "worker").Logger(),
		},
		sink:      deps.Sink,
		publisher: deps.Publisher,
		metrics:   m,
		log:       logger,
		closeReq:  make(chan struct{}),
		stopRead:  make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return s.lifecycle.State()
}

// Close asks the session to drain and finalize. Safe to call from any
// goroutine, any number of times.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closeReq) })
}

// Run drives the session until it is finalized and returns the persistence
// error, if any. Cancelling ctx drains the session like a shutdown; the
// engine still gets to finish within the drain timeout.
func (s *Session) Run(ctx context.Context) error {
	started := time.Now()
	s.metrics.RecordSessionStart()
	s.log.Info().Msg("Session opened")

	workerCtx, cancelWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorker()
	workerDone := make(chan error, 1)

	var cause drainCause
	if err := s.write(websocket.TextMessage, Greeting); err != nil {
		s.log.Info().Err(err).Msg("Client gone before greeting")
		cause = drainCause{reason: ReasonConnectionLost, workerExited: true}
	} else {
		if l, ok := s.conn.(readLimiter); ok && s.opts.Limits.MaxFrameBytes > 0 {
			l.SetReadLimit(s.opts.Limits.MaxFrameBytes)
		}
		go func() { workerDone <- s.worker.Run(workerCtx) }()

		inbound := make(chan inboundFrame)
		go s.readLoop(inbound)
		cause = s.loop(ctx, inbound, workerDone)
	}

	// Draining
	close(s.stopRead)
	if err := s.lifecycle.BeginDrain(cause.reason); err != nil {
		s.log.Error().Err(err).Msg("Unexpected lifecycle state")
	}
	s.log.Info().Str("reason", string(cause.reason)).Msg("Session draining")
	s.buffer.Close()

	if !cause.workerExited {
		timer := time.NewTimer(s.opts.DrainTimeout)
		select {
		case cause.workerErr = <-workerDone:
		case <-timer.C:
			s.metrics.RecordDrainTimeout()
			s.log.Warn().Dur("drainTimeout", s.opts.DrainTimeout).Msg("Recognition worker did not exit in time, abandoning it")
		}
		timer.Stop()
	}
	cancelWorker()
	_ = s.flushRelay()

	stats := s.buffer.Stats()
	s.metrics.RecordSilence(stats.SilenceChunks)

	refs, err := s.finalize(ctx)
	s.publishFinalized(ctx, cause.reason, refs, err, started)

	_ = s.write(websocket.TextMessage, SessionEndedPrefix+s.id)
	s.closeConn()

	s.metrics.RecordSessionEnd(string(cause.reason), time.Since(started).Seconds())
	s.log.Info().
		Str("reason", string(cause.reason)).
		Int64("audioBytes", s.recorder.AudioBytes()).
		Int("silenceChunks", stats.SilenceChunks).
		Int("overflows", stats.Overflows).
		Dur("duration", time.Since(started).Round(time.Millisecond)).
		Msg("Session ended")
	return err
}

func (s *Session) loop(ctx context.Context, inbound <-chan inboundFrame, workerDone <-chan error) drainCause {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if s.opts.Limits.MaxDuration > 0 {
		t := time.NewTimer(s.opts.Limits.MaxDuration)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case f := <-inbound:
			if errors.Is(f.err, websocket.ErrReadLimit) {
				s.metrics.RecordLimitExceeded("max_frame_bytes")
				s.log.Warn().Int64("maxFrameBytes", s.opts.Limits.MaxFrameBytes).Msg("Client frame limit exceeded")
				s.relay.Send(OutboundEvent{Kind: KindError, Text: fmt.Sprintf("client frame limit of %d bytes exceeded", s.opts.Limits.MaxFrameBytes)})
				return drainCause{reason: ReasonLimitExceeded}
			}
			if f.err != nil {
				s.logDisconnect(f.err)
				return drainCause{reason: ReasonConnectionLost}
			}
			if reason, stop := s.onFrame(f); stop {
				return drainCause{reason: reason}
			}
		case <-ticker.C:
			if err := s.flushRelay(); err != nil {
				return drainCause{reason: ReasonConnectionLost}
			}
		case err := <-workerDone:
			if err != nil {
				return drainCause{reason: ReasonEngineFatal, workerExited: true, workerErr: err}
			}
			return drainCause{reason: ReasonEngineCompleted, workerExited: true}
		case <-s.closeReq:
			return drainCause{reason: ReasonClosed}
		case <-ctx.Done():
			return drainCause{reason: ReasonShutdown}
		case <-deadline:
			s.metrics.RecordLimitExceeded("max_duration")
			s.log.Warn().Dur("maxDuration", s.opts.Limits.MaxDuration).Msg("Session duration limit exceeded")
			s.relay.Send(OutboundEvent{Kind: KindError, Text: fmt.Sprintf("session duration limit of %v exceeded", s.opts.Limits.MaxDuration)})
			return drainCause{reason: ReasonLimitExceeded}
		}
	}
}

// readLoop forwards client frames until a read fails or the session stops reading.
func (s *Session) readLoop(out chan<- inboundFrame) {
	for {
		mt, data, err := s.conn.ReadMessage()
		select {
		case out <- inboundFrame{messageType: mt, data: data, err: err}:
		case <-s.stopRead:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) onFrame(f inboundFrame) (DrainReason, bool) {
	switch f.messageType {
	case websocket.BinaryMessage:
		return s.onAudio(f.data)
	case websocket.TextMessage:
		if strings.EqualFold(strings.TrimSpace(string(f.data)), stopCommand) {
			s.log.Info().Msg("Client requested stop")
			return ReasonClosed, true
		}
		s.log.Debug().Int("bytes", len(f.data)).Msg("Ignoring client text frame")
	}
	return "", false
}

func (s *Session) onAudio(chunk []byte) (DrainReason, bool) {
	if len(chunk) == 0 {
		return "", false
	}
	s.metrics.RecordAudioReceived(len(chunk))

	// The chunk that would cross the limit is neither recorded nor relayed.
	if limit := s.opts.Limits.MaxAudioBytes; limit > 0 && s.recorder.AudioBytes()+int64(len(chunk)) > limit {
		s.metrics.RecordLimitExceeded("max_audio_bytes")
		s.log.Warn().Int64("maxAudioBytes", limit).Msg("Session audio limit exceeded")
		s.relay.Send(OutboundEvent{Kind: KindError, Text: fmt.Sprintf("session audio limit of %d bytes exceeded", limit)})
		return ReasonLimitExceeded, true
	}
	s.recorder.AddAudioChunk(chunk)

	err := s.buffer.Push(chunk)
	switch {
	case errors.Is(err, audio.ErrOverflow):
		s.metrics.RecordOverflow()
		if !s.overflowing {
			s.overflowing = true
			s.log.Warn().Int("chunkBytes", len(chunk)).Msg("Relay backlog full, audio recorded but not transcribed")
			s.relay.Send(OutboundEvent{Kind: KindWarning, Text: "audio is arriving faster than it can be transcribed"})
		}
	case err == nil:
		s.overflowing = false
	}
	return "", false
}

// flushRelay writes every queued engine event to the client in order.
func (s *Session) flushRelay() error {
	for {
		ev, ok := s.relay.TryReceive()
		if !ok {
			return nil
		}
		if err := s.write(websocket.TextMessage, ev.Frame()); err != nil {
			return err
		}
	}
}

func (s *Session) write(messageType int, text string) error {
	if s.writeBroken {
		return errConnBroken
	}
	if d, ok := s.conn.(writeDeadliner); ok {
		_ = d.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	}
	if err := s.conn.WriteMessage(messageType, []byte(text)); err != nil {
		s.writeBroken = true
		s.log.Info().Err(err).Msg("Write to client failed")
		return fmt.Errorf("%w: %w", errConnBroken, err)
	}
	return nil
}

func (s *Session) finalize(ctx context.Context) (Refs, error) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.FinalizeTimeout)
	defer cancel()

	start := time.Now()
	refs, err := s.recorder.Finalize(fctx, s.sink)
	s.metrics.RecordFinalize(err, time.Since(start).Seconds())

	if lerr := s.lifecycle.Finalize(); lerr != nil {
		s.log.Error().Err(lerr).Msg("Unexpected lifecycle state")
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to persist session")
		return refs, err
	}
	s.log.Info().Str("audioRef", refs.Audio).Str("transcriptRef", refs.Transcript).Msg("Session persisted")
	return refs, nil
}

func (s *Session) publishFinalized(ctx context.Context, reason DrainReason, refs Refs, persistErr error, started time.Time) {
	ev := models.SessionFinalized{
		EventType:     models.EventTypeFinalized,
		SessionID:     s.id,
		Timestamp:     time.Now().UnixMilli(),
		StartedAt:     started.UnixMilli(),
		DurationMs:    time.Since(started).Milliseconds(),
		Reason:        string(reason),
		AudioBytes:    s.recorder.AudioBytes(),
		FinalCount:    s.recorder.FinalCount(),
		AudioRef:      refs.Audio,
		TranscriptRef: refs.Transcript,
	}
	if persistErr != nil {
		ev.Error = persistErr.Error()
	}
	if err := s.publisher.PublishSession(context.WithoutCancel(ctx), ev); err != nil {
		s.log.Warn().Err(err).Msg("Failed to publish session event")
	}
}

func (s *Session) closeConn() {
	if !s.writeBroken {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
		_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	}
	if err := s.conn.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Closing client connection")
	}
}

func (s *Session) logDisconnect(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.log.Info().Msg("Client disconnected")
		return
	}
	s.log.Info().Err(err).Msg("Client connection lost")
}
