// Package mock provides a scripted engine for running the bridge without
// cloud credentials. Every non-silent audio read advances the current
// utterance by one step: its partials in order, then exactly one final.
package mock

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials []string // Progressive partial transcripts
	Final    string   // Final transcript text
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials: []string{"Patient", "Patient reports", "Patient reports a headache"},
		Final:    "Patient reports a headache since Monday",
	},
	{
		Partials: []string{"No", "No fever"},
		Final:    "No fever or nausea",
	},
	{
		Partials: []string{"Blood pressure", "Blood pressure is"},
		Final:    "Blood pressure is one twenty over eighty",
	},
	{
		Partials: []string{"Prescribed"},
		Final:    "Prescribed ibuprofen twice a day",
	},
}

// Options tune the simulation.
type Options struct {
	Utterances []SimulatedUtterance // defaults to DefaultUtterances
	ChunkSize  int                  // bytes per read, defaults to 8192
	Latency    time.Duration        // simulated processing delay per step
	FailStart  error                // returned by Stream before any event
}

// Engine implements stt.Engine with scripted responses.
type Engine struct {
	opts Options

	mu           sync.Mutex
	utterance    int
	partialIndex int
	started      bool // current utterance has emitted at least one step
	reads        int
}

// New creates a mock engine.
func New(opts Options) *Engine {
	if len(opts.Utterances) == 0 {
		opts.Utterances = DefaultUtterances
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8192
	}
	return &Engine{opts: opts}
}

// NewEngine is an stt.EngineFactory for the mock engine.
func NewEngine(_ context.Context, cfg stt.Config) (stt.Engine, error) {
	return New(Options{ChunkSize: cfg.ChunkSizeBytes}), nil
}

// Stream implements stt.Engine.
func (e *Engine) Stream(ctx context.Context, src io.Reader, h stt.Handler) error {
	if e.opts.FailStart != nil {
		return e.opts.FailStart
	}
	h(stt.Event{Kind: stt.RecognitionStarted, Type: "RecognitionStarted"})

	buf := make([]byte, e.opts.ChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := src.Read(buf)
		if n > 0 && !isSilence(buf[:n]) {
			e.step(ctx, h)
		}
		if errors.Is(err, io.EOF) {
			e.flush(h)
			h(stt.Event{Kind: stt.EndOfTranscript, Type: "EndOfTranscript"})
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// step emits the next partial of the current utterance, or its final once
// the partials are exhausted.
func (e *Engine) step(ctx context.Context, h stt.Handler) {
	if e.opts.Latency > 0 {
		select {
		case <-time.After(e.opts.Latency):
		case <-ctx.Done():
			return
		}
	}

	e.mu.Lock()
	e.reads++
	utt := e.opts.Utterances[e.utterance]
	var ev stt.Event
	if e.partialIndex < len(utt.Partials) {
		ev = stt.Event{Kind: stt.PartialTranscript, Text: utt.Partials[e.partialIndex], Type: "AddPartialTranscript"}
		e.partialIndex++
		e.started = true
	} else {
		ev = stt.Event{Kind: stt.Transcript, Text: utt.Final, Type: "AddTranscript"}
		e.advanceLocked()
	}
	e.mu.Unlock()

	h(ev)
}

// flush sends the final of an utterance that was cut off by the end of input.
func (e *Engine) flush(h stt.Handler) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	utt := e.opts.Utterances[e.utterance]
	e.advanceLocked()
	e.mu.Unlock()

	h(stt.Event{Kind: stt.Transcript, Text: utt.Final, Type: "AddTranscript"})
}

func (e *Engine) advanceLocked() {
	e.utterance = (e.utterance + 1) % len(e.opts.Utterances)
	e.partialIndex = 0
	e.started = false
}

// Reads returns how many non-silent reads the engine has processed.
func (e *Engine) Reads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reads
}

func isSilence(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
