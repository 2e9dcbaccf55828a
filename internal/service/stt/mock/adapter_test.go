package mock

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
)

// chunkReader returns one chunk per Read, like the relay buffer does.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

type testHandler struct {
	mu     sync.Mutex
	events []stt.Event
}

func (h *testHandler) handle(ev stt.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *testHandler) texts(kind stt.Kind) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, ev := range h.events {
		if ev.Kind == kind {
			out = append(out, ev.Text)
		}
	}
	return out
}

func voiced() []byte { return bytes.Repeat([]byte{1}, 64) }

func TestEngine_PartialsThenFinal(t *testing.T) {
	eng := New(Options{Utterances: []SimulatedUtterance{
		{Partials: []string{"a", "a b"}, Final: "a b c"},
	}})
	h := &testHandler{}
	src := &chunkReader{chunks: [][]byte{voiced(), voiced(), voiced()}}

	if err := eng.Stream(context.Background(), src, h.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := h.texts(stt.PartialTranscript); len(got) != 2 || got[0] != "a" || got[1] != "a b" {
		t.Errorf("partials = %v", got)
	}
	if got := h.texts(stt.Transcript); len(got) != 1 || got[0] != "a b c" {
		t.Errorf("finals = %v", got)
	}
	if first := h.events[0].Kind; first != stt.RecognitionStarted {
		t.Errorf("first event = %v, want RecognitionStarted", first)
	}
	if last := h.events[len(h.events)-1].Kind; last != stt.EndOfTranscript {
		t.Errorf("last event = %v, want EndOfTranscript", last)
	}
}

func TestEngine_SilenceIgnored(t *testing.T) {
	eng := New(Options{})
	h := &testHandler{}
	src := &chunkReader{chunks: [][]byte{make([]byte, 3200), make([]byte, 3200)}}

	if err := eng.Stream(context.Background(), src, h.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eng.Reads() != 0 {
		t.Errorf("expected silence to be ignored, got %d reads", eng.Reads())
	}
	if len(h.texts(stt.Transcript)) != 0 {
		t.Error("expected no finals for silence")
	}
}

func TestEngine_FlushesCutOffUtterance(t *testing.T) {
	eng := New(Options{Utterances: []SimulatedUtterance{
		{Partials: []string{"one"}, Final: "one two"},
	}})
	h := &testHandler{}
	src := &chunkReader{chunks: [][]byte{voiced()}}

	if err := eng.Stream(context.Background(), src, h.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.texts(stt.Transcript); len(got) != 1 || got[0] != "one two" {
		t.Errorf("finals = %v, want [one two]", got)
	}
}

func TestEngine_CyclesThroughUtterances(t *testing.T) {
	eng := New(Options{Utterances: []SimulatedUtterance{{Final: "alpha"}, {Final: "beta"}}})
	h := &testHandler{}
	src := &chunkReader{chunks: [][]byte{voiced(), voiced(), voiced()}}

	if err := eng.Stream(context.Background(), src, h.handle); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := h.texts(stt.Transcript)
	want := []string{"alpha", "beta", "alpha"}
	if len(got) != len(want) {
		t.Fatalf("finals = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("final %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEngine_FailStart(t *testing.T) {
	boom := errors.New("invalid credentials")
	eng := New(Options{FailStart: boom})
	h := &testHandler{}

	err := eng.Stream(context.Background(), &chunkReader{}, h.handle)
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if len(h.events) != 0 {
		t.Errorf("expected no events, got %d", len(h.events))
	}
}

func TestEngine_ContextCancelled(t *testing.T) {
	eng := New(Options{Latency: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Stream(ctx, &chunkReader{chunks: [][]byte{voiced()}}, func(stt.Event) {})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if len(utt.Partials) == 0 {
			t.Errorf("utterance %d has no partials", i)
		}
		if utt.Final == "" {
			t.Errorf("utterance %d has empty final", i)
		}
	}
}
