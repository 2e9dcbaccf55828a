package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/SANCHES-Pedro/bq-back/internal/service/audio"
	"github.com/SANCHES-Pedro/bq-back/internal/storage"
)

const (
	audioContentType      = "audio/wav"
	transcriptContentType = "text/plain; charset=utf-8"
)

var (
	// ErrAlreadyFinalized is returned by a second Finalize.
	ErrAlreadyFinalized = errors.New("session already finalized")
	// ErrPersistence wraps every sink failure during Finalize.
	ErrPersistence = errors.New("session persistence failed")
)

// TranscriptEntry is one transcript event, timestamped relative to session start.
type TranscriptEntry struct {
	Text    string
	Offset  time.Duration
	Partial bool
}

// Refs locates the persisted artifacts of a session.
type Refs struct {
	Audio      string
	Transcript string
}

// AudioKey returns the object key of a session's recording.
func AudioKey(sessionID string) string {
	return sessionID + "/audio.wav"
}

// TranscriptKey returns the object key of a session's transcript.
func TranscriptKey(sessionID string) string {
	return sessionID + "/transcript.txt"
}

// Recorder accumulates a session's audio and transcript and persists them
// once. The session loop adds audio while the recognition worker adds
// transcripts, so every method is safe for concurrent use.
type Recorder struct {
	sessionID string
	format    audio.Format
	createdAt time.Time
	now       func() time.Time

	mu         sync.Mutex
	chunks     [][]byte
	audioBytes int64
	entries    []TranscriptEntry
	lastOffset time.Duration
	finalized  bool
}

// NewRecorder creates a recorder for sessionID. A nil clock uses time.Now.
func NewRecorder(sessionID string, format audio.Format, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		sessionID: sessionID,
		format:    format,
		createdAt: now(),
		now:       now,
	}
}

// CreatedAt returns the session start used for transcript offsets.
func (r *Recorder) CreatedAt() time.Time {
	return r.createdAt
}

// AddAudioChunk appends a copy of chunk. No-op after Finalize.
func (r *Recorder) AddAudioChunk(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return
	}
	r.chunks = append(r.chunks, c)
	r.audioBytes += int64(len(c))
}

// AddTranscript records a transcript event at the current offset. Offsets
// never decrease. It returns false after Finalize.
func (r *Recorder) AddTranscript(text string, partial bool) (TranscriptEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized {
		return TranscriptEntry{}, false
	}

	offset := r.now().Sub(r.createdAt)
	if offset < r.lastOffset {
		offset = r.lastOffset
	}
	r.lastOffset = offset

	e := TranscriptEntry{Text: text, Offset: offset, Partial: partial}
	r.entries = append(r.entries, e)
	return e, true
}

// AudioBytes returns the number of audio bytes recorded.
func (r *Recorder) AudioBytes() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audioBytes
}

// Entries returns a copy of every recorded transcript entry.
func (r *Recorder) Entries() []TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TranscriptEntry(nil), r.entries...)
}

// FinalCount returns the number of final transcript entries.
func (r *Recorder) FinalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if !e.Partial {
			n++
		}
	}
	return n
}

// Transcript renders the final entries, one "[S.SSs] text" line each.
func (r *Recorder) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return renderTranscript(r.entries)
}

func renderTranscript(entries []TranscriptEntry) string {
	var b strings.Builder
	for _, e := range entries {
		if e.Partial {
			continue
		}
		fmt.Fprintf(&b, "[%.2fs] %s\n", e.Offset.Seconds(), e.Text)
	}
	return b.String()
}

// Finalize writes the recording as a WAV file and the final transcript as
// text to sink and releases the buffered audio. Both writes are attempted;
// any failure is returned wrapped in ErrPersistence. A second call returns
// ErrAlreadyFinalized.
func (r *Recorder) Finalize(ctx context.Context, sink storage.Sink) (Refs, error) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return Refs{}, ErrAlreadyFinalized
	}
	r.finalized = true
	chunks := r.chunks
	size := r.audioBytes
	transcript := renderTranscript(r.entries)
	r.chunks = nil
	r.mu.Unlock()

	pcm := make([]byte, 0, size)
	for _, c := range chunks {
		pcm = append(pcm, c...)
	}

	var refs Refs
	var errs []error

	wav, err := audio.EncodeWAV(r.format, pcm)
	if err != nil {
		errs = append(errs, fmt.Errorf("encode audio: %w", err))
	} else if refs.Audio, err = sink.Put(ctx, AudioKey(r.sessionID), wav, audioContentType); err != nil {
		errs = append(errs, fmt.Errorf("put audio: %w", err))
	}

	if refs.Transcript, err = sink.Put(ctx, TranscriptKey(r.sessionID), []byte(transcript), transcriptContentType); err != nil {
		errs = append(errs, fmt.Errorf("put transcript: %w", err))
	}

	if len(errs) > 0 {
		return refs, fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
	}
	return refs, nil
}
