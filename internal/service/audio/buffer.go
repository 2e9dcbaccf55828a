package audio

import (
	"errors"
	"io"
	"sync"
	"time"
)

const (
	// DefaultPullTimeout is how long Pull waits for a chunk before it
	// synthesizes silence.
	DefaultPullTimeout = 2 * time.Second

	// SilenceDuration is the length of one synthesized silence chunk.
	SilenceDuration = 100 * time.Millisecond

	// DefaultMaxPendingBytes bounds the backlog: 30s of 16 kHz mono 16-bit audio.
	DefaultMaxPendingBytes = 30 * 32000
)

var (
	// ErrClosed is returned by Push after Close.
	ErrClosed = errors.New("relay buffer closed")
	// ErrOverflow is returned by Push when the backlog limit would be exceeded.
	ErrOverflow = errors.New("relay buffer backlog exceeded")
)

// BufferConfig configures a RelayBuffer.
type BufferConfig struct {
	Format          Format
	PullTimeout     time.Duration // wait before synthesizing silence
	MaxPendingBytes int           // 0 disables the bound
}

// DefaultBufferConfig returns the configuration the engine contract expects.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		Format:          DefaultFormat(),
		PullTimeout:     DefaultPullTimeout,
		MaxPendingBytes: DefaultMaxPendingBytes,
	}
}

// BufferStats holds counters for observability.
type BufferStats struct {
	ChunksPushed  int
	BytesPushed   int64
	SilenceChunks int
	Overflows     int
	PendingBytes  int
}

// RelayBuffer decouples bursty inbound audio from the blocking pull of a
// recognition engine.
//
// Push is called from the session loop, Pull (or Read) from the engine
// goroutine. Once closed, no chunk is accepted and no Pull blocks; bytes
// accepted before Close are still handed out in order, then every Pull
// returns empty.
type RelayBuffer struct {
	cfg     BufferConfig
	silence []byte

	mu        sync.Mutex
	queue     [][]byte
	remainder []byte
	pending   int
	closed    bool
	stats     BufferStats

	notify chan struct{} // capacity 1, signals a push
	done   chan struct{} // closed by Close
}

// NewRelayBuffer creates an open buffer. Zero fields in cfg take defaults.
func NewRelayBuffer(cfg BufferConfig) *RelayBuffer {
	def := DefaultBufferConfig()
	if cfg.Format == (Format{}) {
		cfg.Format = def.Format
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = def.PullTimeout
	}
	return &RelayBuffer{
		cfg:     cfg,
		silence: make([]byte, cfg.Format.BytesFor(SilenceDuration)),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Push queues a copy of chunk. It returns ErrClosed after Close and
// ErrOverflow when the backlog bound is reached; in both cases the chunk is
// not queued.
func (b *RelayBuffer) Push(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.cfg.MaxPendingBytes > 0 && b.pending+len(chunk) > b.cfg.MaxPendingBytes {
		b.stats.Overflows++
		b.mu.Unlock()
		return ErrOverflow
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)
	b.queue = append(b.queue, c)
	b.pending += len(c)
	b.stats.ChunksPushed++
	b.stats.BytesPushed += int64(len(c))
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// Pull returns up to maxBytes of audio. It blocks for at most the pull
// timeout; if nothing arrived and the buffer is still open it returns a
// chunk of zero-valued silence. After Close, and once every accepted byte
// has been handed out, it returns nil immediately.
func (b *RelayBuffer) Pull(maxBytes int) []byte {
	if maxBytes <= 0 {
		return nil
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		b.mu.Lock()
		if out, ok := b.takeLocked(maxBytes); ok {
			b.mu.Unlock()
			return out
		}
		if b.closed {
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(b.cfg.PullTimeout)
		}

		select {
		case <-b.notify:
		case <-b.done:
		case <-timer.C:
			b.mu.Lock()
			if out, ok := b.takeLocked(maxBytes); ok {
				b.mu.Unlock()
				return out
			}
			if b.closed {
				b.mu.Unlock()
				return nil
			}
			b.stats.SilenceChunks++
			b.mu.Unlock()

			n := min(len(b.silence), maxBytes)
			return make([]byte, n)
		}
	}
}

// takeLocked serves the remainder first, then the next queued chunk.
func (b *RelayBuffer) takeLocked(maxBytes int) ([]byte, bool) {
	if len(b.remainder) == 0 {
		if len(b.queue) == 0 {
			return nil, false
		}
		b.remainder = b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
	}

	n := min(len(b.remainder), maxBytes)
	out := b.remainder[:n:n]
	b.remainder = b.remainder[n:]
	if len(b.remainder) == 0 {
		b.remainder = nil
	}
	b.pending -= n
	return out, true
}

// Read implements io.Reader on top of Pull. It returns io.EOF once the
// buffer is closed and drained.
func (b *RelayBuffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	chunk := b.Pull(len(p))
	if len(chunk) == 0 {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}

// Close marks the buffer closed and wakes a pending Pull. Idempotent.
func (b *RelayBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
}

// Closed reports whether Close has been called.
func (b *RelayBuffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stats returns a snapshot of the buffer counters.
func (b *RelayBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.PendingBytes = b.pending
	return s
}

// Format returns the audio format the buffer synthesizes silence for.
func (b *RelayBuffer) Format() Format {
	return b.cfg.Format
}
