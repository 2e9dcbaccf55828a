// Package google provides a Google Cloud Speech-to-Text streaming engine.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
)

// Config holds Google-specific recognition settings.
type Config struct {
	LanguageCode    string
	SampleRateHz    int
	InterimResults  bool
	AudioEncoding   string
	ChunkSizeBytes  int
	Endpoint        string // optional, overrides the default API endpoint
	CredentialsFile string // optional, falls back to GOOGLE_APPLICATION_CREDENTIALS
}

// DefaultConfig returns defaults for the bridge's 16 kHz LINEAR16 stream.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
		ChunkSizeBytes: 8192,
	}
}

// FromSTT maps the shared engine settings onto a Google config. The URL is
// used as the API endpoint and the auth token as a credentials file path.
func FromSTT(c stt.Config) Config {
	cfg := DefaultConfig()
	if c.LanguageCode != "" {
		cfg.LanguageCode = c.LanguageCode
	}
	if c.SampleRateHz > 0 {
		cfg.SampleRateHz = c.SampleRateHz
	}
	if c.ChunkSizeBytes > 0 {
		cfg.ChunkSizeBytes = c.ChunkSizeBytes
	}
	cfg.InterimResults = c.EnablePartials
	cfg.Endpoint = c.URL
	cfg.CredentialsFile = c.AuthToken
	return cfg
}

// parseAudioEncoding converts a string encoding name to the Google Speech API enum.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// Engine implements stt.Engine using Google Cloud Speech-to-Text.
type Engine struct {
	cfg Config
}

// New creates a Google engine. Credentials are resolved when Stream dials.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// NewEngine is an stt.EngineFactory for Google.
func NewEngine(_ context.Context, cfg stt.Config) (stt.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(FromSTT(cfg)), nil
}

func (e *Engine) clientOptions() []option.ClientOption {
	var opts []option.ClientOption
	if e.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(e.cfg.Endpoint))
	}
	if e.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(e.cfg.CredentialsFile))
	}
	return opts
}

func (e *Engine) streamingConfig() *speechpb.StreamingRecognizeRequest {
	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(e.cfg.AudioEncoding),
					SampleRateHertz: int32(e.cfg.SampleRateHz),
					LanguageCode:    e.cfg.LanguageCode,
				},
				InterimResults: e.cfg.InterimResults,
			},
		},
	}
}

// recognizeStream is the part of the streaming RPC the pumps use.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// Stream implements stt.Engine.
func (e *Engine) Stream(ctx context.Context, src io.Reader, h stt.Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client, err := speech.NewClient(ctx, e.clientOptions()...)
	if err != nil {
		return fmt.Errorf("google: create client: %w", err)
	}
	defer client.Close()

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("google: open stream: %w", err)
	}
	if err := stream.Send(e.streamingConfig()); err != nil {
		return fmt.Errorf("google: send config: %w", err)
	}
	h(stt.Event{Kind: stt.RecognitionStarted, Type: "StreamingConfig"})

	return e.pump(ctx, stream, src, h)
}

type chunk struct {
	data []byte
	err  error
}

// pump sends audio from src and dispatches responses until the stream ends.
// A receive failure returns immediately, without waiting for a pending read.
func (e *Engine) pump(ctx context.Context, stream recognizeStream, src io.Reader, h stt.Handler) error {
	g, gctx := errgroup.WithContext(ctx)

	reads := make(chan chunk)
	go func() {
		buf := make([]byte, e.cfg.ChunkSizeBytes)
		for {
			n, err := src.Read(buf)
			select {
			case reads <- chunk{data: append([]byte(nil), buf[:n]...), err: err}:
			case <-gctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	g.Go(func() error {
		for {
			var c chunk
			select {
			case <-gctx.Done():
				return gctx.Err()
			case c = <-reads:
			}
			if len(c.data) > 0 {
				req := &speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: c.data,
					},
				}
				if err := stream.Send(req); err != nil {
					return fmt.Errorf("google: send audio: %w", err)
				}
			}
			if errors.Is(c.err, io.EOF) {
				return stream.CloseSend()
			}
			if c.err != nil {
				return fmt.Errorf("google: read audio: %w", c.err)
			}
		}
	})

	g.Go(func() error {
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				h(stt.Event{Kind: stt.EndOfTranscript, Type: "EOF"})
				return nil
			}
			if err != nil {
				return fmt.Errorf("google: receive: %w", err)
			}
			if st := resp.GetError(); st != nil {
				h(stt.Event{Kind: stt.Error, Reason: st.GetMessage(), Type: fmt.Sprintf("code_%d", st.GetCode())})
				continue
			}
			dispatchResults(resp.GetResults(), h)
		}
	})

	return g.Wait()
}

// dispatchResults emits the top alternative of every result.
func dispatchResults(results []*speechpb.StreamingRecognitionResult, h stt.Handler) {
	for _, r := range results {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		alt := r.GetAlternatives()[0]
		if r.GetIsFinal() {
			h(stt.Event{Kind: stt.Transcript, Text: alt.GetTranscript(), Type: "StreamingRecognitionResult"})
		} else {
			h(stt.Event{Kind: stt.PartialTranscript, Text: alt.GetTranscript(), Type: "StreamingRecognitionResult"})
		}
	}
}
