package http

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocloud.dev/blob/memblob"

	"github.com/SANCHES-Pedro/bq-back/internal/events"
	"github.com/SANCHES-Pedro/bq-back/internal/service/bridge"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt/mock"
	"github.com/SANCHES-Pedro/bq-back/internal/storage"
)

func newTestService(t *testing.T) *bridge.Service {
	t.Helper()
	svc, _ := newTestServiceWithSink(t)
	return svc
}

func newTestServiceWithSink(t *testing.T, tune ...func(*bridge.Options)) (*bridge.Service, *storage.BlobSink) {
	t.Helper()
	sink := storage.NewBlobSink(memblob.OpenBucket(nil), "mem://")
	t.Cleanup(func() { _ = sink.Close() })

	factory := func(context.Context, stt.Config) (stt.Engine, error) {
		return mock.New(mock.Options{Utterances: []mock.SimulatedUtterance{
			{Final: "alpha"}, {Final: "beta"}, {Final: "gamma"},
		}}), nil
	}
	opts := bridge.DefaultOptions()
	opts.Buffer.PullTimeout = 50 * time.Millisecond
	for _, f := range tune {
		f(&opts)
	}

	svc := bridge.NewService(bridge.Deps{
		Provider:     "mock",
		Factory:      factory,
		EngineConfig: stt.DefaultConfig(),
		Sink:         sink,
		Publisher:    events.New(&events.Config{Enabled: false}),
	}, opts)
	return svc, sink
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	return websocket.DefaultDialer.Dial(url, nil)
}

// readUntilEnded collects text frames until SESSION_ENDED or a read error.
func readUntilEnded(t *testing.T, conn *websocket.Conn) []string {
	t.Helper()
	var frames []string
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return frames
		}
		if mt != websocket.TextMessage {
			continue
		}
		frames = append(frames, string(data))
		if strings.HasPrefix(string(data), bridge.SessionEndedPrefix) {
			return frames
		}
	}
}

func withPrefix(frames []string, prefix string) []string {
	var out []string
	for _, f := range frames {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	return out
}

func TestWebSocket_EndToEnd(t *testing.T) {
	svc, sink := newTestServiceWithSink(t)
	srv := httptest.NewServer(NewRouter(Deps{Sessions: svc}))
	defer srv.Close()

	conn, _, err := dial(t, srv, "?session_id=visit-7")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < 3; i++ {
		if err := conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{9}, 64)); err != nil {
			t.Fatalf("send audio: %v", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("stop")); err != nil {
		t.Fatalf("send stop: %v", err)
	}

	frames := readUntilEnded(t, conn)
	if len(frames) == 0 || frames[0] != bridge.Greeting {
		t.Fatalf("frames = %v, want greeting first", frames)
	}
	if last := frames[len(frames)-1]; last != "SESSION_ENDED:visit-7" {
		t.Errorf("last frame = %q", last)
	}
	finals := withPrefix(frames, "FINAL: ")
	want := []string{"FINAL: alpha", "FINAL: beta", "FINAL: gamma"}
	if strings.Join(finals, "|") != strings.Join(want, "|") {
		t.Errorf("finals = %v, want %v", finals, want)
	}
	if errs := withPrefix(frames, "ERROR: "); len(errs) != 0 {
		t.Errorf("unexpected errors %v", errs)
	}

	wav, err := sink.Get(context.Background(), "visit-7/audio.wav")
	if err != nil {
		t.Fatalf("audio not persisted: %v", err)
	}
	if len(wav) != 44+3*64 {
		t.Errorf("audio = %d bytes, want %d", len(wav), 44+3*64)
	}
	transcript, err := sink.Get(context.Background(), "visit-7/transcript.txt")
	if err != nil {
		t.Fatalf("transcript not persisted: %v", err)
	}
	if got := strings.Count(string(transcript), "\n"); got != 3 {
		t.Errorf("transcript has %d lines, want 3: %q", got, transcript)
	}
}

func TestWebSocket_GeneratedSessionID(t *testing.T) {
	svc := newTestService(t)
	srv := httptest.NewServer(NewRouter(Deps{Sessions: svc}))
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("STOP")); err != nil {
		t.Fatal(err)
	}

	frames := readUntilEnded(t, conn)
	if len(frames) == 0 {
		t.Fatal("no frames received")
	}
	last := frames[len(frames)-1]
	id := strings.TrimPrefix(last, bridge.SessionEndedPrefix)
	if id == last || !bridge.ValidSessionID(id) {
		t.Fatalf("last frame = %q, want SESSION_ENDED with a generated id", last)
	}
	if len(id) != len("20060102_150405_")+8 {
		t.Errorf("generated id %q has unexpected shape", id)
	}
}

func TestWebSocket_InvalidSessionID(t *testing.T) {
	srv := httptest.NewServer(NewRouter(Deps{Sessions: newTestService(t)}))
	defer srv.Close()

	_, resp, err := dial(t, srv, "?session_id=../etc")
	if err == nil {
		t.Fatal("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("response = %v, want 400", resp)
	}
}

func TestWebSocket_RefusedDuringShutdown(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(Deps{Sessions: svc}))
	defer srv.Close()

	_, resp, err := dial(t, srv, "?session_id=late")
	if err == nil {
		t.Fatal("expected the upgrade to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("response = %v, want 503", resp)
	}
}

func TestWebSocket_FrameLimit(t *testing.T) {
	svc, sink := newTestServiceWithSink(t, func(o *bridge.Options) {
		o.Limits.MaxAudioBytes = 1024
		o.Limits.MaxFrameBytes = 1024
	})
	srv := httptest.NewServer(NewRouter(Deps{Sessions: svc}))
	defer srv.Close()

	conn, _, err := dial(t, srv, "?session_id=big")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{9}, 16*1024)); err != nil {
		t.Fatalf("send audio: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var closeErr *websocket.CloseError
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		if !errors.As(err, &closeErr) {
			t.Fatalf("read error = %v, want close frame", err)
		}
		break
	}
	if closeErr.Code != websocket.CloseMessageTooBig {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.CloseMessageTooBig)
	}

	deadline := time.Now().Add(5 * time.Second)
	for svc.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session was not finalized")
		}
		time.Sleep(10 * time.Millisecond)
	}
	wav, err := sink.Get(context.Background(), "big/audio.wav")
	if err != nil {
		t.Fatalf("audio not persisted: %v", err)
	}
	if len(wav) != 44 {
		t.Errorf("audio = %d bytes, want an empty 44-byte WAV", len(wav))
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWebSocket_LogsGeneratedSessionID(t *testing.T) {
	var out syncBuffer
	prev := log.Logger
	log.Logger = zerolog.New(&out)
	t.Cleanup(func() { log.Logger = prev })

	srv := httptest.NewServer(NewRouter(Deps{Sessions: newTestService(t)}))
	defer srv.Close()

	conn, _, err := dial(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte("STOP")); err != nil {
		t.Fatal(err)
	}

	frames := readUntilEnded(t, conn)
	if len(frames) == 0 {
		t.Fatal("no frames received")
	}
	id := strings.TrimPrefix(frames[len(frames)-1], bridge.SessionEndedPrefix)

	var accepted string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, "WebSocket connection accepted") {
			accepted = line
		}
	}
	if !strings.Contains(accepted, `"sessionId":"`+id+`"`) {
		t.Errorf("accepted log line = %q, want sessionId %q", accepted, id)
	}
}
