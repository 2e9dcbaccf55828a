package app

import (
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/SANCHES-Pedro/bq-back/internal/config"
	"github.com/SANCHES-Pedro/bq-back/internal/service/stt/google"
)

func TestEngineFactory(t *testing.T) {
	for _, p := range []string{"speechmatics", "google", "mock"} {
		if f, err := EngineFactory(p); err != nil || f == nil {
			t.Errorf("EngineFactory(%q) = %v, %v", p, f, err)
		}
	}
	if _, err := EngineFactory("whisper"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestEngineConfig(t *testing.T) {
	c := config.Defaults().STT
	c.AuthToken = "tok"
	c.MaxDelay = 1.25

	got := EngineConfig(c)
	if got.URL != c.URL || got.AuthToken != "tok" || got.MaxDelay != 1.25 {
		t.Errorf("unexpected engine config %+v", got)
	}
	if got.SampleRateHz != 16000 || got.ChunkSizeBytes != 8192 || !got.EnablePartials {
		t.Errorf("defaults not carried over: %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("default engine config invalid: %v", err)
	}
}

func TestEngineConfig_GoogleFromEnv(t *testing.T) {
	for k, v := range map[string]string{
		"CONFIG_FILE":                    "",
		"ENV_FILE":                       filepath.Join(t.TempDir(), "missing.env"),
		"STT_PROVIDER":                   "google",
		"STT_URL":                        "",
		"STT_AUTH_TOKEN":                 "",
		"SPEECHMATICS_API_KEY":           "sm-key",
		"GOOGLE_ENDPOINT":                "",
		"GOOGLE_APPLICATION_CREDENTIALS": "",
	} {
		t.Setenv(k, v)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	gc := google.FromSTT(EngineConfig(cfg.STT))
	if gc.Endpoint != "" {
		t.Errorf("google endpoint = %q, want default", gc.Endpoint)
	}
	if gc.CredentialsFile != "" {
		t.Errorf("google credentials file = %q, want default", gc.CredentialsFile)
	}
}

func TestSessionOptions(t *testing.T) {
	d := config.Defaults()
	d.Session.DrainTimeout = 3 * time.Second
	d.STT.SampleRateHz = 8000

	opts := SessionOptions(d.Session, d.STT)
	if opts.DrainTimeout != 3*time.Second {
		t.Errorf("drain timeout = %v", opts.DrainTimeout)
	}
	if opts.Buffer.Format.SampleRate != 8000 || opts.Buffer.Format.Channels != 1 {
		t.Errorf("buffer format = %+v", opts.Buffer.Format)
	}
	if opts.Limits.MaxAudioBytes != d.Session.MaxAudioBytes || opts.Limits.MaxDuration != d.Session.MaxDuration || opts.Limits.MaxFrameBytes != 1<<20 {
		t.Errorf("limits = %+v", opts.Limits)
	}
	if opts.PollInterval != 20*time.Millisecond {
		t.Errorf("poll interval = %v", opts.PollInterval)
	}
}

func TestStartAndShutdown(t *testing.T) {
	cfg := config.Defaults()
	cfg.Service.HTTPPort = "0"
	cfg.Service.GRPCPort = "0"
	cfg.STT.Provider = "mock"
	cfg.Storage.BucketURL = "mem://"
	cfg.Observability.LogLevel = "warn"

	a := New(&cfg)
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	_, port, err := net.SplitHostPort(a.HTTPAddr())
	if err != nil {
		t.Fatalf("http addr %q: %v", a.HTTPAddr(), err)
	}
	resp, err := http.Get("http://127.0.0.1:" + port + "/v1/liveness")
	if err != nil {
		t.Fatalf("liveness: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("liveness = %d %q", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestStart_InvalidConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.STT.AuthToken = ""

	a := New(&cfg)
	if err := a.Start(context.Background()); err == nil {
		t.Error("expected Start to reject speechmatics without a token")
	}
}
