package bridge

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/SANCHES-Pedro/bq-back/internal/service/stt/mock"
)

func newTestService(sink *memSink) *Service {
	return NewService(testDeps(factoryFor(mock.New(mock.Options{})), sink), testOptions())
}

func TestService_GeneratedSessionID(t *testing.T) {
	sink := newMemSink()
	svc := newTestService(sink)
	conn := newFakeConn()
	conn.hangUp()

	if err := svc.Serve(context.Background(), conn, ""); err != nil {
		t.Fatalf("Serve: %v", err)
	}

	frames := conn.frames()
	last := frames[len(frames)-1]
	re := regexp.MustCompile(`^SESSION_ENDED:(\d{8}_\d{6}_[0-9a-f]{8})$`)
	m := re.FindStringSubmatch(last)
	if m == nil {
		t.Fatalf("last frame %q does not carry a generated id", last)
	}
	if _, ok := sink.get(m[1] + "/audio.wav"); !ok {
		t.Errorf("no recording stored under generated id %s", m[1])
	}
	if svc.Active() != 0 {
		t.Errorf("active = %d after session ended", svc.Active())
	}
}

func TestService_RejectsInvalidID(t *testing.T) {
	svc := newTestService(newMemSink())
	conn := newFakeConn()

	err := svc.Serve(context.Background(), conn, "../etc")
	if !errors.Is(err, ErrInvalidSessionID) {
		t.Fatalf("error = %v, want ErrInvalidSessionID", err)
	}
	frames := conn.frames()
	if len(frames) != 1 || frames[0] != "ERROR: invalid session id" {
		t.Errorf("frames = %v", frames)
	}
	if !conn.isClosed() {
		t.Error("connection not closed")
	}
}

func TestService_RejectsDuplicateID(t *testing.T) {
	svc := newTestService(newMemSink())
	first := newFakeConn()

	done := make(chan error, 1)
	go func() { done <- svc.Serve(context.Background(), first, "dup") }()
	waitFor(t, "first session", func() bool { return svc.Active() == 1 })

	second := newFakeConn()
	if err := svc.Serve(context.Background(), second, "dup"); !errors.Is(err, ErrSessionActive) {
		t.Errorf("error = %v, want ErrSessionActive", err)
	}

	first.hangUp()
	if err := <-done; err != nil {
		t.Fatalf("first Serve: %v", err)
	}
}

func TestService_ShutdownClosesSessions(t *testing.T) {
	sink := newMemSink()
	svc := newTestService(sink)

	conns := []*fakeConn{newFakeConn(), newFakeConn()}
	done := make(chan error, len(conns))
	for i, c := range conns {
		id := []string{"a", "b"}[i]
		go func(c *fakeConn) { done <- svc.Serve(context.Background(), c, id) }(c)
	}
	waitFor(t, "sessions", func() bool { return svc.Active() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if svc.Accepting() {
		t.Error("service still accepting after Shutdown")
	}

	for range conns {
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
	}
	for _, id := range []string{"a", "b"} {
		if _, ok := sink.get(id + "/transcript.txt"); !ok {
			t.Errorf("session %s not finalized", id)
		}
	}

	late := newFakeConn()
	if err := svc.Serve(context.Background(), late, "c"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("error = %v, want ErrShuttingDown", err)
	}
}

func TestService_ShutdownTimeout(t *testing.T) {
	opts := testOptions()
	opts.DrainTimeout = time.Second
	svc := NewService(testDeps(factoryFor(stuckEngine), newMemSink()), opts)

	conn := newFakeConn()
	go func() { _ = svc.Serve(context.Background(), conn, "slow") }()
	waitFor(t, "session", func() bool { return svc.Active() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
