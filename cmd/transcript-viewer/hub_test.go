package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
		want    Event
	}{
		{
			name: "final",
			data: `{"eventType":"session.transcript.final","sessionId":"s1","offsetMs":500,"text":"hi","sequence":1}`,
			want: Event{EventType: "session.transcript.final", SessionID: "s1", OffsetMs: 500, Text: "hi", Sequence: 1},
		},
		{
			name: "finalized",
			data: `{"eventType":"session.finalized","sessionId":"s1","reason":"closed","finalCount":2,"audioBytes":64}`,
			want: Event{EventType: "session.finalized", SessionID: "s1", Reason: "closed", FinalCount: 2},
		},
		{name: "not json", data: `hello`, wantErr: true},
		{name: "missing session", data: `{"eventType":"session.finalized"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeEvent([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeEvent() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("decodeEvent() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("a longer sentence", 8); got != "a longer..." {
		t.Errorf("truncate long = %q", got)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := newHub()
	go hub.run()
	defer hub.stop()

	srv := httptest.NewServer(wsHandler(hub))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := Event{EventType: "session.transcript.final", SessionID: "s1", Text: "hello"}
	hub.broadcast <- want

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != want {
		t.Errorf("received %+v, want %+v", got, want)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.count() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
