package bridge

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type clientFrame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Closing in simulates the client hanging up.
type fakeConn struct {
	in chan clientFrame

	mu          sync.Mutex
	text        []string
	closeFrames int
	failWrites  bool
	readLimit   int64

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan clientFrame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.in:
		if !ok {
			return 0, nil, &websocket.CloseError{Code: websocket.CloseNormalClosure}
		}
		c.mu.Lock()
		limit := c.readLimit
		c.mu.Unlock()
		if limit > 0 && int64(len(f.data)) > limit {
			return 0, nil, websocket.ErrReadLimit
		}
		return f.messageType, f.data, nil
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	if c.failWrites {
		return errors.New("broken pipe")
	}
	switch messageType {
	case websocket.TextMessage:
		c.text = append(c.text, string(data))
	case websocket.CloseMessage:
		c.closeFrames++
	}
	return nil
}

func (c *fakeConn) SetReadLimit(limit int64) {
	c.mu.Lock()
	c.readLimit = limit
	c.mu.Unlock()
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sendAudio(chunk []byte) {
	c.in <- clientFrame{messageType: websocket.BinaryMessage, data: chunk}
}

func (c *fakeConn) sendText(text string) {
	c.in <- clientFrame{messageType: websocket.TextMessage, data: []byte(text)}
}

func (c *fakeConn) hangUp() {
	close(c.in)
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// framesWithPrefix returns the frames starting with prefix, in order.
func framesWithPrefix(frames []string, prefix string) []string {
	var out []string
	for _, f := range frames {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
