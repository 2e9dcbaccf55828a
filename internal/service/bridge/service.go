package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	// ErrShuttingDown is returned by Serve once Shutdown has begun.
	ErrShuttingDown = errors.New("bridge service is shutting down")
	// ErrSessionActive is returned by Serve when the session id is already in use.
	ErrSessionActive = errors.New("session already active")
	// ErrInvalidSessionID is returned by Serve for ids ValidSessionID rejects.
	ErrInvalidSessionID = errors.New("invalid session id")
)

// Service creates one Session per client connection and tracks the active
// ones so they can be drained on shutdown.
type Service struct {
	deps Deps
	opts Options
	ids  *IDGenerator

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
	wg       sync.WaitGroup
}

// NewService creates a bridge service.
func NewService(deps Deps, opts Options) *Service {
	return &Service{
		deps:     deps,
		opts:     opts,
		ids:      NewIDGenerator(),
		sessions: make(map[string]*Session),
	}
}

// NewSessionID returns a generated session id.
func (s *Service) NewSessionID() string {
	return s.ids.Next()
}

// Serve runs a session on conn until it is finalized. An empty id is
// replaced by a generated one. A rejected connection gets one ERROR frame
// and is closed.
func (s *Service) Serve(ctx context.Context, conn Conn, sessionID string) error {
	if sessionID == "" {
		sessionID = s.ids.Next()
	}
	if !ValidSessionID(sessionID) {
		reject(conn, "invalid session id")
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	sess, err := s.register(sessionID, conn)
	if err != nil {
		reject(conn, err.Error())
		return err
	}
	defer s.unregister(sess)

	return sess.Run(ctx)
}

func (s *Service) register(id string, conn Conn) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return nil, ErrShuttingDown
	}
	if _, ok := s.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, id)
	}
	sess := NewSession(id, conn, s.deps, s.opts)
	s.sessions[id] = sess
	s.wg.Add(1)
	return sess, nil
}

func (s *Service) unregister(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID())
	s.mu.Unlock()
	s.wg.Done()
}

// Active returns the number of sessions not yet finalized.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Accepting reports whether Serve still takes new sessions.
func (s *Service) Accepting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closing
}

// Session returns the active session with id.
func (s *Service) Session(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Shutdown stops accepting sessions, asks every active session to close and
// waits for them to be finalized or for ctx to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	active := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		active = append(active, sess)
	}
	s.mu.Unlock()

	log.Info().Int("sessions", len(active)).Msg("Closing active sessions")
	for _, sess := range active {
		sess.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sessions: %w", ctx.Err())
	}
}

func reject(conn Conn, reason string) {
	_ = conn.WriteMessage(websocket.TextMessage, []byte(OutboundEvent{Kind: KindError, Text: reason}.Frame()))
	_ = conn.Close()
}
