// Package bridge relays live client audio into a recognition engine,
// streams transcripts back to the client and persists each session exactly
// once, whatever way it ends.
package bridge

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the lifecycle state of a session.
type State int

const (
	// StateOpen - audio is accepted and relayed to the engine.
	StateOpen State = iota
	// StateDraining - no more audio is accepted; waiting for the engine to finish.
	StateDraining
	// StateFinalized - the session has been persisted. Terminal.
	StateFinalized
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateDraining:
		return "DRAINING"
	case StateFinalized:
		return "FINALIZED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal.
func (s State) IsTerminal() bool {
	return s == StateFinalized
}

// DrainReason records why a session left the open state.
type DrainReason string

const (
	ReasonConnectionLost  DrainReason = "connection_lost"
	ReasonEngineFatal     DrainReason = "engine_fatal"
	ReasonEngineCompleted DrainReason = "engine_completed"
	ReasonClosed          DrainReason = "closed"
	ReasonShutdown        DrainReason = "shutdown"
	ReasonLimitExceeded   DrainReason = "limit_exceeded"
)

// ErrInvalidTransition is returned for a transition the state machine does not allow.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Lifecycle manages the state machine for a single session.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	OPEN ──BeginDrain(reason)──→ DRAINING ──Finalize()──→ FINALIZED
//
// Each transition happens exactly once; repeating one returns ErrInvalidTransition.
type Lifecycle struct {
	mu        sync.RWMutex
	sessionID string
	state     State
	reason    DrainReason
}

// NewLifecycle creates a new session lifecycle in OPEN state.
func NewLifecycle(sessionID string) *Lifecycle {
	return &Lifecycle{
		sessionID: sessionID,
		state:     StateOpen,
	}
}

// SessionID returns the session ID.
func (l *Lifecycle) SessionID() string {
	return l.sessionID
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Reason returns the drain reason, empty while open.
func (l *Lifecycle) Reason() DrainReason {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reason
}

// IsOpen returns true while audio is accepted.
func (l *Lifecycle) IsOpen() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateOpen
}

// BeginDrain transitions OPEN → DRAINING.
func (l *Lifecycle) BeginDrain(reason DrainReason) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateOpen {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, StateDraining)
	}
	l.state = StateDraining
	l.reason = reason
	return nil
}

// Finalize transitions DRAINING → FINALIZED.
func (l *Lifecycle) Finalize() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != StateDraining {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, l.state, StateFinalized)
	}
	l.state = StateFinalized
	return nil
}
