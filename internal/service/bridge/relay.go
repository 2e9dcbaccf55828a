package bridge

import "sync"

// EventKind classifies an event sent to the client.
type EventKind int

const (
	KindStatus EventKind = iota
	KindPartial
	KindFinal
	KindWarning
	KindError
	// KindFatal is an error that ends recognition for the session.
	KindFatal
)

// String returns the string representation of the kind.
func (k EventKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindPartial:
		return "partial"
	case KindFinal:
		return "final"
	case KindWarning:
		return "warning"
	case KindError:
		return "error"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var framePrefix = map[EventKind]string{
	KindStatus:  "STATUS: ",
	KindPartial: "PARTIAL: ",
	KindFinal:   "FINAL: ",
	KindWarning: "WARNING: ",
	KindError:   "ERROR: ",
	KindFatal:   "ERROR: ",
}

// OutboundEvent is a message for the client.
type OutboundEvent struct {
	Kind EventKind
	Text string
}

// Frame renders the event as a client text frame.
func (e OutboundEvent) Frame() string {
	prefix, ok := framePrefix[e.Kind]
	if !ok {
		prefix = "STATUS: "
	}
	return prefix + e.Text
}

// EventRelay is an ordered queue from the recognition worker to the session
// loop. Send never blocks; TryReceive never blocks.
type EventRelay struct {
	mu    sync.Mutex
	items []OutboundEvent
}

// NewEventRelay creates an empty relay.
func NewEventRelay() *EventRelay {
	return &EventRelay{}
}

// Send appends an event.
func (r *EventRelay) Send(ev OutboundEvent) {
	r.mu.Lock()
	r.items = append(r.items, ev)
	r.mu.Unlock()
}

// TryReceive removes and returns the oldest event, if any.
func (r *EventRelay) TryReceive() (OutboundEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == 0 {
		return OutboundEvent{}, false
	}
	ev := r.items[0]
	r.items[0] = OutboundEvent{}
	r.items = r.items[1:]
	return ev, true
}

// Len returns the number of queued events.
func (r *EventRelay) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
