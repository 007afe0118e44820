package events

import "time"

type Kind string

type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

type Base struct {
	kind      Kind
	timestamp time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, timestamp: time.Now()}
}

func (b Base) Kind() Kind { return b.kind }

func (b Base) Timestamp() time.Time { return b.timestamp }

// Envelope is what handlers receive: the event together with the session it
// belongs to and its position in that session's stream, starting at 1.
type Envelope struct {
	SessionID string
	Sequence  uint64
	Event
}

type Handler func(Envelope)
