// Package transport defines how captured segments reach the backend and how
// its answers come back.
//
// Two variants exist: request (one multipart POST per segment, see
// transport/request) and socket (a persistent websocket with bounded
// reconnects, see transport/socket). Both report everything inbound through
// the Events channel so the orchestrator handles them the same way.
package transport

import (
	"context"
	"time"

	"github.com/koscakluka/ema-island/core/audio"
)

type Channel interface {
	// Connect prepares the channel. Readiness is reported as EventOpened.
	Connect(ctx context.Context) error
	// Send hands a segment to the backend. It reports false when the segment
	// was dropped because the channel is not open; that is not an error.
	Send(ctx context.Context, segment audio.Segment) (bool, error)
	Events() <-chan Event
	Close() error
}

type EventKind string

const (
	EventOpened       EventKind = "opened"
	EventPayload      EventKind = "payload"
	EventReconnecting EventKind = "reconnecting"
	EventFailed       EventKind = "failed"
)

type Event struct {
	Kind    EventKind
	Payload Payload
	// Exchange is the exchange ID of the Send this payload answers, zero for
	// payloads the backend pushed on its own.
	Exchange uint64

	// Attempt and Delay describe a scheduled reconnect.
	Attempt int
	Delay   time.Duration

	Err error
}
