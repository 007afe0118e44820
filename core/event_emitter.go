package orchestration

import (
	"sync"

	"github.com/koscakluka/ema-island/core/events"
)

type callbacks struct {
	onEvent        events.Handler
	onStateChanged func(from, to SessionState)
	onText         func(text string)
	onError        func(err error)
}

// eventEmitter stamps events with the session and delivers them, in order,
// to the configured handler and the typed callbacks. Delivery happens on its
// own goroutine so a slow or re-entrant callback never holds up the session.
type eventEmitter struct {
	sessionID string
	callbacks callbacks

	mu       sync.Mutex
	sequence uint64
	queue    []events.Envelope
	closed   bool

	startOnce sync.Once
	wake      chan struct{}
	drained   chan struct{}
}

func newEventEmitter(sessionID string, cb callbacks) *eventEmitter {
	return &eventEmitter{
		sessionID: sessionID,
		callbacks: cb,
		wake:      make(chan struct{}, 1),
		drained:   make(chan struct{}),
	}
}

// emit queues event for delivery without blocking. Events emitted after
// close are dropped.
func (e *eventEmitter) emit(event events.Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.sequence++
	e.queue = append(e.queue, events.Envelope{SessionID: e.sessionID, Sequence: e.sequence, Event: event})
	e.mu.Unlock()

	e.signal()
}

// close stops accepting events. Drained is closed once everything queued
// before it was delivered.
func (e *eventEmitter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	e.signal()
}

func (e *eventEmitter) signal() {
	e.startOnce.Do(func() { go e.run() })
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *eventEmitter) run() {
	for {
		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		closed := e.closed
		e.mu.Unlock()

		for _, envelope := range batch {
			e.deliver(envelope)
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			close(e.drained)
			return
		}
		<-e.wake
	}
}

func (e *eventEmitter) deliver(envelope events.Envelope) {
	if e.callbacks.onEvent != nil {
		e.callbacks.onEvent(envelope)
	}

	switch typedEvent := envelope.Event.(type) {
	case events.SessionStateChanged:
		if e.callbacks.onStateChanged != nil {
			e.callbacks.onStateChanged(SessionState(typedEvent.From), SessionState(typedEvent.To))
		}
	case events.AssistantText:
		if e.callbacks.onText != nil {
			e.callbacks.onText(typedEvent.Text)
		}
	case events.UploadFailed:
		e.reportError(typedEvent.Err)
	case events.PlaybackEnded:
		e.reportError(typedEvent.Err)
	case events.SessionStopped:
		e.reportError(typedEvent.Err)
	}
}

func (e *eventEmitter) reportError(err error) {
	if err != nil && e.callbacks.onError != nil {
		e.callbacks.onError(err)
	}
}
