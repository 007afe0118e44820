// Package orchestration runs a voice or video chat session: it captures the
// user, sends each segment to the backend, plays the answer and listens
// again.
//
// All session state is owned by a single goroutine. Capture, transport and
// playback report back as messages tagged with the cycle they belong to, so
// results that arrive after a newer cycle started, or after Stop, are
// discarded. Events are delivered to callbacks on a separate goroutine, in
// the order they happened.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/capture"
	"github.com/koscakluka/ema-island/core/events"
	"github.com/koscakluka/ema-island/core/playback"
	"github.com/koscakluka/ema-island/core/silence"
	"github.com/koscakluka/ema-island/core/transport"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNoTransport    = errors.New("no transport configured")
)

const messageBufferSize = 8

type Orchestrator struct {
	id              string
	channel         transport.Channel
	device          capture.Device
	policy          capture.Policy
	detector        *silence.Detector
	activity        SpeechActivityProvider
	player          playback.Player
	debounce        time.Duration
	responseTimeout time.Duration
	callbacks       callbacks

	// Owned by the session goroutine once Start returns.
	emitter      *eventEmitter
	session      *capture.Session
	segments     <-chan audio.Segment
	transportEvs <-chan transport.Event
	playback     *playback.Controller
	cycle        uint64
	sentAt       time.Time
	reconnecting bool
	timer        *time.Timer
	// cancelSend aborts the upload of the current cycle.
	cancelSend context.CancelFunc
	// lateAnswer is set when a response timed out on a channel whose
	// answers are not tagged with their exchange; the next answer is
	// the stale one.
	lateAnswer bool

	ctx      context.Context
	cancel   context.CancelFunc
	messages chan message

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	released chan struct{}
	done     chan struct{}

	mu    sync.RWMutex
	state SessionState
	err   error
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		id:       uuid.NewString(),
		policy:   capture.IntervalPolicy{},
		debounce: DefaultDebounce,
		state:    StateIdle,
		messages: make(chan message, messageBufferSize),
		stopCh:   make(chan struct{}),
		released: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.emitter = newEventEmitter(o.id, o.callbacks)
	o.playback = playback.NewController(o.player)
	return o
}

func (o *Orchestrator) SessionID() string { return o.id }

func (o *Orchestrator) State() SessionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Err is the error that ended the session, nil after an explicit Stop.
func (o *Orchestrator) Err() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.err
}

// Done is closed once the session is stopped, every resource released and
// every event delivered.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// Start acquires the microphone and the transport and begins capturing. A
// failure leaves the session stopped and is returned; device failures are
// *capture.DeviceError and are not retried.
//
// ctx bounds the whole session. Start may be called once.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, span := tracer.Start(ctx, "start session", trace.WithAttributes(attribute.String("session.id", o.id)))
	defer span.End()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.shutdown(err)
		return err
	}

	o.ctx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		select {
		case <-ctx.Done():
			o.requestStop()
		case <-o.released:
		}
	}()

	var captureOpts []capture.Option
	if o.activity != nil {
		captureOpts = append(captureOpts, capture.WithFrameSink(func(frame []byte) {
			if err := o.activity.SendAudio(frame); err != nil {
				logger.Debug("failed to forward audio to activity provider", "error", err)
			}
		}))
	}
	// Created up front so that a failure below still releases the device.
	o.session = capture.NewSession(o.device, o.policy, captureOpts...)

	if o.channel == nil {
		return fail(ErrNoTransport)
	}

	if o.activity != nil {
		var onActivity func(silence.Activity)
		var onListening func(bool)
		if o.detector != nil {
			onActivity = o.detector.Observe
			onListening = o.detector.SetListening
		}
		if err := o.activity.Start(o.ctx, onActivity, onListening); err != nil {
			return fail(fmt.Errorf("failed to start speech activity provider: %w", err))
		}
	}

	o.transportEvs = o.channel.Events()
	if err := o.channel.Connect(o.ctx); err != nil {
		return fail(&transport.ConnectivityError{Err: err})
	}

	segments, err := o.session.Start(o.ctx)
	if err != nil {
		logger.Error("failed to acquire capture device", "session_id", o.id, "error", err)
		return fail(err)
	}
	o.segments = segments

	o.transition(StateCapturing)
	if o.detector != nil {
		go o.detector.Run(o.ctx)
		o.detector.Arm(time.Now())
	}

	go o.run()
	return nil
}

// Stop ends the session and blocks until capture, playback and transport
// are released. It is safe to call from any goroutine, including event
// callbacks, and more than once.
func (o *Orchestrator) Stop() {
	if o.started.CompareAndSwap(false, true) {
		o.shutdown(nil)
		return
	}

	o.requestStop()
	<-o.released
}

func (o *Orchestrator) requestStop() {
	o.stopOnce.Do(func() { close(o.stopCh) })
}

type message interface{ isMessage() }

type sendResult struct {
	cycle uint64
	bytes int
	sent  bool
	err   error
}

type playbackDone struct {
	cycle uint64
	err   error
}

type resumeDue struct{ cycle uint64 }

type responseTimedOut struct{ cycle uint64 }

func (sendResult) isMessage()       {}
func (playbackDone) isMessage()     {}
func (resumeDue) isMessage()        {}
func (responseTimedOut) isMessage() {}

// post hands a message to the session goroutine. Messages posted after the
// session ended are dropped.
func (o *Orchestrator) post(msg message) {
	select {
	case o.messages <- msg:
	case <-o.released:
	}
}

func (o *Orchestrator) run() {
	for {
		select {
		case <-o.stopCh:
			o.shutdown(nil)
			return

		case segment, ok := <-o.segments:
			if !ok {
				o.segments = nil
				continue
			}
			o.onSegment(segment)

		case event, ok := <-o.transportEvs:
			if !ok {
				o.transportEvs = nil
				continue
			}
			o.onTransportEvent(event)

		case msg := <-o.messages:
			switch msg := msg.(type) {
			case sendResult:
				o.onSendResult(msg)
			case playbackDone:
				o.onPlaybackDone(msg)
			case resumeDue:
				if msg.cycle == o.cycle {
					o.resumeCapture()
				}
			case responseTimedOut:
				if msg.cycle == o.cycle && o.State() == StateAwaitingResponse {
					logger.Warn("no response in time, listening again", "session_id", o.id, "timeout", o.responseTimeout)
					o.lateAnswer = true
					o.resumeCapture()
				}
			}
		}

		if o.State() == StateStopped {
			return
		}
	}
}

func (o *Orchestrator) onSegment(segment audio.Segment) {
	if o.State() != StateCapturing {
		return
	}
	o.emit(events.NewSegmentCaptured(len(segment.Data), segment.Duration()))

	if segment.IsEmpty() {
		// Nothing was said; listen for the next utterance without sending.
		if o.detector != nil {
			o.detector.Arm(time.Now())
		}
		return
	}

	o.pauseCapture()
	if !o.transition(StateAwaitingResponse) {
		return
	}

	cycle := o.nextCycle()
	o.sentAt = time.Now()
	sendCtx, cancel := context.WithCancel(transport.WithExchange(o.ctx, cycle))
	o.cancelSend = cancel
	go func() {
		defer cancel()
		ctx, span := tracer.Start(sendCtx, "send segment",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("session.id", o.id),
				attribute.Int("segment.bytes", len(segment.Data)),
			))
		defer span.End()

		sent, err := o.channel.Send(ctx, segment)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if sent {
			segmentsSent.Add(ctx, 1)
		}
		o.post(sendResult{cycle: cycle, bytes: len(segment.Data), sent: sent, err: err})
	}()
}

func (o *Orchestrator) onSendResult(result sendResult) {
	if result.cycle != o.cycle || o.State() != StateAwaitingResponse {
		return
	}

	switch {
	case result.err != nil:
		var uploadErr *transport.UploadError
		if !errors.As(result.err, &uploadErr) {
			result.err = &transport.UploadError{Err: result.err}
		}
		logger.Warn("failed to send segment, listening again", "session_id", o.id, "error", result.err)
		o.emit(events.NewUploadFailed(result.err))
		o.resumeCapture()

	case !result.sent:
		o.emit(events.NewSegmentDropped(result.bytes))
		o.resumeCapture()

	default:
		o.emit(events.NewSegmentSent(result.bytes))
		if o.responseTimeout > 0 {
			o.schedule(o.responseTimeout, responseTimedOut{cycle: o.cycle})
		}
	}
}

func (o *Orchestrator) onTransportEvent(event transport.Event) {
	switch event.Kind {
	case transport.EventOpened:
		o.emit(events.NewChannelOpened())
		wasReconnecting := o.reconnecting
		o.reconnecting = false
		if wasReconnecting && o.State() == StateReconnecting {
			o.resumeCapture()
		}

	case transport.EventReconnecting:
		o.reconnecting = true
		// Answers of the lost connection will not arrive.
		o.lateAnswer = false
		o.emit(events.NewReconnecting(event.Attempt, event.Delay))
		switch o.State() {
		case StateCapturing, StateAwaitingResponse:
			o.pauseCapture()
			o.nextCycle()
			o.transition(StateReconnecting)
		}

	case transport.EventFailed:
		err := event.Err
		var connErr *transport.ConnectivityError
		if !errors.As(err, &connErr) {
			err = &transport.ConnectivityError{Err: err}
		}
		logger.Error("transport gave up", "session_id", o.id, "error", err)
		o.shutdown(err)

	case transport.EventPayload:
		o.onPayload(event.Payload, event.Exchange)
	}
}

func (o *Orchestrator) onPayload(payload transport.Payload, exchange uint64) {
	state := o.State()
	if state != StateAwaitingResponse && state != StateCapturing {
		logger.Debug("ignoring payload outside of a response cycle", "session_id", o.id, "state", state, "payload", payload.String())
		return
	}

	switch {
	case exchange != 0:
		if exchange != o.cycle || state != StateAwaitingResponse {
			logger.Debug("discarding answer to an earlier segment", "session_id", o.id, "payload", payload.String())
			o.emit(events.NewPayloadDiscarded(string(payload.Kind)))
			return
		}
	case o.lateAnswer:
		o.lateAnswer = false
		logger.Debug("discarding answer that arrived after its timeout", "session_id", o.id, "payload", payload.String())
		o.emit(events.NewPayloadDiscarded(string(payload.Kind)))
		return
	}

	var latency time.Duration
	if state == StateAwaitingResponse {
		latency = time.Since(o.sentAt)
		responseLatency.Record(o.ctx, float64(latency.Milliseconds()),
			metric.WithAttributes(attribute.String("payload.kind", string(payload.Kind))))
	}
	o.emit(events.NewPayloadReceived(string(payload.Kind), latency))

	switch {
	case payload.IsMedia():
		o.startPlayback(payload)

	case payload.Kind == transport.PayloadText:
		o.emit(events.NewAssistantText(payload.Text))
		o.listenAgain(state)

	case payload.Kind == transport.PayloadError:
		logger.Warn("backend reported an error", "session_id", o.id, "message", payload.Text)
		o.emit(events.NewAssistantErrorMessage(payload.Text))
		o.listenAgain(state)

	default:
		o.listenAgain(state)
	}
}

// listenAgain resumes capture after a response that needs no playback.
// Unsolicited payloads during capture leave it running.
func (o *Orchestrator) listenAgain(state SessionState) {
	if state == StateAwaitingResponse {
		o.resumeCapture()
	}
}

func (o *Orchestrator) startPlayback(payload transport.Payload) {
	o.pauseCapture()
	if !o.transition(StatePlaying) {
		return
	}

	cycle := o.nextCycle()
	err := o.playback.Play(o.ctx, payload, func(err error) {
		o.post(playbackDone{cycle: cycle, err: err})
	})
	if err != nil {
		o.emit(events.NewPlaybackEnded(err))
		o.schedule(o.debounce, resumeDue{cycle: cycle})
		return
	}
	o.emit(events.NewPlaybackStarted(string(payload.Kind)))
}

func (o *Orchestrator) onPlaybackDone(done playbackDone) {
	if done.cycle != o.cycle || o.State() != StatePlaying {
		return
	}
	o.emit(events.NewPlaybackEnded(done.err))
	o.schedule(o.debounce, resumeDue{cycle: o.cycle})
}

// resumeCapture goes back to listening, or waits for the transport if it is
// reconnecting.
func (o *Orchestrator) resumeCapture() {
	o.nextCycle()

	if o.reconnecting {
		o.transition(StateReconnecting)
		return
	}

	if err := o.session.Resume(); err != nil {
		logger.Error("failed to resume capture", "session_id", o.id, "error", err)
		o.shutdown(err)
		return
	}
	if !o.transition(StateCapturing) {
		return
	}
	if o.detector != nil {
		o.detector.Arm(time.Now())
	}
}

func (o *Orchestrator) pauseCapture() {
	if o.detector != nil {
		o.detector.Disarm()
	}
	if err := o.session.Pause(); err != nil {
		logger.Warn("failed to pause capture", "session_id", o.id, "error", err)
	}
}

// nextCycle starts a new cycle, invalidating pending results and timers of
// the previous one.
func (o *Orchestrator) nextCycle() uint64 {
	o.cycle++
	if o.cancelSend != nil {
		o.cancelSend()
		o.cancelSend = nil
	}
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	return o.cycle
}

func (o *Orchestrator) schedule(delay time.Duration, msg message) {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(delay, func() { o.post(msg) })
}

func (o *Orchestrator) transition(to SessionState) bool {
	o.mu.Lock()
	from := o.state
	if from == to {
		o.mu.Unlock()
		return true
	}
	if !from.canTransition(to) {
		o.mu.Unlock()
		logger.Warn("ignoring invalid state transition", "session_id", o.id, "from", from, "to", to)
		return false
	}
	o.state = to
	o.mu.Unlock()

	logger.Debug("session state changed", "session_id", o.id, "from", from, "to", to)
	o.emit(events.NewSessionStateChanged(string(from), string(to)))
	return true
}

func (o *Orchestrator) emit(event events.Event) {
	o.emitter.emit(event)
}

// shutdown releases everything exactly once and moves to Stopped. err is
// the reason, nil for an explicit stop.
func (o *Orchestrator) shutdown(err error) {
	if o.State() == StateStopped {
		return
	}

	o.nextCycle()
	o.playback.Stop()
	if o.session != nil {
		o.session.Stop()
	}
	if o.activity != nil {
		if closeErr := o.activity.Close(); closeErr != nil {
			logger.Warn("failed to close activity provider", "session_id", o.id, "error", closeErr)
		}
	}
	if o.channel != nil {
		if closeErr := o.channel.Close(); closeErr != nil {
			logger.Warn("failed to close transport", "session_id", o.id, "error", closeErr)
		}
	}
	if o.cancel != nil {
		o.cancel()
	}

	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
	o.transition(StateStopped)
	o.emit(events.NewSessionStopped(err))

	close(o.released)
	o.requestStop()
	o.emitter.close()
	go func() {
		<-o.emitter.drained
		close(o.done)
	}()
}
