package orchestration

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/capture"
	"github.com/koscakluka/ema-island/core/events"
	"github.com/koscakluka/ema-island/core/playback"
	"github.com/koscakluka/ema-island/core/silence"
	"github.com/koscakluka/ema-island/core/transport"
	"github.com/koscakluka/ema-island/core/transport/request"
	"github.com/koscakluka/ema-island/core/transport/socket"
)

type fakeDevice struct {
	startErr error

	mu      sync.Mutex
	onAudio func([]byte)

	starts atomic.Int32
	closes atomic.Int32
}

func (d *fakeDevice) EncodingInfo() audio.EncodingInfo { return audio.GetDefaultEncodingInfo() }

func (d *fakeDevice) StartCapture(_ context.Context, onAudio func([]byte)) error {
	d.starts.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	d.mu.Lock()
	d.onAudio = onAudio
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) StopCapture() error {
	d.mu.Lock()
	d.onAudio = nil
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Close() { d.closes.Add(1) }

func (d *fakeDevice) capturing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.onAudio != nil
}

// speak delivers one frame if the device is recording.
func (d *fakeDevice) speak(frame []byte) bool {
	d.mu.Lock()
	onAudio := d.onAudio
	d.mu.Unlock()
	if onAudio == nil {
		return false
	}
	onAudio(frame)
	return true
}

type fakeChannel struct {
	events chan transport.Event
	send   func(audio.Segment) (bool, error)

	mu   sync.Mutex
	sent []audio.Segment

	connects atomic.Int32
	closes   atomic.Int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan transport.Event, 16)}
}

func (c *fakeChannel) Connect(context.Context) error {
	c.connects.Add(1)
	c.events <- transport.Event{Kind: transport.EventOpened}
	return nil
}

func (c *fakeChannel) Send(_ context.Context, segment audio.Segment) (bool, error) {
	c.mu.Lock()
	c.sent = append(c.sent, segment)
	c.mu.Unlock()
	if c.send != nil {
		return c.send(segment)
	}
	return true, nil
}

func (c *fakeChannel) Events() <-chan transport.Event { return c.events }

func (c *fakeChannel) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type stateLog struct {
	mu     sync.Mutex
	states []SessionState
}

func (l *stateLog) record(_, to SessionState) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

func (l *stateLog) snapshot() []SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SessionState(nil), l.states...)
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func frame() []byte { return make([]byte, 320) }

func fastSegmentation() OrchestratorOption {
	return WithIntervalSegmentation(10*time.Millisecond, 1)
}

func TestTransitionTable(t *testing.T) {
	allowed := []struct{ from, to SessionState }{
		{StateIdle, StateCapturing},
		{StateCapturing, StateAwaitingResponse},
		{StateAwaitingResponse, StatePlaying},
		{StatePlaying, StateCapturing},
		{StateCapturing, StateReconnecting},
		{StateReconnecting, StateCapturing},
		{StatePlaying, StateStopped},
	}
	for _, tc := range allowed {
		if !tc.from.canTransition(tc.to) {
			t.Fatalf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	rejected := []struct{ from, to SessionState }{
		{StateIdle, StatePlaying},
		{StateReconnecting, StatePlaying},
		{StatePlaying, StateAwaitingResponse},
		{StateStopped, StateCapturing},
	}
	for _, tc := range rejected {
		if tc.from.canTransition(tc.to) {
			t.Fatalf("expected %s -> %s to be rejected", tc.from, tc.to)
		}
	}

	if StatePlaying.IsCaptureActive() || !StateCapturing.IsCaptureActive() {
		t.Fatalf("only capturing may record")
	}
}

func TestAudioURLResponsePlaysWithCaptureStopped(t *testing.T) {
	var uploads atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		w.Header().Set(request.HeaderAudioURL, "https://cdn.example/answer.mp3")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	device := &fakeDevice{}
	var played atomic.Int32
	var recordedDuringPlayback atomic.Bool
	player := playback.PlayerFunc(func(_ context.Context, payload transport.Payload) error {
		if payload.URL != "https://cdn.example/answer.mp3" {
			t.Errorf("unexpected payload %s", payload)
		}
		if device.capturing() {
			recordedDuringPlayback.Store(true)
		}
		played.Add(1)
		return nil
	})

	log := &stateLog{}
	o := NewOrchestrator(
		WithTransport(request.New(server.URL)),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithPlayer(player),
		WithDebounce(10*time.Millisecond),
		WithStateChangedCallback(log.record),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	if !device.speak(frame()) {
		t.Fatalf("expected device to be recording after start")
	}

	waitForCondition(t, 2*time.Second, func() bool {
		states := log.snapshot()
		return played.Load() == 1 && len(states) >= 4
	})

	states := log.snapshot()
	want := []SessionState{StateCapturing, StateAwaitingResponse, StatePlaying, StateCapturing}
	for i, state := range want {
		if states[i] != state {
			t.Fatalf("unexpected state sequence %v", states)
		}
	}
	if recordedDuringPlayback.Load() {
		t.Fatalf("microphone was recording during playback")
	}
	if uploads.Load() != 1 {
		t.Fatalf("expected exactly one upload, got %d", uploads.Load())
	}
	waitForCondition(t, time.Second, device.capturing)
}

func TestEmptyResponseResumesCaptureWithoutPlayback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	device := &fakeDevice{}
	var played atomic.Int32
	log := &stateLog{}
	o := NewOrchestrator(
		WithTransport(request.New(server.URL)),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithPlayer(playback.PlayerFunc(func(context.Context, transport.Payload) error {
			played.Add(1)
			return nil
		})),
		WithStateChangedCallback(log.record),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return len(log.snapshot()) >= 3 })

	states := log.snapshot()
	if states[1] != StateAwaitingResponse || states[2] != StateCapturing {
		t.Fatalf("unexpected state sequence %v", states)
	}
	if played.Load() != 0 {
		t.Fatalf("expected nothing to be played")
	}
	waitForCondition(t, time.Second, device.capturing)
}

func TestDeniedMicrophoneStopsSession(t *testing.T) {
	device := &fakeDevice{startErr: capture.ErrPermissionDenied}
	channel := newFakeChannel()
	var reported error
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		WithErrorCallback(func(err error) { reported = err }),
	)

	err := o.Start(context.Background())
	var deviceErr *capture.DeviceError
	if !errors.As(err, &deviceErr) || !errors.Is(err, capture.ErrPermissionDenied) {
		t.Fatalf("expected permission DeviceError, got %v", err)
	}
	select {
	case <-o.Done():
	case <-time.After(time.Second):
		t.Fatalf("expected session to be done")
	}
	if o.State() != StateStopped {
		t.Fatalf("expected stopped session, got %s", o.State())
	}
	if device.starts.Load() != 1 {
		t.Fatalf("expected a single acquisition attempt, got %d", device.starts.Load())
	}
	if channel.closes.Load() != 1 {
		t.Fatalf("expected transport to be released")
	}
	if !errors.As(o.Err(), &deviceErr) || !errors.As(reported, &deviceErr) {
		t.Fatalf("expected device error to be recorded and reported, got %v / %v", o.Err(), reported)
	}
}

func TestStartWithoutTransportFails(t *testing.T) {
	o := NewOrchestrator(WithCaptureDevice(&fakeDevice{}))
	if err := o.Start(context.Background()); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("expected ErrNoTransport, got %v", err)
	}
	if err := o.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestUploadFailureResumesCapture(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	channel.send = func(audio.Segment) (bool, error) {
		return false, &transport.UploadError{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway"}
	}

	var mu sync.Mutex
	var reported []error
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithErrorCallback(func(err error) {
			mu.Lock()
			reported = append(reported, err)
			mu.Unlock()
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1
	})
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing && device.capturing() })

	var uploadErr *transport.UploadError
	mu.Lock()
	if !errors.As(reported[0], &uploadErr) || uploadErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected UploadError, got %v", reported[0])
	}
	mu.Unlock()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return channel.sentCount() == 2 })
}

func TestDroppedSegmentResumesCapture(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	channel.send = func(audio.Segment) (bool, error) { return false, nil }

	var dropped atomic.Int32
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithEventHandler(func(envelope events.Envelope) {
			if envelope.Event.Kind() == events.KindSegmentDropped {
				dropped.Add(1)
			}
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return dropped.Load() == 1 })
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing })
}

func TestTransportFailureStopsSession(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	o := NewOrchestrator(WithTransport(channel), WithCaptureDevice(device), fastSegmentation())
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	channel.events <- transport.Event{
		Kind: transport.EventFailed,
		Err:  &transport.ConnectivityError{Attempts: 3, Err: errors.New("connection refused")},
	}

	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not stop after transport failure")
	}

	var connErr *transport.ConnectivityError
	if !errors.As(o.Err(), &connErr) || connErr.Attempts != 3 {
		t.Fatalf("expected ConnectivityError, got %v", o.Err())
	}
	if o.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", o.State())
	}
	if device.closes.Load() != 1 || channel.closes.Load() != 1 {
		t.Fatalf("expected device and transport to be released once")
	}
}

func TestReconnectPausesCaptureUntilOpened(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	var reconnects atomic.Int32
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithEventHandler(func(envelope events.Envelope) {
			if event, ok := envelope.Event.(events.Reconnecting); ok && event.Attempt == 1 {
				reconnects.Add(1)
			}
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	channel.events <- transport.Event{Kind: transport.EventReconnecting, Attempt: 1, Delay: time.Second}
	waitForCondition(t, time.Second, func() bool { return o.State() == StateReconnecting })
	if device.capturing() {
		t.Fatalf("expected capture to pause while reconnecting")
	}
	if reconnects.Load() != 1 {
		t.Fatalf("expected reconnecting event to be forwarded")
	}

	channel.events <- transport.Event{Kind: transport.EventOpened}
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing && device.capturing() })
}

func TestTextPayloadReachesCallback(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	texts := make(chan string, 1)
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithTextCallback(func(text string) { texts <- text }),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return o.State() == StateAwaitingResponse })

	channel.events <- transport.Event{Kind: transport.EventPayload, Payload: transport.TextPayload("hello there")}
	select {
	case text := <-texts:
		if text != "hello there" {
			t.Fatalf("unexpected text %q", text)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("text never reached the callback")
	}
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing })
}

func TestResponseTimeoutResumesCapture(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithResponseTimeout(20*time.Millisecond),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return channel.sentCount() == 1 })
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing && device.capturing() })
}

func TestStopReleasesOnceAndIgnoresLateMessages(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	var played atomic.Int32
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithPlayer(playback.PlayerFunc(func(context.Context, transport.Payload) error {
			played.Add(1)
			return nil
		})),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	o.Stop()
	o.Stop()
	<-o.Done()

	if o.State() != StateStopped || o.Err() != nil {
		t.Fatalf("expected clean stop, got %s / %v", o.State(), o.Err())
	}
	if device.closes.Load() != 1 || channel.closes.Load() != 1 {
		t.Fatalf("expected resources to be released once, got device=%d channel=%d", device.closes.Load(), channel.closes.Load())
	}

	channel.events <- transport.Event{Kind: transport.EventPayload, Payload: transport.AudioURLPayload("https://cdn.example/late.mp3")}
	o.post(playbackDone{cycle: o.cycle})
	time.Sleep(20 * time.Millisecond)
	if played.Load() != 0 || o.State() != StateStopped {
		t.Fatalf("late messages changed a stopped session")
	}
}

func TestStopFromCallbackDoesNotDeadlock(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	var o *Orchestrator
	o = NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithStateChangedCallback(func(_, to SessionState) {
			if to == StateAwaitingResponse {
				o.Stop()
			}
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	device.speak(frame())
	select {
	case <-o.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("stop from callback never completed")
	}
}

func TestEmptyUtteranceDoesNotSend(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	var captured atomic.Int32
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		WithUtteranceSegmentation(
			silence.WithQuietThreshold(10*time.Millisecond),
			silence.WithGracePeriod(10*time.Millisecond),
			silence.WithPollInterval(5*time.Millisecond),
		),
		WithEventHandler(func(envelope events.Envelope) {
			if envelope.Event.Kind() == events.KindSegmentCaptured {
				captured.Add(1)
			}
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	waitForCondition(t, 2*time.Second, func() bool { return captured.Load() >= 2 })
	if channel.sentCount() != 0 {
		t.Fatalf("expected silent utterances not to be sent, got %d", channel.sentCount())
	}
	if o.State() != StateCapturing {
		t.Fatalf("expected to keep capturing, got %s", o.State())
	}
}

func TestEventsCarrySessionAndSequence(t *testing.T) {
	device := &fakeDevice{}
	var mu sync.Mutex
	var envelopes []events.Envelope
	o := NewOrchestrator(
		WithSessionID("session-1"),
		WithTransport(newFakeChannel()),
		WithCaptureDevice(device),
		WithEventHandler(func(envelope events.Envelope) {
			mu.Lock()
			envelopes = append(envelopes, envelope)
			mu.Unlock()
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	o.Stop()
	<-o.Done()

	mu.Lock()
	defer mu.Unlock()
	if len(envelopes) < 2 {
		t.Fatalf("expected events, got %d", len(envelopes))
	}
	for i, envelope := range envelopes {
		if envelope.SessionID != "session-1" || envelope.Sequence != uint64(i+1) {
			t.Fatalf("unexpected envelope %d: %+v", i, envelope)
		}
	}
	if last := envelopes[len(envelopes)-1].Event; last.Kind() != events.KindSessionStopped {
		t.Fatalf("expected session stopped last, got %s", last.Kind())
	}
}

func TestStopFromAnotherGoroutineReleasesDuringBlockedCallback(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithStateChangedCallback(func(_, to SessionState) {
			if to == StateAwaitingResponse {
				once.Do(func() { close(entered) })
				<-unblock
			}
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer close(unblock)

	device.speak(frame())
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("callback was never entered")
	}

	stopped := make(chan struct{})
	go func() {
		o.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop blocked on a running callback")
	}

	if o.State() != StateStopped {
		t.Fatalf("expected stopped after Stop returned, got %s", o.State())
	}
	if device.closes.Load() != 1 || channel.closes.Load() != 1 {
		t.Fatalf("expected device and transport released before Stop returned, got device=%d channel=%d",
			device.closes.Load(), channel.closes.Load())
	}
	select {
	case <-o.Done():
		t.Fatalf("expected Done to wait for the blocked callback")
	default:
	}
}

func TestLateAnswerAfterTimeoutIsDiscarded(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	var played, discarded atomic.Int32
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithResponseTimeout(100*time.Millisecond),
		WithDebounce(0),
		WithPlayer(playback.PlayerFunc(func(context.Context, transport.Payload) error {
			played.Add(1)
			return nil
		})),
		WithEventHandler(func(envelope events.Envelope) {
			if envelope.Event.Kind() == events.KindPayloadDiscarded {
				discarded.Add(1)
			}
		}),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return channel.sentCount() == 1 })
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing && device.capturing() })

	channel.events <- transport.Event{Kind: transport.EventPayload, Payload: transport.AudioPayload([]byte{1, 2, 3}, "audio/mpeg")}
	waitForCondition(t, time.Second, func() bool { return discarded.Load() == 1 })
	if played.Load() != 0 || o.State() != StateCapturing {
		t.Fatalf("late answer was played: playbacks=%d state=%s", played.Load(), o.State())
	}

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return o.State() == StateAwaitingResponse })
	channel.events <- transport.Event{Kind: transport.EventPayload, Payload: transport.AudioPayload([]byte{4, 5, 6}, "audio/mpeg")}
	waitForCondition(t, 2*time.Second, func() bool { return played.Load() == 1 })
}

func TestRequestTimeoutCancelsUploadAndDropsItsAnswer(t *testing.T) {
	var uploads, inFlight, maxInFlight atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := uploads.Add(1)
		current := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}
		if n == 1 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(150 * time.Millisecond):
			}
		}
		w.Header().Set(request.HeaderAudioURL, "https://cdn.example/answer.mp3")
	}))
	defer server.Close()

	device := &fakeDevice{}
	var played atomic.Int32
	o := NewOrchestrator(
		WithTransport(request.New(server.URL)),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithResponseTimeout(20*time.Millisecond),
		WithDebounce(0),
		WithPlayer(playback.PlayerFunc(func(context.Context, transport.Payload) error {
			played.Add(1)
			return nil
		})),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return uploads.Load() == 1 })
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing && device.capturing() })

	time.Sleep(200 * time.Millisecond)
	if played.Load() != 0 {
		t.Fatalf("answer to a timed out segment was played")
	}

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return played.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if played.Load() != 1 {
		t.Fatalf("expected a single playback, got %d", played.Load())
	}
	if maxInFlight.Load() > 1 {
		t.Fatalf("expected uploads not to overlap, got %d at once", maxInFlight.Load())
	}
}

func TestUnsolicitedMediaWhileCapturingPlays(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	var played atomic.Int32
	var recordedDuringPlayback atomic.Bool
	log := &stateLog{}
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithDebounce(10*time.Millisecond),
		WithPlayer(playback.PlayerFunc(func(context.Context, transport.Payload) error {
			if device.capturing() {
				recordedDuringPlayback.Store(true)
			}
			played.Add(1)
			return nil
		})),
		WithStateChangedCallback(log.record),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	channel.events <- transport.Event{Kind: transport.EventPayload, Payload: transport.AudioPayload([]byte{1, 2, 3}, "audio/mpeg")}
	waitForCondition(t, 2*time.Second, func() bool { return played.Load() == 1 && len(log.snapshot()) >= 3 })

	states := log.snapshot()
	want := []SessionState{StateCapturing, StatePlaying, StateCapturing}
	for i, state := range want {
		if states[i] != state {
			t.Fatalf("unexpected state sequence %v", states)
		}
	}
	if recordedDuringPlayback.Load() {
		t.Fatalf("microphone was recording during playback")
	}
	if channel.sentCount() != 0 {
		t.Fatalf("expected nothing to be sent")
	}
	waitForCondition(t, time.Second, device.capturing)
}

func TestReconnectDuringPlaybackWaitsForOpen(t *testing.T) {
	device := &fakeDevice{}
	channel := newFakeChannel()
	finish := make(chan struct{})
	log := &stateLog{}
	o := NewOrchestrator(
		WithTransport(channel),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithDebounce(0),
		WithPlayer(playback.PlayerFunc(func(ctx context.Context, _ transport.Payload) error {
			select {
			case <-finish:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})),
		WithStateChangedCallback(log.record),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	defer o.Stop()

	device.speak(frame())
	waitForCondition(t, 2*time.Second, func() bool { return o.State() == StateAwaitingResponse })
	channel.events <- transport.Event{Kind: transport.EventPayload, Payload: transport.AudioPayload([]byte{1, 2, 3}, "audio/mpeg")}
	waitForCondition(t, time.Second, func() bool { return o.State() == StatePlaying })

	channel.events <- transport.Event{Kind: transport.EventReconnecting, Attempt: 1, Delay: time.Second}
	time.Sleep(20 * time.Millisecond)
	if o.State() != StatePlaying {
		t.Fatalf("expected playback to continue while reconnecting, got %s", o.State())
	}

	close(finish)
	waitForCondition(t, time.Second, func() bool { return o.State() == StateReconnecting })
	if device.capturing() {
		t.Fatalf("expected capture to stay paused until the channel reopens")
	}

	channel.events <- transport.Event{Kind: transport.EventOpened}
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing && device.capturing() })

	waitForCondition(t, time.Second, func() bool { return len(log.snapshot()) >= 5 })
	states := log.snapshot()
	tail := states[len(states)-3:]
	if tail[0] != StatePlaying || tail[1] != StateReconnecting || tail[2] != StateCapturing {
		t.Fatalf("unexpected state sequence %v", states)
	}
}

func TestSocketSessionEndToEnd(t *testing.T) {
	answer := []byte("ID3\x03\x00\x00\x00\x00\x00\x00answer")
	received := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			select {
			case received <- msg:
			default:
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, answer); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	device := &fakeDevice{}
	var played atomic.Int32
	log := &stateLog{}
	o := NewOrchestrator(
		WithTransport(socket.New("ws"+strings.TrimPrefix(server.URL, "http"))),
		WithCaptureDevice(device),
		fastSegmentation(),
		WithDebounce(10*time.Millisecond),
		WithPlayer(playback.PlayerFunc(func(_ context.Context, payload transport.Payload) error {
			if string(payload.Data) != string(answer) {
				t.Errorf("unexpected payload %s", payload)
			}
			played.Add(1)
			return nil
		})),
		WithStateChangedCallback(log.record),
	)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	// Segments are dropped until the socket is open.
	waitForCondition(t, 2*time.Second, func() bool {
		device.speak(frame())
		select {
		case msg := <-received:
			if !strings.HasPrefix(string(msg), "RIFF") {
				t.Errorf("expected a WAV segment")
			}
			return true
		default:
			return false
		}
	})
	waitForCondition(t, 2*time.Second, func() bool { return played.Load() >= 1 })
	waitForCondition(t, time.Second, func() bool { return o.State() == StateCapturing })

	waitForCondition(t, time.Second, func() bool {
		for _, state := range log.snapshot() {
			if state == StatePlaying {
				return true
			}
		}
		return false
	})

	o.Stop()
	if o.State() != StateStopped || device.closes.Load() != 1 {
		t.Fatalf("expected a clean stop")
	}
}
