package playback

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-island/core/audio"
	"github.com/koscakluka/ema-island/core/transport"
)

type fakeOutput struct {
	encoding audio.EncodingInfo

	mu      sync.Mutex
	sent    [][]byte
	cleared int
	release chan struct{}
}

func newFakeOutput(encoding audio.EncodingInfo) *fakeOutput {
	return &fakeOutput{encoding: encoding, release: make(chan struct{})}
}

func (o *fakeOutput) EncodingInfo() audio.EncodingInfo { return o.encoding }

func (o *fakeOutput) SendAudio(chunk []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, chunk)
	return nil
}

func (o *fakeOutput) ClearBuffer() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cleared++
}

func (o *fakeOutput) AwaitMark() error {
	<-o.release
	return nil
}

func (o *fakeOutput) sentBytes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, chunk := range o.sent {
		n += len(chunk)
	}
	return n
}

func wavPayload(t *testing.T, info audio.EncodingInfo, pcmBytes int) transport.Payload {
	t.Helper()
	data, err := audio.EncodeWAV(make([]byte, pcmBytes), info)
	if err != nil {
		t.Fatalf("failed to encode wav: %v", err)
	}
	return transport.AudioPayload(data, audio.MIMEWav)
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for playback to finish")
	}
	return nil
}

func TestControllerRejectsConcurrentPlayback(t *testing.T) {
	release := make(chan struct{})
	controller := NewController(PlayerFunc(func(ctx context.Context, _ transport.Payload) error {
		<-release
		return nil
	}))

	done := make(chan error, 1)
	payload := transport.AudioURLPayload("http://x/a.wav")
	if err := controller.Play(context.Background(), payload, func(err error) { done <- err }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := controller.Play(context.Background(), payload, nil); !errors.Is(err, ErrPlaybackActive) {
		t.Fatalf("expected ErrPlaybackActive, got %v", err)
	}

	close(release)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}
	if controller.IsActive() {
		t.Fatalf("expected controller to be idle after completion")
	}
}

func TestControllerWrapsFailures(t *testing.T) {
	boom := errors.New("decoder exploded")
	controller := NewController(PlayerFunc(func(context.Context, transport.Payload) error {
		return boom
	}))

	done := make(chan error, 1)
	if err := controller.Play(context.Background(), transport.VideoURLPayload("http://x/v.mp4"), func(err error) { done <- err }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := waitDone(t, done)
	var playbackErr *PlaybackError
	if !errors.As(err, &playbackErr) {
		t.Fatalf("expected PlaybackError, got %v", err)
	}
	if playbackErr.Kind != transport.PayloadVideoURL || !errors.Is(err, boom) {
		t.Fatalf("unexpected playback error: %v", err)
	}
}

func TestControllerRejectsNonMedia(t *testing.T) {
	controller := NewController(PlayerFunc(func(context.Context, transport.Payload) error { return nil }))
	err := controller.Play(context.Background(), transport.TextPayload("hi"), nil)
	if !errors.Is(err, ErrNotMedia) {
		t.Fatalf("expected ErrNotMedia, got %v", err)
	}
}

func TestControllerStopCancelsPlayback(t *testing.T) {
	controller := NewController(PlayerFunc(func(ctx context.Context, _ transport.Payload) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	done := make(chan error, 1)
	if err := controller.Play(context.Background(), transport.AudioURLPayload("http://x/a.wav"), func(err error) { done <- err }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	controller.Stop()
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	controller.Stop()
}

func TestSpeakerPlayerPlaysWAVUntilMark(t *testing.T) {
	output := newFakeOutput(audio.GetDefaultEncodingInfo())
	player := NewSpeakerPlayer(output)

	payload := wavPayload(t, audio.GetDefaultEncodingInfo(), 3200)
	done := make(chan error, 1)
	go func() { done <- player.Play(context.Background(), payload) }()

	select {
	case err := <-done:
		t.Fatalf("playback returned before the mark was reached: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	close(output.release)
	if err := waitDone(t, done); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := output.sentBytes(); got != 3200 {
		t.Fatalf("expected 3200 bytes of pcm, got %d", got)
	}
}

func TestSpeakerPlayerDownmixesStereo(t *testing.T) {
	output := newFakeOutput(audio.GetDefaultEncodingInfo())
	close(output.release)
	player := NewSpeakerPlayer(output)

	stereo := audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingLinear16, Channels: 2}
	if err := player.Play(context.Background(), wavPayload(t, stereo, 6400)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := output.sentBytes(); got != 3200 {
		t.Fatalf("expected mono output of 3200 bytes, got %d", got)
	}
}

func TestSpeakerPlayerRejectsUnknownFormat(t *testing.T) {
	player := NewSpeakerPlayer(newFakeOutput(audio.GetDefaultEncodingInfo()))
	err := player.Play(context.Background(), transport.AudioPayload([]byte{0xff, 0xfb, 0x90}, "audio/mpeg"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestSpeakerPlayerClearsOnCancel(t *testing.T) {
	output := newFakeOutput(audio.GetDefaultEncodingInfo())
	player := NewSpeakerPlayer(output)

	ctx, cancel := context.WithCancel(context.Background())
	payload := wavPayload(t, audio.GetDefaultEncodingInfo(), 320)
	done := make(chan error, 1)
	go func() { done <- player.Play(ctx, payload) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	if err := waitDone(t, done); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	output.mu.Lock()
	cleared := output.cleared
	output.mu.Unlock()
	if cleared != 1 {
		t.Fatalf("expected buffer to be cleared once, got %d", cleared)
	}
	close(output.release)
}

func TestFetchingPlayerDownloadsAndDelegates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFF....WAVE"))
	}))
	defer server.Close()

	var got transport.Payload
	player := NewFetchingPlayer(PlayerFunc(func(_ context.Context, payload transport.Payload) error {
		got = payload
		return nil
	}))

	if err := player.Play(context.Background(), transport.AudioURLPayload(server.URL+"/a.wav")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.MIME != "audio/wav" || string(got.Data) != "RIFF....WAVE" || got.URL != "" {
		t.Fatalf("unexpected delegated payload: %+v", got)
	}
}

func TestFetchingPlayerFailsOnBadStatus(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	player := NewFetchingPlayer(PlayerFunc(func(context.Context, transport.Payload) error {
		t.Fatalf("next player should not be called")
		return nil
	}))
	if err := player.Play(context.Background(), transport.AudioURLPayload(server.URL+"/missing.wav")); err == nil {
		t.Fatalf("expected error for missing media")
	}
}

func TestRouterDispatchesByPayload(t *testing.T) {
	var calls []string
	record := func(name string) Player {
		return PlayerFunc(func(context.Context, transport.Payload) error {
			calls = append(calls, name)
			return nil
		})
	}
	router := &Router{
		Audio: PlayerFunc(func(context.Context, transport.Payload) error {
			calls = append(calls, "audio")
			return ErrUnsupportedFormat
		}),
		AudioURL: record("url"),
		Video:    record("video"),
		Fallback: record("fallback"),
	}

	ctx := context.Background()
	_ = router.Play(ctx, transport.AudioURLPayload("http://x/a.mp3"))
	_ = router.Play(ctx, transport.AudioPayload([]byte{1}, "audio/mpeg"))
	_ = router.Play(ctx, transport.VideoURLPayload("http://x/v.mp4"))

	want := []string{"url", "audio", "fallback", "video"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, calls)
		}
	}

	if err := router.Play(ctx, transport.TextPayload("hi")); !errors.Is(err, ErrNotMedia) {
		t.Fatalf("expected ErrNotMedia, got %v", err)
	}
}

func TestCommandPlayerRunsProgram(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	if err := NewCommandPlayer("true").Play(context.Background(), transport.VideoURLPayload("http://x/v.mp4")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exec.LookPath("false"); err == nil {
		if err := NewCommandPlayer("false").Play(context.Background(), transport.VideoURLPayload("http://x/v.mp4")); err == nil {
			t.Fatalf("expected failing command to report an error")
		}
	}
}
