package orchestration

import (
	"context"
	"time"

	"github.com/koscakluka/ema-island/core/capture"
	"github.com/koscakluka/ema-island/core/events"
	"github.com/koscakluka/ema-island/core/playback"
	"github.com/koscakluka/ema-island/core/silence"
	"github.com/koscakluka/ema-island/core/transport"
)

const DefaultDebounce = 500 * time.Millisecond

type OrchestratorOption func(*Orchestrator)

// SpeechActivityProvider reports whether the user is speaking. It receives
// every captured frame and drives the silence detector through its
// callbacks.
type SpeechActivityProvider interface {
	Start(ctx context.Context, onActivity func(silence.Activity), onListening func(bool)) error
	SendAudio(audio []byte) error
	Close() error
}

func WithTransport(channel transport.Channel) OrchestratorOption {
	return func(o *Orchestrator) { o.channel = channel }
}

func WithCaptureDevice(device capture.Device) OrchestratorOption {
	return func(o *Orchestrator) { o.device = device }
}

// WithIntervalSegmentation sends fixed slices of capture, threshold quanta at
// a time. This is the default with one second quanta and a threshold of 4.
func WithIntervalSegmentation(quantum time.Duration, threshold int) OrchestratorOption {
	return func(o *Orchestrator) {
		o.policy = capture.IntervalPolicy{Quantum: quantum, Threshold: threshold}
		o.detector = nil
	}
}

// WithUtteranceSegmentation sends one segment per utterance, ended by a
// silence detector built from opts.
func WithUtteranceSegmentation(opts ...silence.Option) OrchestratorOption {
	return func(o *Orchestrator) {
		o.detector = silence.NewDetector(opts...)
		o.policy = capture.UtterancePolicy{Boundaries: o.detector.Boundaries()}
	}
}

func WithSpeechActivity(provider SpeechActivityProvider) OrchestratorOption {
	return func(o *Orchestrator) { o.activity = provider }
}

func WithPlayer(player playback.Player) OrchestratorOption {
	return func(o *Orchestrator) { o.player = player }
}

// WithDebounce sets the pause between the end of playback and resuming
// capture.
func WithDebounce(debounce time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if debounce >= 0 {
			o.debounce = debounce
		}
	}
}

// WithResponseTimeout resumes capture when no answer arrives in time. Zero,
// the default, waits indefinitely.
func WithResponseTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout >= 0 {
			o.responseTimeout = timeout
		}
	}
}

func WithSessionID(id string) OrchestratorOption {
	return func(o *Orchestrator) {
		if id != "" {
			o.id = id
		}
	}
}

// WithEventHandler receives every session event. Handlers run on the
// session goroutine and must not block.
func WithEventHandler(handler events.Handler) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onEvent = handler }
}

func WithStateChangedCallback(callback func(from, to SessionState)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onStateChanged = callback }
}

// WithTextCallback receives text answers from the backend.
func WithTextCallback(callback func(text string)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onText = callback }
}

// WithErrorCallback receives every error the session handles, recoverable or
// not. Fatal errors are also available from Err once Done is closed.
func WithErrorCallback(callback func(err error)) OrchestratorOption {
	return func(o *Orchestrator) { o.callbacks.onError = callback }
}
